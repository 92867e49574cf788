// Package nlsql asks an OpenAI-compatible chat completions endpoint to turn a
// question into SQL for the active table.
package nlsql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/koba/sheetql/internal/candidate"
)

// Generator turns a question into a candidate for the given table shape.
type Generator interface {
	Generate(ctx context.Context, columns []string, question string) (candidate.Candidate, error)
}

// Config configures the HTTP client.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Table   string
	Timeout time.Duration
}

// Client calls POST {BaseURL}/chat/completions.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a Client. A zero Timeout means 60 seconds.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// taggedReply is the structured answer the prompt asks for.
type taggedReply struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Generate sends the schema and question and returns the model's answer. A
// reply in the requested JSON shape is returned tagged; anything else is
// returned untagged for candidate.Resolve to classify.
func (c *Client) Generate(ctx context.Context, columns []string, question string) (candidate.Candidate, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: BuildPrompt(c.cfg.Table, columns)},
			{Role: "user", Content: question},
		},
	})
	if err != nil {
		return candidate.Candidate{}, fmt.Errorf("failed to encode request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return candidate.Candidate{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return candidate.Candidate{}, fmt.Errorf("failed to call generator: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return candidate.Candidate{}, fmt.Errorf("failed to read generator response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return candidate.Candidate{}, fmt.Errorf("failed to decode generator response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return candidate.Candidate{}, fmt.Errorf("generator returned %d: %s", resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 {
		return candidate.Candidate{}, fmt.Errorf("generator returned no choices")
	}

	content := stripFences(out.Choices[0].Message.Content)
	c.logger.Debug("generator replied",
		zap.String("model", c.cfg.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("length", len(content)),
	)
	return parseReply(content), nil
}

func parseReply(content string) candidate.Candidate {
	var reply taggedReply
	if err := json.Unmarshal([]byte(content), &reply); err == nil {
		if kind := candidate.ParseKind(reply.Kind); kind != candidate.Untagged && reply.Text != "" {
			return candidate.Candidate{Kind: kind, Text: strings.TrimSpace(reply.Text)}
		}
	}
	return candidate.Candidate{Kind: candidate.Untagged, Text: content}
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
