package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the settings read from SHEETQL_* environment variables.
type Config struct {
	DBPath             string
	Table              string
	RetryAttempts      int
	RetryDelay         time.Duration
	UsersFile          string
	LLMURL             string
	LLMModel           string
	LLMAPIKey          string
	LogLevel           string
	RewritePlaceholder bool
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		DBPath:        "uploaded_excel.db",
		Table:         "uploaded_data",
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		UsersFile:     "users.json",
		LLMURL:        "https://api.openai.com/v1",
		LLMModel:      "gpt-4o-mini",
		LogLevel:      "info",
	}
}

// LoadConfigFromEnv loads configuration from environment variables on top of
// Default.
func LoadConfigFromEnv() (Config, error) {
	cfg := Default()

	setString(&cfg.DBPath, "SHEETQL_DB_PATH")
	setString(&cfg.Table, "SHEETQL_TABLE")
	setString(&cfg.UsersFile, "SHEETQL_USERS_FILE")
	setString(&cfg.LLMURL, "SHEETQL_LLM_URL")
	setString(&cfg.LLMModel, "SHEETQL_LLM_MODEL")
	setString(&cfg.LLMAPIKey, "SHEETQL_LLM_API_KEY")
	setString(&cfg.LogLevel, "SHEETQL_LOG_LEVEL")

	if v := os.Getenv("SHEETQL_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("SHEETQL_RETRY_ATTEMPTS must be a positive integer, got %q", v)
		}
		cfg.RetryAttempts = n
	}

	if v := os.Getenv("SHEETQL_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("SHEETQL_RETRY_DELAY must be a duration such as 1s, got %q", v)
		}
		cfg.RetryDelay = d
	}

	if v := os.Getenv("SHEETQL_REWRITE_PLACEHOLDER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("SHEETQL_REWRITE_PLACEHOLDER must be true or false, got %q", v)
		}
		cfg.RewritePlaceholder = b
	}

	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
