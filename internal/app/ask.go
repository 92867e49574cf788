package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/koba/sheetql/internal/auth"
	"github.com/koba/sheetql/internal/candidate"
	"github.com/koba/sheetql/internal/catalog"
	"github.com/koba/sheetql/internal/executor"
)

// Answer is the outcome of a question. Text holds the refusal or yes/no
// reply, or the SQL that was run. Result is set only for executed queries.
type Answer struct {
	Kind   candidate.Kind
	Text   string
	Result *executor.Result
}

// RunGeneratedQuery asks the generator to answer question against the live
// schema, then shows, rejects or executes what comes back.
func (s *Service) RunGeneratedQuery(ctx context.Context, sess *auth.Session, question string) (*Answer, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if s.gen == nil {
		return nil, fmt.Errorf("no query generator configured")
	}

	columns, err := catalog.Columns(ctx, s.db, s.table)
	if err != nil {
		return nil, err
	}

	c, err := s.gen.Generate(ctx, columns, question)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query: %w", err)
	}
	s.logger.Info("query generated",
		zap.String("user", sess.Username),
		zap.Uint64("schema", catalog.Fingerprint(columns)),
		zap.Stringer("kind", c.Kind),
		zap.String("text", c.Text),
	)
	return s.RunCandidate(ctx, sess, c)
}

// RunCandidate resolves c and executes it when it is SQL that passes
// validation. Sessions without the admin role may only read.
func (s *Service) RunCandidate(ctx context.Context, sess *auth.Session, c candidate.Candidate) (*Answer, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}

	c = candidate.Resolve(c)
	ans := &Answer{Kind: c.Kind, Text: c.Text}
	if c.Kind != candidate.Executable {
		return ans, nil
	}

	st, err := s.validator.Check(c, !sess.IsAdmin())
	if err != nil {
		s.logger.Warn("generated query rejected",
			zap.String("user", sess.Username),
			zap.String("sql", c.Text),
			zap.Error(err),
		)
		return ans, err
	}
	ans.Text = st.SQL

	ans.Result = s.exec.Execute(ctx, s.db, st)
	if !ans.Result.OK() {
		return ans, ans.Result.Err
	}
	return ans, nil
}
