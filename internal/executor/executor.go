// Package executor runs statements against the store with a bounded retry on
// transient lock contention.
//
// The policy is a fixed number of attempts separated by a fixed delay, with
// no growth and no jitter. Any error other than a lock, or running out of
// attempts, ends the call and is returned inside the Result.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/schema"
	"github.com/koba/sheetql/internal/statement"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// Conn is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Executor runs statements with the retry policy.
type Executor struct {
	attempts int
	delay    time.Duration
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithAttempts sets the retry budget. Values below 1 are ignored.
func WithAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.attempts = n
		}
	}
}

// WithDelay sets the fixed wait between attempts.
func WithDelay(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Executor with the default budget of 3 attempts one second
// apart.
func New(opts ...Option) *Executor {
	e := &Executor{
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
		logger:   zap.NewNop(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs st on conn and materializes every row. Mutating statements
// report rows affected instead of rows.
func (e *Executor) Execute(ctx context.Context, conn Conn, st statement.Statement) *Result {
	var res *Result
	err := e.Retry(ctx, func() error {
		var err error
		if st.Mutates {
			res, err = execute(ctx, conn, st)
		} else {
			res, err = query(ctx, conn, st)
		}
		return err
	})
	if err != nil {
		e.logger.Warn("statement failed",
			zap.String("sql", st.SQL),
			zap.Error(err),
		)
		return Failed(Classify(err))
	}
	return res
}

// Retry calls fn until it succeeds, fails with a non-lock error or the budget
// is spent. A spent budget yields apperr.ErrTransientLockTimeout; other errors
// are returned unchanged.
func (e *Executor) Retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsLocked(err) {
			return err
		}
		if attempt == e.attempts {
			break
		}
		e.logger.Debug("store locked, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", e.delay),
		)
		if serr := e.sleep(ctx, e.delay); serr != nil {
			return fmt.Errorf("retry interrupted: %w", serr)
		}
	}
	return apperr.Wrap(apperr.KindTransientLockTimeout, err,
		fmt.Sprintf("store still locked after %d attempts: %v", e.attempts, err))
}

// IsLocked reports whether err is a transient lock condition.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Classify turns any error into an *apperr.Error. Already classified errors
// keep their kind; everything else is an execution error carrying the
// original message.
func Classify(err error) *apperr.Error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Wrap(apperr.KindExecution, err, "")
}

func query(ctx context.Context, conn Conn, st statement.Statement) (*Result, error) {
	rows, err := conn.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	res := &Result{Columns: columns, Rows: []schema.Row{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(schema.Row, len(columns))
		for i, val := range values {
			if b, ok := val.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = val
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func execute(ctx context.Context, conn Conn, st statement.Statement) (*Result, error) {
	r, err := conn.ExecContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	n, err := r.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return &Result{Columns: []string{}, Rows: []schema.Row{}, RowsAffected: n}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
