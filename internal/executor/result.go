package executor

import (
	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/schema"
)

// Result is a fully materialized query outcome: either a table of rows or a
// terminal error. Callers check Err rather than expecting a Go error.
type Result struct {
	Columns      []string
	Rows         []schema.Row
	RowsAffected int64
	Err          *apperr.Error
}

// Failed wraps err into an error Result.
func Failed(err *apperr.Error) *Result {
	return &Result{Err: err}
}

// OK reports whether the statement ran successfully.
func (r *Result) OK() bool {
	return r.Err == nil
}

// Empty reports a successful result with no rows. That is a valid outcome,
// distinct from an error.
func (r *Result) Empty() bool {
	return r.Err == nil && len(r.Rows) == 0
}

// Kind returns the error kind, or "" on success.
func (r *Result) Kind() apperr.Kind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}
