// Package apperr defines the user-facing failure taxonomy shared by the
// catalog, builder, guard, executor and candidate validator.
//
// Input-contract and guard failures are produced before any store access.
// Store failures are produced by the executor and travel as data inside a
// result rather than as panics.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindSchemaUnavailable    Kind = "schema_unavailable"
	KindEmptyFilterSet       Kind = "empty_filter_set"
	KindEmptyUpdateSet       Kind = "empty_update_set"
	KindNoColumns            Kind = "no_columns"
	KindUnknownColumn        Kind = "unknown_column"
	KindNoMatchingRecord     Kind = "no_matching_record"
	KindWrongTableReference  Kind = "wrong_table_reference"
	KindForbiddenStatement   Kind = "forbidden_statement"
	KindTransientLockTimeout Kind = "transient_lock_timeout"
	KindExecution            Kind = "execution_error"
	KindPermissionDenied     Kind = "permission_denied"
	KindInvalidCredentials   Kind = "invalid_credentials"
)

// Sentinels for errors.Is matching. Every *Error matches the sentinel of its
// own Kind.
var (
	ErrSchemaUnavailable    = &Error{Kind: KindSchemaUnavailable}
	ErrEmptyFilterSet       = &Error{Kind: KindEmptyFilterSet}
	ErrEmptyUpdateSet       = &Error{Kind: KindEmptyUpdateSet}
	ErrNoColumns            = &Error{Kind: KindNoColumns}
	ErrUnknownColumn        = &Error{Kind: KindUnknownColumn}
	ErrNoMatchingRecord     = &Error{Kind: KindNoMatchingRecord}
	ErrWrongTableReference  = &Error{Kind: KindWrongTableReference}
	ErrForbiddenStatement   = &Error{Kind: KindForbiddenStatement}
	ErrTransientLockTimeout = &Error{Kind: KindTransientLockTimeout}
	ErrExecution            = &Error{Kind: KindExecution}
	ErrPermissionDenied     = &Error{Kind: KindPermissionDenied}
	ErrInvalidCredentials   = &Error{Kind: KindInvalidCredentials}
)

// Error is a classified failure with a message suitable for display.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// New returns an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping cause. The message of
// cause is passed through verbatim when msg is empty.
func Wrap(kind Kind, cause error, msg string) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or the empty
// Kind when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
