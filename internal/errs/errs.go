// Package errs defines the error taxonomy of the attribution engine.
//
// None of these errors are fatal to the user's git workflow. Callers map them
// to degraded attribution: NotFound and Corrupt read as "unattributed",
// Conflict triggers a recomputation, BudgetExceeded keeps partial results.
package errs

import (
	"errors"
	"fmt"
)

// Code classifies an attribution engine failure.
type Code string

const (
	CodeNotFound       Code = "not_found"
	CodeConflict       Code = "conflict"
	CodeCorrupt        Code = "corrupt"
	CodeBudgetExceeded Code = "budget_exceeded"
)

// Sentinels for errors.Is.
var (
	ErrNotFound       = &Error{Code: CodeNotFound}
	ErrConflict       = &Error{Code: CodeConflict}
	ErrCorrupt        = &Error{Code: CodeCorrupt}
	ErrBudgetExceeded = &Error{Code: CodeBudgetExceeded}

	// ErrNoAttribution is returned by blame when no commit on the file's
	// history carries attribution data. It is distinct from a result in
	// which every line is human-authored.
	ErrNoAttribution = errors.New("no attribution data available")
)

// Error is a coded error with the operation that produced it.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// works regardless of Op and wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a coded error for op.
func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// NotFound creates a NotFound error.
func NotFound(op string, err error) *Error { return New(CodeNotFound, op, err) }

// Conflict creates a Conflict error.
func Conflict(op string, err error) *Error { return New(CodeConflict, op, err) }

// Corrupt creates a Corrupt error.
func Corrupt(op string, err error) *Error { return New(CodeCorrupt, op, err) }

// BudgetExceeded creates a BudgetExceeded error.
func BudgetExceeded(op string, err error) *Error { return New(CodeBudgetExceeded, op, err) }

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
