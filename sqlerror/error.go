// Package sqlerror provides the structured error type shared by all WorkerSQL
// SDK packages.
//
// Every error surfaced by the API carries a machine readable code from the
// WorkerSQL schema (for example "CONNECTION_ERROR"), a human readable message,
// and an optional details map. Error implements the standard unwrapping APIs
// so callers can use errors.Is/errors.As against both the Error itself and
// whatever caused it.
package sqlerror

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes defined by the WorkerSQL schema.
const (
	CodeInvalidQuery    = "INVALID_QUERY"
	CodeConnectionError = "CONNECTION_ERROR"
	CodeTimeoutError    = "TIMEOUT_ERROR"
	CodeAuthError       = "AUTH_ERROR"
	CodePermissionError = "PERMISSION_ERROR"
	CodeResourceLimit   = "RESOURCE_LIMIT"
	CodeInternalError   = "INTERNAL_ERROR"
)

// Error is a structured WorkerSQL error.
type Error struct {
	// Code is one of the Code* constants, UPPER_SNAKE_CASE.
	Code string

	// Message is a human readable explanation.
	Message string

	// Details carries optional, structured context about the failure,
	// for example the original error and attempt count on retry exhaustion.
	Details map[string]interface{}

	// Cause is the underlying error, if any. Returned by Unwrap.
	Cause error
}

var (
	_ error = (*Error)(nil)
)

// New creates an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates an Error with the given code and message, wrapping cause.
//
// Nil cause is allowed and equivalent to New.
func Wrap(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Code)
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&sb, " (cause: %v)", e.Cause)
	}
	return sb.String()
}

// Unwrap implements helper interface for errors.Unwrap.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports code equality, so that
//
//	errors.Is(err, sqlerror.New(sqlerror.CodeTimeoutError, ""))
//
// matches any timeout error regardless of its message.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// CodeOf returns the WorkerSQL error code carried by err, or the empty string
// if err does not wrap an Error.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
