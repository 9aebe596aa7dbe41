// Package errors provides structured error types for panelsync.
//
// Every failure that crosses a package boundary carries a machine-readable
// [Code] so the layout lifecycle can translate it into view state without
// string matching:
//   - TRANSPORT_ERROR: the remote store or push channel is unreachable (retryable)
//   - NOT_FOUND: the project or panel does not exist (terminal for that operation)
//   - CONFLICT: the remote store rejected a write made against a stale revision
//   - VALIDATION_ERROR: a malformed panel record
//
// # Usage
//
//	err := errors.New(errors.ErrCodeNotFound, "project %s not found", id)
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // show the "no such project" state
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeTransport, origErr, "fetch layout %s", id)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeValidation   Code = "VALIDATION_ERROR"
	ErrCodeInvalidInput Code = "INVALID_INPUT"

	// Resource errors
	ErrCodeNotFound Code = "NOT_FOUND"
	ErrCodeConflict Code = "CONFLICT"

	// Transport errors
	ErrCodeTransport Code = "TRANSPORT_ERROR"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// Only the outermost *Error in the chain is considered, so
// Wrap(ErrCodeTransport, New(ErrCodeNotFound, ...)) is a transport error.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsRetryable reports whether the operation that produced err may succeed
// when repeated unchanged. Only transport failures qualify.
func IsRetryable(err error) bool {
	return Is(err, ErrCodeTransport)
}

// IsTerminal reports whether err is a not-found failure. Retrying the same
// operation against the same project cannot succeed.
func IsTerminal(err error) bool {
	return Is(err, ErrCodeNotFound)
}
