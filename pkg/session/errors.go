package session

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies an error returned by the session layer. Callers branch on
// the code, never on the message; the original driver error is attached as
// wrapped detail.
type Code string

const (
	// CodeNotFound means the id is absent or referred to a dead resource
	// that has been reaped.
	CodeNotFound Code = "NOT_FOUND"

	// CodeCapacityExceeded means a tier was at capacity and the eviction
	// that should have made room failed.
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"

	// CodeDriverTimeout means a driver call exceeded its deadline.
	CodeDriverTimeout Code = "DRIVER_TIMEOUT"

	// CodeDriverFailure means a driver call failed for a reason other than
	// a deadline.
	CodeDriverFailure Code = "DRIVER_FAILURE"

	// CodeInvariantViolation means the session tables are internally
	// inconsistent. Always a bug; never handled, only surfaced.
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
)

// Error is a structured session-layer error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a session error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps err with a code and message. Returns nil if err is nil.
func WrapError(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, or CodeDriverFailure if err is not a
// session error.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeDriverFailure
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsNotFound reports whether err is a NotFound session error.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

func notFound(tier, id string) *Error {
	return NewError(CodeNotFound, fmt.Sprintf("%s %q not found", tier, id))
}

func invariantViolation(format string, args ...any) *Error {
	return NewError(CodeInvariantViolation, fmt.Sprintf(format, args...))
}

// wrapDriver classifies a driver error: context deadline and cancellation map
// to DriverTimeout, everything else to DriverFailure.
func wrapDriver(op string, err error) *Error {
	if err == nil {
		return nil
	}
	code := CodeDriverFailure
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = CodeDriverTimeout
	}
	return WrapError(err, code, op+" failed")
}
