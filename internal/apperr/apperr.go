// Package apperr defines the error-kind taxonomy used across the control
// plane, mapped to HTTP status codes at the Control API edge.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error classes from the control plane's error taxonomy.
type Kind string

const (
	KindUnauthenticated        Kind = "unauthenticated"
	KindForbidden              Kind = "forbidden"
	KindBadInput               Kind = "bad_input"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindTemporarilyUnavailable Kind = "temporarily_unavailable"
	KindInternal               Kind = "internal"
)

// HTTPStatus returns the status code a Kind maps to.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed application error carrying a Kind, a caller-facing
// message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, defaulting to KindInternal otherwise.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Common reusable sentinel-style constructors for the precondition failures
// named explicitly in the admission flow (spec errors that tests assert on
// by name).
func QuotaExhausted() *Error { return New(KindForbidden, "quota_exhausted") }
func QueueFull() *Error      { return New(KindForbidden, "queue_full") }
func Duplicate() *Error      { return New(KindForbidden, "duplicate") }
func TooLong() *Error        { return New(KindBadInput, "too_long") }
func BadInput(msg string) *Error { return New(KindBadInput, msg) }
