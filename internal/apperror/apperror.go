// Package apperror implements the error taxonomy of spec.md §7, grounded
// on original_source/api/src/error.rs's ApiError enum (the Rust original
// this spec was distilled from maps the identical set of kinds to HTTP
// statuses via an axum IntoResponse impl; this package is the idiomatic-Go
// equivalent, using a sentinel Kind plus errors.As-compatible wrapping
// instead of an enum-with-payload).
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the taxonomy entries of spec.md §7 / original_source's
// ApiError.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindRateLimited
	KindUnauthorized
	KindForbidden
	KindNotReady
	KindTimeout
	KindCompileError
	KindPayloadTooLarge
	KindStorageUnavailable
)

// Status returns the HTTP status this Kind maps to, per spec.md §7.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotReady:
		return http.StatusAccepted
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCompileError:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case KindInternal:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete error type carried through the system: a Kind plus
// a message and optional wrapped cause. httpapi translates it to a
// response; workers populate Metadata.Error from its Error() string.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf(`%s: %v`, e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given Kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given Kind, wrapping cause. If cause is
// already an *Error, its Kind is preserved over kind — wrapping never
// downgrades a more specific classification.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return New(kind, message)
	}
	var existing *Error
	if errors.As(cause, &existing) {
		kind = existing.Kind
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to KindInternal for errors
// that never went through this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusOf is a convenience wrapper around KindOf(err).Status().
func StatusOf(err error) int {
	return KindOf(err).Status()
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func RateLimited(format string, args ...any) *Error {
	return New(KindRateLimited, fmt.Sprintf(format, args...))
}

func NotReady(format string, args ...any) *Error {
	return New(KindNotReady, fmt.Sprintf(format, args...))
}

func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, fmt.Sprintf(format, args...))
}

func CompileError(format string, args ...any) *Error {
	return New(KindCompileError, fmt.Sprintf(format, args...))
}

func PayloadTooLarge(format string, args ...any) *Error {
	return New(KindPayloadTooLarge, fmt.Sprintf(format, args...))
}

func Internal(format string, args ...any) *Error {
	return New(KindInternal, fmt.Sprintf(format, args...))
}
