// Package apperr defines the error kinds the engine raises or propagates.
// Callers classify failures with errors.Is against the kind sentinels or
// with IsKind, and unwrap to the transport cause with errors.As/Unwrap.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	// KindInvalidInput marks empty text, invalid weights, invalid k,
	// malformed user queries, and invalid enrichment options.
	KindInvalidInput Kind = "invalid_input"

	// KindNotFound marks an unknown library, document, chapter, or chunk id.
	KindNotFound Kind = "not_found"

	// KindInvalidConfiguration marks a missing provider, an embedding
	// dimension mismatch beyond 2x, or a weight-sum violation.
	KindInvalidConfiguration Kind = "invalid_configuration"

	// KindProviderUnavailable marks exhaustion of every configured provider.
	KindProviderUnavailable Kind = "provider_unavailable"

	// KindModelNotFound marks a requested model no provider advertises.
	KindModelNotFound Kind = "model_not_found"

	// KindTimeout marks a transport-level timeout propagated from a provider.
	KindTimeout Kind = "timeout"

	// KindRateLimited marks a provider rate limit. Never retried immediately.
	KindRateLimited Kind = "rate_limited"

	// KindConflict marks an attempt to mark a second document current for
	// the same (library, title).
	KindConflict Kind = "conflict"

	// KindPersistence wraps store I/O failures.
	KindPersistence Kind = "persistence"
)

// Error is the structured error type carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same kind, so errors.Is(err, apperr.New(kind, ""))
// and the sentinel helpers below work across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
// Returns nil when cause is nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the kind carried by err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
