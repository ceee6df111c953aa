// Package terrors defines the structured error type used across Tessera.
// Every failure a component can surface maps onto one Kind; callers branch
// on Kind rather than string matching.
package terrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind string

const (
	// KindTransport is a network failure or timeout in the fetcher.
	KindTransport Kind = "transport"
	// KindParse means the HTML tree could not be built.
	KindParse Kind = "parse"
	// KindValidation means an input (usually a URL) failed validation.
	KindValidation Kind = "validation"
	// KindStorage is a database I/O or constraint failure.
	KindStorage Kind = "storage"
	// KindService means an external embedding/chat service misbehaved.
	KindService Kind = "service"
	// KindConfig is a missing or invalid configuration value.
	KindConfig Kind = "config"
	// KindCancelled is an operator-initiated stop. Not a real failure.
	KindCancelled Kind = "cancelled"
)

// Error is the structured error type for Tessera.
type Error struct {
	// Kind is the taxonomy class of this error.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates the operation may succeed if retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by Kind, enabling errors.Is with sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryableKind(kind)}
}

// Wrap creates an error of the given kind around an existing error.
// Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err, Retryable: retryableKind(kind)}
}

// Transport creates a transport error (retryable).
func Transport(message string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: message, Cause: cause, Retryable: true}
}

// Parse creates a parse error.
func Parse(message string, cause error) *Error {
	return &Error{Kind: KindParse, Message: message, Cause: cause}
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Storage creates a storage error.
func Storage(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: message, Cause: cause}
}

// Service creates a service error (retryable).
func Service(message string, cause error) *Error {
	return &Error{Kind: KindService, Message: message, Cause: cause, Retryable: true}
}

// Config creates a configuration error.
func Config(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

// Cancelled creates a cancellation marker.
func Cancelled(message string) *Error {
	return &Error{Kind: KindCancelled, Message: message}
}

// retryableKind reports whether errors of this kind default to retryable.
func retryableKind(kind Kind) bool {
	return kind == KindTransport || kind == KindService
}

// KindOf extracts the Kind from an error chain.
// Returns "" if no *Error is present.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// IsRetryable reports whether the error is marked retryable.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}
