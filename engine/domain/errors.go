package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrEmptyDocument   = errors.New("document is empty")
	ErrEmptyQuery      = errors.New("query is empty")
	ErrEmptyFilter     = errors.New("filter is empty")
	ErrBadChunkSize    = errors.New("chunk size must be positive")
	ErrOverlapTooLarge = errors.New("chunk overlap must be smaller than chunk size")
	ErrBadWeights      = errors.New("search weights must not be negative")
)

// ValidationError wraps a sentinel with context. Validation failures are
// rejected locally and never retried.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// UnavailableError marks a dependency (embedding provider, vector store) as
// unreachable. Callers may back off and retry; a zero-result response never
// produces this error.
type UnavailableError struct {
	Service string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Retryable always reports true for availability failures.
func (e *UnavailableError) Retryable() bool { return true }

// Unavailable wraps err as a retryable availability failure for service.
func Unavailable(service string, err error) *UnavailableError {
	return &UnavailableError{Service: service, Err: err}
}

// IsRetryable reports whether err (or anything it wraps) is flagged retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
