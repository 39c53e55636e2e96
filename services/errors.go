package services

import "fmt"

// ValidationError rejects malformed input before any state change; safe to
// retry after correction.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// ConflictError signals an invariant violation (already-active period,
// self-referral, duplicate signup, code collision). Not retried automatically.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// NotFoundError references an entity id that does not exist.
type NotFoundError struct {
	Entity string
	ID     interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// TransientError wraps an external-source or persistence timeout; eligible
// for retry with backoff, never silently treated as zero.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...interface{}) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}
