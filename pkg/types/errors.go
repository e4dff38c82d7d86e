package types

import (
	"errors"
	"fmt"
)

// ErrMutationPending is returned when a mutation is dispatched for an entity
// that already has an unsettled mutation of the same kind. The duplicate is
// rejected, never queued or run concurrently.
var ErrMutationPending = errors.New("mutation already pending for this entity")

// NetworkError wraps a transient transport failure. Idempotent list reads may
// retry it with backoff; mutation calls never do.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError reports malformed filter or mutation input. It is surfaced
// immediately and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthRequiredError is a precondition failure raised before any cache state
// or pending flag is touched.
type AuthRequiredError struct {
	Kind Kind
}

func (e *AuthRequiredError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("authentication required for %s mutation", e.Kind)
	}
	return "authentication required"
}

// ConflictError reports a mutation the server rejected after the optimistic
// apply already succeeded locally. It triggers the same rollback path as a
// network failure.
type ConflictError struct {
	Kind     Kind
	EntityID string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s mutation for %q rejected by server: %s", e.Kind, e.EntityID, e.Reason)
}

// IsNetwork reports whether err is or wraps a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAuthRequired reports whether err is or wraps an AuthRequiredError.
func IsAuthRequired(err error) bool {
	var ae *AuthRequiredError
	return errors.As(err, &ae)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
