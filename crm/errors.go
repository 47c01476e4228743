/*
errors.go - Centralized error types for the pipeline engine

PURPOSE:
  All error kinds in one place so callers can tell them apart without
  string matching. Every structured error unwraps to a sentinel.

ERROR CATEGORIES:
  1. NotFoundError     - A referenced id is absent
  2. InvalidStateError - The transition is not legal from the current state
  3. ValidationError   - Input breaks one or more field or cross-field rules
  4. PreconditionError - A cascade's source entity is not ready

USAGE:
  if errors.Is(err, crm.ErrInvalidState) { ... }

  var verr *crm.ValidationError
  if errors.As(err, &verr) {
      for _, msg := range verr.Problems { ... }
  }

SEE ALSO:
  - ledger.go: Produces ValidationError
  - api/handlers.go: Maps error kinds to HTTP status codes
*/
package crm

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when a transition is not legal from the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation is returned when input violates a field-level or cross-field rule.
	ErrValidation = errors.New("validation failed")

	// ErrPrecondition is returned when a cascading operation's source is not ready.
	ErrPrecondition = errors.New("precondition failed")

	// ErrRecordNotFound is the store-level miss. Services translate it to NotFoundError.
	ErrRecordNotFound = errors.New("record not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing entity.
type NotFoundError struct {
	Type EntityType
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Type, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError describes a rejected transition.
type InvalidStateError struct {
	Type    EntityType
	ID      string
	State   string
	Message string
}

func (e *InvalidStateError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("%s %s: %s", e.Type, e.ID, e.Message)
	}
	return fmt.Sprintf("%s %s (state %s): %s", e.Type, e.ID, e.State, e.Message)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ValidationError carries every violated rule, not just the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add records a violated rule.
func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// OrNil returns e when it has problems, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

// NewValidationError builds a ValidationError from one or more messages.
func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

// PreconditionError reports a cascade source that fails a readiness check.
// It also matches ErrInvalidState: the source is in a state the cascade
// cannot start from.
type PreconditionError struct {
	Type    EntityType
	ID      string
	Message string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Type, e.ID, e.Message)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

func (e *PreconditionError) Is(target error) bool { return target == ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to the request, not the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPrecondition)
}

func notFound(t EntityType, id string) error {
	return &NotFoundError{Type: t, ID: id}
}

// InvalidState builds an InvalidStateError.
func InvalidState(t EntityType, id, state, format string, args ...any) error {
	return &InvalidStateError{Type: t, ID: id, State: state, Message: fmt.Sprintf(format, args...)}
}
