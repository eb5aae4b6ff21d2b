package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrSlotConflict      = errors.New("slot conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrTokenMismatch     = errors.New("token mismatch")

	// ErrSlotUnavailable is returned when the requested start is not on the
	// current grid. Callers handle it exactly like a lost race.
	ErrSlotUnavailable = fmt.Errorf("%w: slot is not available", ErrSlotConflict)
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
