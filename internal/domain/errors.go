package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an entry has no matching version. Callers map
// it to a 404-equivalent; the engine raises it before any mutation begins.
var ErrNotFound = errors.New("entry not found")

// ValidationError rejects malformed input before any storage write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConflictError rejects a write that would violate a business rule, such as
// overlapping assignment windows for the same user.
type ConflictError struct {
	Kind   Kind
	Entry  int64
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Kind, e.Reason)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
