package model

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a pool item or delivery does not exist.
	ErrNotFound = errors.New("not found")

	// ErrImmutableRecord is returned on attempts to delete an assigned pool item
	// or to rewrite a delivered record.
	ErrImmutableRecord = errors.New("record is immutable")

	// ErrForbidden is returned when the caller does not own the record.
	ErrForbidden = errors.New("forbidden")

	// ErrPoolEmpty means no available item matched the claim scope.
	ErrPoolEmpty = errors.New("no available pool item")

	// ErrClaimConflict is a transient storage conflict during a claim. Retryable.
	ErrClaimConflict = errors.New("claim conflict")

	// ErrDuplicateOrder means another claim already delivered for the order.
	ErrDuplicateOrder = errors.New("order already delivered")
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for malformed add or import payloads.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

// NewValidationError builds a ValidationError.
func NewValidationError(message string, fields ...FieldError) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
