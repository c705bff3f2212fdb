package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrProductNotFound is returned when a barcode is absent locally and every
// provider in the chain failed or reported it absent. Handlers surface it as
// a distinct "not found, contribute?" signal rather than a generic failure.
var ErrProductNotFound = errors.New("product not found")

// ValidationError carries field-level detail for a malformed or conflicting
// submission.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return fmt.Sprintf("invalid submission (%s)", strings.Join(parts, "; "))
}

// newValidationError builds a single-field validation error.
func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
