// Package apperr defines the error kinds the HTTP surface maps to status
// codes: validation (400, field-keyed), not found (404), conflict (409),
// and a catch-all internal error (5xx). Built around a sentinel-error
// pattern, extended with a field-keyed ValidationError and an
// AmbiguousLookup case for non-unique id-or-name lookups.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no entity matches the given id or lookup
// value. Callers check it with errors.Is.
var ErrNotFound = errors.New("entity not found")

// ErrConflict is returned for state-machine violations (handle on a
// non-pending job, complete/fail on a non-running job).
var ErrConflict = errors.New("conflict")

// ErrAmbiguousLookup is returned when a non-id lookup value matches more
// than one entity and the caller required a single result.
var ErrAmbiguousLookup = errors.New("ambiguous lookup")

// ValidationError carries one or more field-keyed messages, matching the
// wire shape {"field": ["message", ...]} used for 400 responses.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Fields)
}

// NewValidation builds a ValidationError with a single field/message pair.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {message}}}
}

// Add appends message to field's list, creating the map/slice if needed.
// Useful for accumulating multiple violations before returning.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// HasErrors reports whether any field violation has been recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// AsValidation unwraps err into a *ValidationError, if it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
