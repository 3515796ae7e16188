package dispatch

import (
	"fmt"
	"strings"

	"github.com/dukerupert/herald/internal/store"
)

// ErrNotFound is returned for notifications that do not exist or belong to
// another user.
var ErrNotFound = store.ErrNotFound

// FieldError describes one rejected request field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError rejects a request before anything is stored.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return "invalid notification request: " + strings.Join(parts, "; ")
}

// PersistenceError means the notification record could not be stored. It
// is the only failure reported after validation.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist notification: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
