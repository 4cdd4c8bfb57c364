// Package state persists the deployer's only cross-run mutable state:
// the last published layer version per layer name and a record of past
// runs. It is loaded once at pipeline start and saved once at the end.
package state

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrConnectionFailed is returned when the database cannot be opened.
	ErrConnectionFailed = errors.New("state database connection failed")

	// ErrMigrationFailed is returned when schema migration fails.
	ErrMigrationFailed = errors.New("state database migration failed")

	// ErrQueryFailed is returned when a read or write fails.
	ErrQueryFailed = errors.New("state query failed")
)

// StateError wraps errors with the failing operation.
type StateError struct {
	Op      string
	Message string
	Err     error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// NewStateError creates a new StateError.
func NewStateError(op, message string, err error) *StateError {
	return &StateError{Op: op, Message: message, Err: err}
}
