// Package store persists deployment state, audit events, and rollback
// history in SQLite.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrConnectionFailed is returned when the database cannot be opened.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrMigrationFailed is returned when schema migration fails.
	ErrMigrationFailed = errors.New("database migration failed")

	// ErrInvalidData is returned when JSON serialization fails.
	ErrInvalidData = errors.New("invalid data format")
)

// StoreError wraps storage errors with operation context.
type StoreError struct {
	Op      string // operation that failed, e.g. "SaveState"
	ID      string // record ID if applicable
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError.
func NewStoreError(op, id, message string, err error) *StoreError {
	return &StoreError{Op: op, ID: id, Message: message, Err: err}
}
