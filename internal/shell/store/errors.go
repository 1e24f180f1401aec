// Package store persists the control plane's records: environments, build
// packs, applications and their deployment histories.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID is returned when a create collides with an existing
	// record. Application identifiers and environment names are primary
	// keys, so a collision means the caller is re-submitting something
	// already registered.
	ErrDuplicateID = errors.New("record already registered")

	// ErrConnectionFailed is returned when the database cannot be opened.
	ErrConnectionFailed = errors.New("cannot open database")

	// ErrMigrationFailed is returned when applying schema migrations fails.
	ErrMigrationFailed = errors.New("schema migration failed")

	// ErrInvalidData is returned when a nested document column (vars,
	// resources, events) cannot be encoded or decoded.
	ErrInvalidData = errors.New("malformed document column")

	// ErrTxFailed is returned when a transaction cannot complete.
	ErrTxFailed = errors.New("transaction failed")
)

// StoreError carries the operation, the record kind and its key alongside
// the underlying cause.
type StoreError struct {
	Op      string // e.g. "CreateApplication"
	Entity  string // e.g. "application", "deployment"
	ID      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
