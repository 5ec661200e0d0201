package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPrecondition marks failures detected before any store interaction.
	ErrPrecondition = errors.New("import precondition failed")

	// ErrNoRows is returned when the file has no data rows.
	ErrNoRows = fmt.Errorf("%w: file contains no data rows", ErrPrecondition)

	// ErrNoValidRows is returned when foreign-key filtering leaves nothing to commit.
	ErrNoValidRows = errors.New("no valid rows remain after matching against parent records")

	// ErrUnknownEntity is returned for an entity key missing from the registry.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrNoStore is returned when a commit is attempted without a store.
	ErrNoStore = errors.New("no store configured")

	// ErrImportNotFound is returned for an import ID that is unknown or expired.
	ErrImportNotFound = errors.New("import not found")
)

// MissingFieldsError reports required fields that no header maps to.
type MissingFieldsError struct {
	Entity string
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required column(s) for %s: %s", e.Entity, strings.Join(e.Fields, ", "))
}

// Unwrap lets errors.Is match ErrPrecondition.
func (e *MissingFieldsError) Unwrap() error { return ErrPrecondition }

// CommitError describes the batch that stopped an import.
type CommitError struct {
	Batch   int // Zero-based batch index
	Records int // Records in the failed batch
	Err     error
}

func (e *CommitError) Error() string {
	return e.Err.Error()
}

func (e *CommitError) Unwrap() error { return e.Err }
