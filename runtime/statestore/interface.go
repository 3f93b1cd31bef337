// Package statestore persists annotated documents between sessions.
package statestore

import (
	"context"
	"errors"
)

// Store defines the interface for document storage.
type Store interface {
	// Load retrieves a stored document by ID.
	Load(ctx context.Context, id string) (*Document, error)

	// Save persists a document, replacing any previous version.
	Save(ctx context.Context, doc *Document) error

	// Delete removes a document. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// List returns stored document IDs, sorted, subject to opts.
	List(ctx context.Context, opts ListOptions) ([]string, error)
}

// ListOptions provides filtering and pagination options for listing documents.
type ListOptions struct {
	// Task restricts the listing to documents of one task. Empty lists all.
	Task string

	// Limit is the maximum number of IDs to return. 0 applies defaultListLimit.
	Limit int

	// Offset is the number of IDs to skip.
	Offset int
}

// ErrNotFound is returned when a document doesn't exist in the store.
var ErrNotFound = errors.New("document not found")

// ErrInvalidID is returned when an empty document ID is provided.
var ErrInvalidID = errors.New("invalid document ID")

// ErrInvalidDocument is returned when a nil document or one without data is saved.
var ErrInvalidDocument = errors.New("invalid document")
