package statestore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation of the Store interface.
// It is thread-safe and suitable for development, testing, and single-instance use.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*Document),
		now:  time.Now,
	}
}

// Load retrieves a document by ID. The returned document is a copy.
func (s *MemoryStore) Load(_ context.Context, id string) (*Document, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

// Save persists a copy of doc and stamps its UpdatedAt.
func (s *MemoryStore) Save(_ context.Context, doc *Document) error {
	if err := validateDocument(doc); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc.UpdatedAt = s.now()
	s.docs[doc.ID] = cloneDocument(doc)
	return nil
}

// Delete removes a document by ID.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[id]; !exists {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

// List returns document IDs matching opts.
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id, doc := range s.docs {
		if opts.Task != "" && doc.Task != opts.Task {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return paginate(ids, opts.Offset, opts.Limit), nil
}
