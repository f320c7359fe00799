package record

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore provides in-memory record storage for tests and development.
type MemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Create persists a new record.
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("record already exists: %s", rec.ID)
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records[rec.ID] = rec.clone()
	return nil
}

// Get retrieves a record by session identifier.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, ErrRecordNotFound
	}
	return rec.clone(), nil
}

// Patch applies a partial update and returns the updated record.
func (s *MemoryStore) Patch(ctx context.Context, id string, patch Patch) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, ErrRecordNotFound
	}

	rec.Apply(patch)
	return rec.clone(), nil
}

// ListByStates returns all records whose payload state is one of the given states.
func (s *MemoryStore) ListByStates(ctx context.Context, states ...State) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Record
	for _, rec := range s.records {
		for _, st := range states {
			if rec.Payload.State == st {
				result = append(result, rec.clone())
				break
			}
		}
	}
	return result, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
