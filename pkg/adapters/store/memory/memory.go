package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/urbanmesh/urbanflow/internal/domain"
)

// Store implements StoreAdapter with an in-memory map. Used in tests and
// local single-process runs.
type Store struct {
	name     string
	mu       sync.RWMutex
	entities map[string]*domain.Entity

	// FailFunc, when set, is consulted before every write so tests can
	// inject store failures.
	FailFunc func(op string, entityID string) error
}

// NewStore creates an empty in-memory store.
func NewStore(name string) *Store {
	return &Store{
		name:     name,
		entities: make(map[string]*domain.Entity),
	}
}

// Name implements StoreAdapter.
func (s *Store) Name() string { return s.name }

// Upsert merges the entity into the store. A stale version (lower than
// the stored one) is accepted and discarded, keeping the call idempotent.
func (s *Store) Upsert(ctx context.Context, entity *domain.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailFunc != nil {
		if err := s.FailFunc("upsert", entity.ID); err != nil {
			return err
		}
	}
	if entity.ID == "" {
		return &domain.ValidationError{Field: "id", Reason: "entity id is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entities[entity.ID]
	if !ok {
		s.entities[entity.ID] = entity.Clone()
		return nil
	}
	if entity.Version < existing.Version {
		// Older copy, nothing to apply.
		return nil
	}
	return existing.Merge(entity)
}

// Delete implements StoreAdapter.
func (s *Store) Delete(ctx context.Context, entityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailFunc != nil {
		if err := s.FailFunc("delete", entityID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, entityID)
	return nil
}

// Get returns a copy of the stored entity.
func (s *Store) Get(entityID string) (*domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[entityID]
	if !ok {
		return nil, fmt.Errorf("entity not found: %s", entityID)
	}
	return e.Clone(), nil
}

// Len returns the number of stored entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}
