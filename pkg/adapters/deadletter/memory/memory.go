package memory

import (
	"context"
	"sync"

	"github.com/urbanmesh/urbanflow/internal/domain"
)

// Store implements DeadLetterStore in memory. For testing and local runs
// where durability across restarts is not required.
type Store struct {
	mu    sync.RWMutex
	items []domain.DeadLetter
}

// NewStore creates an empty in-memory dead-letter store.
func NewStore() *Store {
	return &Store{}
}

// Record implements DeadLetterStore.
func (s *Store) Record(ctx context.Context, item domain.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

// List implements DeadLetterStore.
func (s *Store) List(ctx context.Context, runID string) ([]domain.DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.DeadLetter
	for _, item := range s.items {
		if runID == "" || item.RunID == runID {
			out = append(out, item)
		}
	}
	return out, nil
}

// Len returns the total number of recorded items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
