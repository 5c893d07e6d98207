package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/urbanmesh/urbanflow/internal/domain"
)

// StateStorage implements run-state storage with an in-memory map. The
// state is stored as marshalled JSON so tests exercise the same
// serialization path as the Redis adapter.
type StateStorage struct {
	mu   sync.RWMutex
	runs map[string][]byte
}

// NewStateStorage creates an empty in-memory state store.
func NewStateStorage() *StateStorage {
	return &StateStorage{runs: make(map[string][]byte)}
}

// SaveRun implements StateStorage.
func (s *StateStorage) SaveRun(ctx context.Context, state *domain.RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[state.RunID] = data
	return nil
}

// GetRun implements StateStorage.
func (s *StateStorage) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	s.mu.RLock()
	data, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("run state not found: %s", runID)
	}

	var state domain.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	return &state, nil
}

// DeleteRun implements StateStorage.
func (s *StateStorage) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

// ListRuns implements StateStorage.
func (s *StateStorage) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runIDs := make([]string, 0, len(s.runs))
	for id := range s.runs {
		runIDs = append(runIDs, id)
	}
	return runIDs, nil
}
