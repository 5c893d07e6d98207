package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/urbanmesh/urbanflow/internal/domain"
)

// StateStorage persists run state in Redis as JSON with a TTL.
type StateStorage struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewStateStorage creates a Redis run-state store.
func NewStateStorage(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StateStorage {
	return &StateStorage{client: client, logger: logger, ttl: ttl}
}

// SaveRun implements StateStorage.
func (s *StateStorage) SaveRun(ctx context.Context, state *domain.RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}
	if err := s.client.Set(ctx, runKey(state.RunID), data, s.ttl).Err(); err != nil {
		return &domain.TransientIOError{Op: "redis set", Err: err}
	}

	s.logger.Debug("run state saved",
		zap.String("run_id", state.RunID),
		zap.String("status", string(state.Status)))
	return nil
}

// GetRun implements StateStorage.
func (s *StateStorage) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	data, err := s.client.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("run state not found: %s", runID)
		}
		return nil, &domain.TransientIOError{Op: "redis get", Err: err}
	}

	var state domain.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	return &state, nil
}

// DeleteRun implements StateStorage.
func (s *StateStorage) DeleteRun(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, runKey(runID)).Err(); err != nil {
		return &domain.TransientIOError{Op: "redis del", Err: err}
	}
	return nil
}

// ListRuns scans for all persisted run IDs.
func (s *StateStorage) ListRuns(ctx context.Context) ([]string, error) {
	const prefix = "urbanflow:run:"

	var cursor uint64
	var runIDs []string
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, &domain.TransientIOError{Op: "redis scan", Err: err}
		}
		for _, key := range batch {
			if len(key) > len(prefix) {
				runIDs = append(runIDs, key[len(prefix):])
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return runIDs, nil
}

func runKey(runID string) string {
	return fmt.Sprintf("urbanflow:run:%s", runID)
}
