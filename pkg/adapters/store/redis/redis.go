// Package redis implements the cache StoreAdapter on Redis. Entities are
// stored as JSON under a namespaced key with a TTL; merges happen
// client-side with a read-merge-write, acceptable because the cache is a
// convergent last-writer-wins replica, not the source of truth.
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

// Store implements StoreAdapter using Redis.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewStore creates a Redis-backed entity cache.
func NewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger, ttl: ttl}
}

// Name implements StoreAdapter.
func (s *Store) Name() string { return "redis-cache" }

// Upsert merges the entity into the cached copy. Stale versions are
// discarded so repeated publishes converge on the same state.
func (s *Store) Upsert(ctx context.Context, entity *domain.Entity) error {
	key := entityKey(entity.ID)

	merged := entity
	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var existing domain.Entity
		if jerr := json.Unmarshal(data, &existing); jerr != nil {
			// Unreadable cache entry, overwrite it.
			s.logger.Warn("replacing corrupt cache entry",
				zap.String("entity_id", entity.ID),
				zap.Error(jerr))
		} else {
			if entity.Version < existing.Version {
				return nil
			}
			if merr := existing.Merge(entity); merr != nil {
				return merr
			}
			merged = &existing
		}
	case errors.Is(err, redis.Nil):
		// First write for this entity.
	default:
		return &domain.TransientIOError{Op: "redis get", Err: err}
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return &domain.TransientIOError{Op: "redis set", Err: err}
	}

	s.logger.Debug("entity cached",
		zap.String("entity_id", entity.ID),
		zap.Int64("version", merged.Version))
	return nil
}

// Delete implements StoreAdapter.
func (s *Store) Delete(ctx context.Context, entityID string) error {
	if err := s.client.Del(ctx, entityKey(entityID)).Err(); err != nil {
		return &domain.TransientIOError{Op: "redis del", Err: err}
	}
	return nil
}

func entityKey(entityID string) string {
	return fmt.Sprintf("urbanflow:entity:%s", entityID)
}
