// Package nats implements the graph-ingest StoreAdapter. Entities are
// flattened into triples and published to a NATS subject consumed by the
// downstream triple store; a tombstone message propagates deletes. The
// downstream consumer applies version-based last-writer-wins.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/urbanmesh/urbanflow/internal/domain"
)

// Triple is one subject-predicate-object statement derived from an
// entity attribute.
type Triple struct {
	Subject   string      `json:"subject"`
	Predicate string      `json:"predicate"`
	Object    interface{} `json:"object"`
	Kind      string      `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
}

// IngestMessage is the wire format published to the graph subject.
type IngestMessage struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Version   int64     `json:"version"`
	Deleted   bool      `json:"deleted,omitempty"`
	Triples   []Triple  `json:"triples,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store implements StoreAdapter by publishing to NATS.
type Store struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewStore creates a NATS graph-ingest adapter.
func NewStore(conn *nats.Conn, subject string, logger *zap.Logger) *Store {
	return &Store{conn: conn, subject: subject, logger: logger}
}

// Name implements StoreAdapter.
func (s *Store) Name() string { return "nats-graph" }

// Upsert publishes the entity's triples. Publishing the same version
// twice is harmless: the consumer deduplicates on (id, version).
func (s *Store) Upsert(ctx context.Context, entity *domain.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := IngestMessage{
		ID:        entity.ID,
		Type:      entity.Type,
		Version:   entity.Version,
		Triples:   entityTriples(entity),
		UpdatedAt: entity.LastModified,
	}
	return s.publish(msg)
}

// Delete publishes a tombstone for the entity.
func (s *Store) Delete(ctx context.Context, entityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.publish(IngestMessage{
		ID:        entityID,
		Deleted:   true,
		UpdatedAt: time.Now(),
	})
}

func (s *Store) publish(msg IngestMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal ingest message: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return &domain.TransientIOError{Op: "nats publish", Err: err}
	}
	s.logger.Debug("entity published to graph stream",
		zap.String("entity_id", msg.ID),
		zap.String("subject", s.subject),
		zap.Bool("deleted", msg.Deleted))
	return nil
}

func entityTriples(entity *domain.Entity) []Triple {
	now := time.Now()
	triples := make([]Triple, 0, len(entity.Attributes)+1)
	triples = append(triples, Triple{
		Subject:   entity.ID,
		Predicate: "rdf:type",
		Object:    entity.Type,
		Kind:      string(domain.KindProperty),
		Timestamp: now,
	})
	for _, attr := range entity.Attributes {
		t := Triple{
			Subject:   entity.ID,
			Predicate: attr.Name,
			Object:    attr.Value.Value,
			Kind:      string(attr.Kind),
			Timestamp: now,
		}
		if attr.ObservedAt != nil {
			t.Timestamp = *attr.ObservedAt
		}
		triples = append(triples, t)
	}
	return triples
}
