// Package ports declares the narrow interfaces through which the
// orchestration core talks to its collaborators. Implementations live in
// pkg/adapters; the core never depends on a concrete driver.
package ports

import (
	"context"
	"time"

	"github.com/urbanmesh/urbanflow/internal/domain"
)

// AgentUnit is a stateless unit of work inside a phase. Implementations
// (ingestion, CV analysis, transformation, enrichment) are supplied by
// external modules; the scheduler only sees this contract.
type AgentUnit interface {
	Name() string
	Execute(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error)
}

// StoreAdapter is one heterogeneous store target of the fan-out write.
// Upsert must be idempotent: create if absent, else merge by attribute,
// using the entity version as a last-writer-wins tie-breaker where the
// store cannot express a true merge.
type StoreAdapter interface {
	Name() string
	Upsert(ctx context.Context, entity *domain.Entity) error
	Delete(ctx context.Context, entityID string) error
}

// DeadLetterStore holds quarantined agent inputs and store writes that
// exhausted retries, for manual or offline reprocessing.
type DeadLetterStore interface {
	Record(ctx context.Context, item domain.DeadLetter) error
	List(ctx context.Context, runID string) ([]domain.DeadLetter, error)
}

// EventHandler processes a single event from the bus.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus is the fire-and-forget notification surface.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// StateStorage persists run state across phase boundaries.
type StateStorage interface {
	SaveRun(ctx context.Context, state *domain.RunState) error
	GetRun(ctx context.Context, runID string) (*domain.RunState, error)
	DeleteRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context) ([]string, error)
}

// MetricsCollector receives observability signals from the core.
type MetricsCollector interface {
	RecordRunSubmitted(status string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordAgentExecution(agent, status string, duration time.Duration)
	RecordRetry(agent string)
	RecordPhaseDuration(phase string, duration time.Duration)
	RecordStoreWrite(store, status string, duration time.Duration)
	RecordDeadLetter(kind string)
	SetAgentsInFlight(n int)
}
