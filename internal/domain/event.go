package domain

import "time"

// EventType identifies a lifecycle event emitted by the orchestrator.
type EventType string

const (
	EventTypeRunSubmitted EventType = "run.submitted"
	EventTypeRunStarted   EventType = "run.started"
	EventTypeRunPaused    EventType = "run.paused"
	EventTypeRunResumed   EventType = "run.resumed"
	EventTypeRunCompleted EventType = "run.completed"
	EventTypeRunFailed    EventType = "run.failed"
	EventTypeRunCancelled EventType = "run.cancelled"

	EventTypePhaseStarted   EventType = "phase.started"
	EventTypePhaseCompleted EventType = "phase.completed"

	EventTypePublishCompleted EventType = "publish.completed"
	EventTypeDeadLettered     EventType = "entity.dead_lettered"
)

// Event is the fire-and-forget notification emitted to the event bus.
// Acting on it (dashboards, alerting) is the job of external subscribers.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	Phase     string                 `json:"phase,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
