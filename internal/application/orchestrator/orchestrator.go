package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/urbanmesh/urbanflow/internal/application/pipeline"
	"github.com/urbanmesh/urbanflow/internal/application/publisher"
	"github.com/urbanmesh/urbanflow/internal/domain"
	"github.com/urbanmesh/urbanflow/internal/ports"
)

// Topics for lifecycle events.
const (
	TopicRunEvents   = "run.events"
	TopicPhaseEvents = "phase.events"
)

// Orchestrator coordinates pipeline runs. Each run owns an independent
// state instance; two concurrent runs never share mutable state.
type Orchestrator struct {
	scheduler *pipeline.Scheduler
	writer    *publisher.MultiStoreWriter
	targets   []publisher.Target
	storage   ports.StateStorage
	events    ports.EventBus
	metrics   ports.MetricsCollector
	logger    *zap.Logger

	runTimeout time.Duration
	runs       sync.Map // map[string]*run
}

// run tracks one active execution.
type run struct {
	id     string
	cancel context.CancelFunc
	gate   *pauseGate

	mu    sync.Mutex
	state *domain.RunState
}

// update mutates the run state under lock and returns a snapshot safe to
// persist or serve.
func (r *run) update(fn func(*domain.RunState)) *domain.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn != nil {
		fn(r.state)
	}
	cp := *r.state
	cp.Phases = append([]*domain.PhaseOutcome(nil), r.state.Phases...)
	return &cp
}

// New creates an orchestrator wired to already-initialized collaborators.
// There are no process-wide singletons: every dependency is injected.
func New(
	scheduler *pipeline.Scheduler,
	writer *publisher.MultiStoreWriter,
	targets []publisher.Target,
	storage ports.StateStorage,
	events ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	runTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		scheduler:  scheduler,
		writer:     writer,
		targets:    targets,
		storage:    storage,
		events:     events,
		metrics:    metrics,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// Submit validates the graph and launches a run. A misconfigured graph
// (cyclic or unknown dependency) is the only fatal startup error.
func (o *Orchestrator) Submit(ctx context.Context, workflow string, graph *pipeline.PhaseGraph, initial []*domain.Entity) (string, error) {
	if err := graph.Validate(); err != nil {
		o.logger.Error("graph validation failed",
			zap.String("workflow", workflow),
			zap.Error(err))
		o.metrics.RecordRunSubmitted(string(domain.RunStatusFailed))
		return "", fmt.Errorf("validation failed: %w", err)
	}

	runID := uuid.New().String()
	state := &domain.RunState{
		RunID:       runID,
		Workflow:    workflow,
		Status:      domain.RunStatusSubmitted,
		SubmittedAt: time.Now(),
	}
	if err := o.storage.SaveRun(ctx, state); err != nil {
		return "", fmt.Errorf("failed to save run state: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), o.runTimeout)
	r := &run{id: runID, cancel: cancel, gate: newPauseGate(), state: state}
	o.runs.Store(runID, r)

	o.emit(ctx, TopicRunEvents, domain.EventTypeRunSubmitted, runID, "", map[string]interface{}{
		"workflow": workflow,
		"entities": len(initial),
	})
	o.metrics.RecordRunSubmitted(string(domain.RunStatusSubmitted))
	o.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("workflow", workflow))

	go o.execute(runCtx, r, graph, initial)

	return runID, nil
}

// execute drives one run to a terminal state.
func (o *Orchestrator) execute(ctx context.Context, r *run, graph *pipeline.PhaseGraph, initial []*domain.Entity) {
	defer r.cancel()
	started := time.Now()

	snapshot := r.update(func(s *domain.RunState) {
		s.Status = domain.RunStatusRunning
		s.StartedAt = &started
	})
	o.persist(ctx, snapshot)
	o.emit(ctx, TopicRunEvents, domain.EventTypeRunStarted, r.id, "", nil)

	hooks := pipeline.RunHooks{
		Gate: r.gate,
		OnPhaseStart: func(phase string) {
			snap := r.update(func(s *domain.RunState) {
				s.CurrentPhase = phase
			})
			o.persist(ctx, snap)
			o.emit(ctx, TopicPhaseEvents, domain.EventTypePhaseStarted, r.id, phase, nil)
		},
		OnPhaseDone: func(outcome *domain.PhaseOutcome) {
			snap := r.update(func(s *domain.RunState) {
				s.Phases = append(s.Phases, outcome)
			})
			o.persist(ctx, snap)
			o.emit(ctx, TopicPhaseEvents, domain.EventTypePhaseCompleted, r.id, outcome.Phase, map[string]interface{}{
				"status":    string(outcome.Status),
				"succeeded": outcome.Report.Succeeded,
				"failed":    outcome.Report.Failed,
			})
		},
	}

	result, err := o.scheduler.Run(ctx, graph, initial, r.id, hooks)
	if err != nil {
		o.finish(r, domain.RunStatusFailed, err.Error(), started)
		return
	}

	if result.Status == domain.RunStatusCompleted && len(o.targets) > 0 {
		report := o.writer.Publish(ctx, r.id, result.Output, o.targets)
		r.update(func(s *domain.RunState) {
			s.Publish = report
		})
		o.emit(ctx, TopicRunEvents, domain.EventTypePublishCompleted, r.id, "", map[string]interface{}{
			"fully_committed":     len(report.FullyCommitted()),
			"partially_committed": len(report.PartiallyCommitted()),
			"dead_lettered":       len(report.DeadLettered()),
		})
	}

	o.finish(r, result.Status, result.Error, started)
}

// finish records the terminal state. The run context may already be
// cancelled, so persistence and events use a fresh context.
func (o *Orchestrator) finish(r *run, status domain.RunStatus, reason string, started time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	snapshot := r.update(func(s *domain.RunState) {
		s.Status = status
		s.Error = reason
		s.CurrentPhase = ""
		s.CompletedAt = &now
	})
	o.persist(ctx, snapshot)

	eventType := domain.EventTypeRunCompleted
	switch status {
	case domain.RunStatusFailed:
		eventType = domain.EventTypeRunFailed
	case domain.RunStatusCancelled:
		eventType = domain.EventTypeRunCancelled
	}
	data := map[string]interface{}{"summary": summarize(snapshot)}
	if reason != "" {
		data["reason"] = reason
	}
	o.emit(ctx, TopicRunEvents, eventType, r.id, "", data)

	o.metrics.RecordRunCompleted(string(status), now.Sub(started))
	o.logger.Info("run finished",
		zap.String("run_id", r.id),
		zap.String("status", string(status)),
		zap.Duration("duration", now.Sub(started)))

	o.runs.Delete(r.id)
}

// GetStatus returns the live state of an active run, falling back to
// storage for finished runs.
func (o *Orchestrator) GetStatus(ctx context.Context, runID string) (*domain.RunState, error) {
	if val, ok := o.runs.Load(runID); ok {
		return val.(*run).update(nil), nil
	}
	state, err := o.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run state: %w", err)
	}
	return state, nil
}

// ListRuns returns the IDs of all runs with persisted state.
func (o *Orchestrator) ListRuns(ctx context.Context) ([]string, error) {
	return o.storage.ListRuns(ctx)
}

// Pause blocks the run at its next phase boundary. In-flight agents run
// to completion.
func (o *Orchestrator) Pause(ctx context.Context, runID string) error {
	r, err := o.activeRun(runID)
	if err != nil {
		return err
	}
	r.gate.Pause()
	snapshot := r.update(func(s *domain.RunState) {
		s.Status = domain.RunStatusPaused
	})
	o.persist(ctx, snapshot)
	o.emit(ctx, TopicRunEvents, domain.EventTypeRunPaused, runID, "", nil)
	o.logger.Info("run paused", zap.String("run_id", runID))
	return nil
}

// Resume releases a paused run.
func (o *Orchestrator) Resume(ctx context.Context, runID string) error {
	r, err := o.activeRun(runID)
	if err != nil {
		return err
	}
	r.gate.Resume()
	snapshot := r.update(func(s *domain.RunState) {
		s.Status = domain.RunStatusRunning
	})
	o.persist(ctx, snapshot)
	o.emit(ctx, TopicRunEvents, domain.EventTypeRunResumed, runID, "", nil)
	o.logger.Info("run resumed", zap.String("run_id", runID))
	return nil
}

// Cancel aborts a run. The cancellation propagates to all in-flight
// agents and store writes through their contexts.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	r, err := o.activeRun(runID)
	if err != nil {
		return err
	}
	r.gate.Resume() // a paused run must observe the cancellation
	r.cancel()
	o.logger.Info("run cancellation requested", zap.String("run_id", runID))
	return nil
}

// Shutdown cancels all active runs.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info("shutting down orchestrator")
	o.runs.Range(func(key, value interface{}) bool {
		r := value.(*run)
		r.gate.Resume()
		r.cancel()
		return true
	})
	return nil
}

func (o *Orchestrator) activeRun(runID string) (*run, error) {
	val, ok := o.runs.Load(runID)
	if !ok {
		return nil, fmt.Errorf("run not found or already finished: %s", runID)
	}
	return val.(*run), nil
}

func (o *Orchestrator) persist(ctx context.Context, state *domain.RunState) {
	if err := o.storage.SaveRun(ctx, state); err != nil {
		o.logger.Error("failed to save run state",
			zap.String("run_id", state.RunID),
			zap.Error(err))
	}
}

func (o *Orchestrator) emit(ctx context.Context, topic string, eventType domain.EventType, runID, phase string, data map[string]interface{}) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		Phase:     phase,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := o.events.Publish(ctx, topic, event); err != nil {
		o.logger.Error("failed to publish event",
			zap.String("run_id", runID),
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}

func summarize(state *domain.RunState) map[string]interface{} {
	summary := map[string]interface{}{
		"workflow": state.Workflow,
		"phases":   len(state.Phases),
	}
	if state.Publish != nil {
		summary["fully_committed"] = len(state.Publish.FullyCommitted())
		summary["dead_lettered"] = len(state.Publish.DeadLettered())
	}
	return summary
}

// pauseGate gates phase starts. It is open by default; Pause swaps in an
// unclosed channel that Wait blocks on until Resume closes it.
type pauseGate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newPauseGate() *pauseGate {
	g := &pauseGate{ch: make(chan struct{})}
	close(g.ch)
	return g
}

func (g *pauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
		// Already paused.
	}
}

func (g *pauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		// Already open.
	default:
		close(g.ch)
	}
}

// Wait implements pipeline.Gate.
func (g *pauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
