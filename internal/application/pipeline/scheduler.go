package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/urbanmesh/urbanflow/internal/domain"
	"github.com/urbanmesh/urbanflow/internal/ports"
)

// Gate blocks phase starts while a run is paused. Wait returns once the
// run may proceed, or the context error if the run was cancelled while
// waiting.
type Gate interface {
	Wait(ctx context.Context) error
}

// RunHooks let the orchestrator observe a run without the scheduler
// knowing about persistence or event buses. All fields are optional.
type RunHooks struct {
	Gate         Gate
	OnPhaseStart func(phase string)
	OnPhaseDone  func(outcome *domain.PhaseOutcome)
}

// PipelineResult is the terminal report of one scheduler run.
type PipelineResult struct {
	Status domain.RunStatus
	Phases []*domain.PhaseOutcome
	// Output is the concatenated output of all leaf phases, in
	// declaration order.
	Output []*domain.Entity
	Error  string
}

// Scheduler walks a phase graph in dependency order and dispatches agents
// through a bounded per-phase worker pool, applying timeouts and the
// phase retry policy around every execution.
type Scheduler struct {
	aggregator  *ResultAggregator
	deadLetters ports.DeadLetterStore
	metrics     ports.MetricsCollector
	logger      *zap.Logger
	cancelGrace time.Duration

	inFlight atomic.Int64
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a scheduler. cancelGrace is how long in-flight
// agents get to return after cancellation before they are abandoned.
func NewScheduler(
	aggregator *ResultAggregator,
	deadLetters ports.DeadLetterStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	cancelGrace time.Duration,
) *Scheduler {
	return &Scheduler{
		aggregator:  aggregator,
		deadLetters: deadLetters,
		metrics:     metrics,
		logger:      logger,
		cancelGrace: cancelGrace,
		sleep:       sleepContext,
	}
}

// Run executes the graph. Configuration errors (cyclic or unknown
// dependencies) are returned as a hard error; everything else is reported
// through the PipelineResult.
func (s *Scheduler) Run(ctx context.Context, graph *PhaseGraph, initial []*domain.Entity, runID string, hooks RunHooks) (*PipelineResult, error) {
	order, err := graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	outputs := make(map[string][]*domain.Entity, len(order))
	result := &PipelineResult{}
	aborted := false
	abortReason := ""

	for _, phase := range order {
		if aborted || ctx.Err() != nil {
			outcome := skippedOutcome(phase)
			result.Phases = append(result.Phases, outcome)
			if hooks.OnPhaseDone != nil {
				hooks.OnPhaseDone(outcome)
			}
			continue
		}

		if hooks.Gate != nil {
			if err := hooks.Gate.Wait(ctx); err != nil {
				outcome := skippedOutcome(phase)
				result.Phases = append(result.Phases, outcome)
				if hooks.OnPhaseDone != nil {
					hooks.OnPhaseDone(outcome)
				}
				continue
			}
		}

		input := gatherInput(phase, outputs, initial)
		if hooks.OnPhaseStart != nil {
			hooks.OnPhaseStart(phase.Name)
		}
		s.logger.Info("phase started",
			zap.String("run_id", runID),
			zap.String("phase", phase.Name),
			zap.Int("agents", len(phase.Agents)),
			zap.Int("parallelism", phase.Parallelism),
			zap.Int("input_entities", len(input)))

		start := time.Now()
		results := s.runPhase(ctx, phase, input)
		outcome := s.aggregator.Aggregate(phase, results)
		s.metrics.RecordPhaseDuration(phase.Name, time.Since(start))

		if phase.FailureMode == domain.Quarantine {
			s.quarantineFailures(ctx, runID, phase, input, results)
		}

		outputs[phase.Name] = outcome.Output
		result.Phases = append(result.Phases, outcome)
		if hooks.OnPhaseDone != nil {
			hooks.OnPhaseDone(outcome)
		}

		if outcome.Status == domain.PhaseStatusFailed && phase.FailureMode == domain.FailFast {
			aborted = true
			abortReason = fmt.Sprintf("phase %s failed under fail_fast", phase.Name)
			s.logger.Warn("aborting run",
				zap.String("run_id", runID),
				zap.String("phase", phase.Name))
		}
	}

	switch {
	case ctx.Err() != nil:
		result.Status = domain.RunStatusCancelled
		result.Error = ctx.Err().Error()
	case aborted:
		result.Status = domain.RunStatusFailed
		result.Error = abortReason
	default:
		result.Status = domain.RunStatusCompleted
		result.Output = leafOutput(graph, outputs)
	}
	return result, nil
}

// runPhase executes all agents of a phase through a fixed pool of at most
// Parallelism workers. Excess agents queue on the jobs channel instead of
// spawning unbounded goroutines.
func (s *Scheduler) runPhase(ctx context.Context, phase *Phase, input []*domain.Entity) []domain.AgentResult {
	results := make([]domain.AgentResult, len(phase.Agents))

	workers := phase.Parallelism
	if workers > len(phase.Agents) {
		workers = len(phase.Agents)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = s.executeAgent(ctx, phase, phase.Agents[idx], input)
			}
		}()
	}

	for i := range phase.Agents {
		select {
		case jobs <- i:
			continue
		case <-ctx.Done():
		}
		// Cancelled: everything not yet dispatched is skipped.
		for j := i; j < len(phase.Agents); j++ {
			results[j] = domain.AgentResult{
				AgentName: phase.Agents[j].Name(),
				Status:    domain.AgentStatusSkipped,
				Error:     ctx.Err().Error(),
			}
		}
		break
	}
	close(jobs)
	wg.Wait()

	return results
}

// executeAgent wraps one agent with the attempt deadline and the phase
// retry policy. Only Failed and TimedOut outcomes are retried.
func (s *Scheduler) executeAgent(ctx context.Context, phase *Phase, agent ports.AgentUnit, input []*domain.Entity) domain.AgentResult {
	result := domain.AgentResult{AgentName: agent.Name()}

	for attempt := 1; ; attempt++ {
		result.Attempt = attempt
		start := time.Now()
		out, err := s.invoke(ctx, phase.Timeout, agent, input)
		result.Duration = time.Since(start)

		if err == nil {
			result.Status = domain.AgentStatusSuccess
			result.Output = out
			s.metrics.RecordAgentExecution(agent.Name(), string(result.Status), result.Duration)
			return result
		}

		status := domain.AgentStatusFailed
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			status = domain.AgentStatusTimedOut
			err = &domain.TimeoutError{Op: "agent " + agent.Name(), After: phase.Timeout}
		}

		if ctx.Err() != nil || !phase.Retry.ShouldRetry(attempt, err) {
			result.Status = status
			result.Error = err.Error()
			s.metrics.RecordAgentExecution(agent.Name(), string(status), result.Duration)
			s.logger.Warn("agent exhausted",
				zap.String("agent", agent.Name()),
				zap.String("phase", phase.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return result
		}

		s.metrics.RecordRetry(agent.Name())
		s.logger.Debug("retrying agent",
			zap.String("agent", agent.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", phase.Retry.NextDelay(attempt)))
		if serr := s.sleep(ctx, phase.Retry.NextDelay(attempt)); serr != nil {
			result.Status = domain.AgentStatusFailed
			result.Error = fmt.Sprintf("cancelled during backoff: %v", serr)
			s.metrics.RecordAgentExecution(agent.Name(), string(result.Status), result.Duration)
			return result
		}
	}
}

type agentReturn struct {
	out []*domain.Entity
	err error
}

// invoke runs a single attempt with its own deadline. On cancellation or
// deadline expiry the agent gets a grace period to return before it is
// abandoned.
func (s *Scheduler) invoke(ctx context.Context, timeout time.Duration, agent ports.AgentUnit, input []*domain.Entity) ([]*domain.Entity, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.metrics.SetAgentsInFlight(int(s.inFlight.Add(1)))
	defer func() {
		s.metrics.SetAgentsInFlight(int(s.inFlight.Add(-1)))
	}()

	done := make(chan agentReturn, 1)
	go func() {
		out, err := agent.Execute(attemptCtx, domain.CloneBatch(input))
		done <- agentReturn{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-attemptCtx.Done():
	}

	grace := time.NewTimer(s.cancelGrace)
	defer grace.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		// The agent finished inside the grace period; keep its output.
		return r.out, nil
	case <-grace.C:
		return nil, fmt.Errorf("agent %s abandoned after %s grace: %w", agent.Name(), s.cancelGrace, attemptCtx.Err())
	}
}

func (s *Scheduler) quarantineFailures(ctx context.Context, runID string, phase *Phase, input []*domain.Entity, results []domain.AgentResult) {
	if s.deadLetters == nil {
		return
	}
	for _, r := range results {
		if r.Status != domain.AgentStatusFailed && r.Status != domain.AgentStatusTimedOut {
			continue
		}
		item := domain.DeadLetter{
			ID:        uuid.New().String(),
			RunID:     runID,
			Kind:      domain.DeadLetterAgentInput,
			Phase:     phase.Name,
			Agent:     r.AgentName,
			Entities:  domain.CloneBatch(input),
			Reason:    r.Error,
			Timestamp: time.Now(),
		}
		if err := s.deadLetters.Record(ctx, item); err != nil {
			s.logger.Error("failed to quarantine agent input",
				zap.String("run_id", runID),
				zap.String("agent", r.AgentName),
				zap.Error(err))
			continue
		}
		s.metrics.RecordDeadLetter(string(domain.DeadLetterAgentInput))
	}
}

func gatherInput(phase *Phase, outputs map[string][]*domain.Entity, initial []*domain.Entity) []*domain.Entity {
	if len(phase.DependsOn) == 0 {
		return initial
	}
	var batch []*domain.Entity
	for _, dep := range phase.DependsOn {
		batch = append(batch, outputs[dep]...)
	}
	return batch
}

func skippedOutcome(phase *Phase) *domain.PhaseOutcome {
	results := make([]domain.AgentResult, len(phase.Agents))
	for i, agent := range phase.Agents {
		results[i] = domain.AgentResult{
			AgentName: agent.Name(),
			Status:    domain.AgentStatusSkipped,
		}
	}
	return &domain.PhaseOutcome{
		Phase:   phase.Name,
		Status:  domain.PhaseStatusSkipped,
		Results: results,
		Report: domain.PhaseReport{
			Skipped:   len(results),
			Durations: map[string]time.Duration{},
		},
	}
}

// leafOutput concatenates outputs of phases nothing depends on, in
// declaration order.
func leafOutput(graph *PhaseGraph, outputs map[string][]*domain.Entity) []*domain.Entity {
	hasDependent := make(map[string]bool, len(graph.phases))
	for _, p := range graph.phases {
		for _, dep := range p.DependsOn {
			hasDependent[dep] = true
		}
	}
	var out []*domain.Entity
	for _, p := range graph.phases {
		if !hasDependent[p.Name] {
			out = append(out, outputs[p.Name]...)
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
