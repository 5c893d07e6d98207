package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/urbanmesh/urbanflow/internal/domain"
	"github.com/urbanmesh/urbanflow/internal/ports"
	deadlettermem "github.com/urbanmesh/urbanflow/pkg/adapters/deadletter/memory"
	"github.com/urbanmesh/urbanflow/pkg/adapters/metrics/noop"
)

// stubAgent delegates to a function and counts invocations.
type stubAgent struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error)
}

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) Execute(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
	a.calls.Add(1)
	return a.fn(ctx, input)
}

func stamping(name string) *stubAgent {
	return &stubAgent{name: name, fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
		out := domain.CloneBatch(input)
		for _, e := range out {
			e.SetAttribute(name, domain.Value{Kind: domain.KindProperty, Value: true})
			e.Touch()
		}
		return out, nil
	}}
}

func blocking(name string) *stubAgent {
	return &stubAgent{name: name, fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func newTestScheduler(deadLetters ports.DeadLetterStore) *Scheduler {
	s := NewScheduler(
		NewResultAggregator(noop.NewCollector(), zap.NewNop()),
		deadLetters,
		noop.NewCollector(),
		zap.NewNop(),
		20*time.Millisecond,
	)
	// Backoff waits are irrelevant to these tests.
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s
}

func testBatch(ids ...string) []*domain.Entity {
	out := make([]*domain.Entity, len(ids))
	for i, id := range ids {
		out[i] = domain.NewEntity(id, "AirQualitySensor")
	}
	return out
}

func TestSchedulerLinearPipeline(t *testing.T) {
	ingest, normalize, enrich := stamping("ingest"), stamping("normalize"), stamping("enrich")

	g := mustGraph(t,
		&Phase{Name: "ingest", Agents: []ports.AgentUnit{ingest}, Timeout: time.Second},
		&Phase{Name: "normalize", Agents: []ports.AgentUnit{normalize}, DependsOn: []string{"ingest"}, Timeout: time.Second},
		&Phase{Name: "enrich", Agents: []ports.AgentUnit{enrich}, DependsOn: []string{"normalize"}, Timeout: time.Second},
	)

	s := newTestScheduler(deadlettermem.NewStore())

	var started, finished []string
	hooks := RunHooks{
		OnPhaseStart: func(phase string) { started = append(started, phase) },
		OnPhaseDone:  func(o *domain.PhaseOutcome) { finished = append(finished, o.Phase) },
	}

	result, err := s.Run(context.Background(), g, testBatch("urn:sensor:1", "urn:sensor:2"), "run-1", hooks)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.Equal(t, []string{"ingest", "normalize", "enrich"}, started)
	assert.Equal(t, []string{"ingest", "normalize", "enrich"}, finished)
	require.Len(t, result.Phases, 3)
	for _, outcome := range result.Phases {
		assert.Equal(t, domain.PhaseStatusSucceeded, outcome.Status)
	}

	// The leaf output carries the stamps of every phase.
	require.Len(t, result.Output, 2)
	for _, e := range result.Output {
		for _, stage := range []string{"ingest", "normalize", "enrich"} {
			_, ok := e.Attribute(stage)
			assert.True(t, ok, "missing stamp %s", stage)
		}
	}

	assert.EqualValues(t, 1, ingest.calls.Load())
	assert.EqualValues(t, 1, normalize.calls.Load())
	assert.EqualValues(t, 1, enrich.calls.Load())
}

func TestSchedulerTimeoutFailFast(t *testing.T) {
	analyze := blocking("cv-analyze")
	publish := stamping("publish")

	g := mustGraph(t,
		&Phase{
			Name:        "analyze",
			Agents:      []ports.AgentUnit{analyze},
			Timeout:     20 * time.Millisecond,
			FailureMode: domain.FailFast,
			Retry:       LinearBackoff(time.Millisecond, 3),
		},
		&Phase{Name: "publish", Agents: []ports.AgentUnit{publish}, DependsOn: []string{"analyze"}, Timeout: time.Second},
	)

	s := newTestScheduler(deadlettermem.NewStore())
	result, err := s.Run(context.Background(), g, testBatch("urn:sensor:1"), "run-1", RunHooks{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusFailed, result.Status)
	assert.Contains(t, result.Error, "analyze")

	// The timed-out agent got exactly its attempt budget, no more.
	assert.EqualValues(t, 3, analyze.calls.Load())
	analyzed := result.Phases[0]
	assert.Equal(t, domain.PhaseStatusFailed, analyzed.Status)
	assert.Equal(t, domain.AgentStatusTimedOut, analyzed.Results[0].Status)
	assert.Equal(t, 3, analyzed.Results[0].Attempt)

	// The dependent phase never ran.
	assert.EqualValues(t, 0, publish.calls.Load())
	assert.Equal(t, domain.PhaseStatusSkipped, result.Phases[1].Status)
}

func TestSchedulerRetryThenSucceed(t *testing.T) {
	attempts := int32(0)
	flaky := &stubAgent{name: "flaky", fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, &domain.TransientIOError{Op: "fetch", Err: errors.New("conn reset")}
		}
		return input, nil
	}}

	g := mustGraph(t, &Phase{
		Name:    "ingest",
		Agents:  []ports.AgentUnit{flaky},
		Timeout: time.Second,
		Retry:   ExponentialBackoff(time.Millisecond, 2, time.Second, 5),
	})

	s := newTestScheduler(deadlettermem.NewStore())
	result, err := s.Run(context.Background(), g, testBatch("urn:sensor:1"), "run-1", RunHooks{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.Equal(t, domain.AgentStatusSuccess, result.Phases[0].Results[0].Status)
	assert.Equal(t, 3, result.Phases[0].Results[0].Attempt)
}

func TestSchedulerValidationErrorNotRetried(t *testing.T) {
	bad := &stubAgent{name: "bad", fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
		return nil, &domain.ValidationError{Field: "payload", Reason: "unparseable frame"}
	}}

	g := mustGraph(t, &Phase{
		Name:    "ingest",
		Agents:  []ports.AgentUnit{bad},
		Timeout: time.Second,
		Retry:   LinearBackoff(time.Millisecond, 5),
	})

	s := newTestScheduler(deadlettermem.NewStore())
	result, err := s.Run(context.Background(), g, testBatch("urn:sensor:1"), "run-1", RunHooks{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusFailed, result.Status)
	assert.EqualValues(t, 1, bad.calls.Load())
}

func TestSchedulerContinueMode(t *testing.T) {
	good := stamping("good")
	bad := &stubAgent{name: "bad", fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
		return nil, &domain.ValidationError{Field: "frame", Reason: "corrupt"}
	}}
	downstream := stamping("downstream")

	g := mustGraph(t,
		&Phase{
			Name:        "analyze",
			Agents:      []ports.AgentUnit{good, bad},
			Parallelism: 2,
			Timeout:     time.Second,
			FailureMode: domain.Continue,
		},
		&Phase{Name: "fuse", Agents: []ports.AgentUnit{downstream}, DependsOn: []string{"analyze"}, Timeout: time.Second},
	)

	s := newTestScheduler(deadlettermem.NewStore())
	result, err := s.Run(context.Background(), g, testBatch("urn:sensor:1"), "run-1", RunHooks{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.Equal(t, domain.PhaseStatusPartial, result.Phases[0].Status)
	// The downstream phase still ran, fed by the surviving output.
	assert.EqualValues(t, 1, downstream.calls.Load())
	require.Len(t, result.Output, 1)
}

func TestSchedulerQuarantineMode(t *testing.T) {
	deadLetters := deadlettermem.NewStore()
	bad := &stubAgent{name: "cv-detect", fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
		return nil, &domain.ValidationError{Field: "frame", Reason: "corrupt"}
	}}
	good := stamping("meteo")

	g := mustGraph(t, &Phase{
		Name:        "analyze",
		Agents:      []ports.AgentUnit{good, bad},
		Parallelism: 2,
		Timeout:     time.Second,
		FailureMode: domain.Quarantine,
	})

	s := newTestScheduler(deadLetters)
	result, err := s.Run(context.Background(), g, testBatch("urn:sensor:1", "urn:sensor:2"), "run-1", RunHooks{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.Equal(t, domain.PhaseStatusPartial, result.Phases[0].Status)

	items, err := deadLetters.List(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.DeadLetterAgentInput, items[0].Kind)
	assert.Equal(t, "analyze", items[0].Phase)
	assert.Equal(t, "cv-detect", items[0].Agent)
	// The quarantined payload is the full input batch.
	assert.Len(t, items[0].Entities, 2)
}

func TestSchedulerCancellation(t *testing.T) {
	stuck := blocking("stuck")
	after := stamping("after")

	g := mustGraph(t,
		&Phase{Name: "ingest", Agents: []ports.AgentUnit{stuck}, Timeout: time.Minute},
		&Phase{Name: "publish", Agents: []ports.AgentUnit{after}, DependsOn: []string{"ingest"}, Timeout: time.Second},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	s := newTestScheduler(deadlettermem.NewStore())
	result, err := s.Run(ctx, g, testBatch("urn:sensor:1"), "run-1", RunHooks{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCancelled, result.Status)
	assert.EqualValues(t, 0, after.calls.Load())
	assert.Equal(t, domain.PhaseStatusSkipped, result.Phases[1].Status)
}

func TestSchedulerParallelismBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	agents := make([]ports.AgentUnit, 6)
	for i := range agents {
		agents[i] = &stubAgent{name: "worker", fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return input, nil
		}}
	}

	g := NewPhaseGraph()
	require.NoError(t, g.AddPhase(&Phase{
		Name:        "analyze",
		Agents:      agents,
		Parallelism: 2,
		Timeout:     time.Second,
	}))

	s := newTestScheduler(deadlettermem.NewStore())
	result, err := s.Run(context.Background(), g, testBatch("urn:sensor:1"), "run-1", RunHooks{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// errGate simulates a run cancelled while paused.
type errGate struct{}

func (errGate) Wait(ctx context.Context) error { return context.Canceled }

func TestSchedulerGateAbort(t *testing.T) {
	agent := stamping("ingest")
	g := mustGraph(t, &Phase{Name: "ingest", Agents: []ports.AgentUnit{agent}, Timeout: time.Second})

	s := newTestScheduler(deadlettermem.NewStore())
	result, err := s.Run(context.Background(), g, testBatch("urn:sensor:1"), "run-1", RunHooks{Gate: errGate{}})
	require.NoError(t, err)

	assert.EqualValues(t, 0, agent.calls.Load())
	assert.Equal(t, domain.PhaseStatusSkipped, result.Phases[0].Status)
}
