package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/urbanmesh/urbanflow/internal/application/pipeline"
	"github.com/urbanmesh/urbanflow/internal/application/publisher"
	"github.com/urbanmesh/urbanflow/internal/domain"
	"github.com/urbanmesh/urbanflow/internal/ports"
	deadlettermem "github.com/urbanmesh/urbanflow/pkg/adapters/deadletter/memory"
	eventsmem "github.com/urbanmesh/urbanflow/pkg/adapters/events/memory"
	"github.com/urbanmesh/urbanflow/pkg/adapters/metrics/noop"
	storagemem "github.com/urbanmesh/urbanflow/pkg/adapters/storage/memory"
	storemem "github.com/urbanmesh/urbanflow/pkg/adapters/store/memory"
)

type fnAgent struct {
	name string
	fn   func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error)
}

func (a fnAgent) Name() string { return a.name }

func (a fnAgent) Execute(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
	return a.fn(ctx, input)
}

func stamp(name string) fnAgent {
	return fnAgent{name: name, fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
		out := domain.CloneBatch(input)
		for _, e := range out {
			e.SetAttribute(name, domain.Value{Kind: domain.KindProperty, Value: true})
			e.Touch()
		}
		return out, nil
	}}
}

type fixture struct {
	orch        *Orchestrator
	storage     *storagemem.StateStorage
	events      *eventsmem.Bus
	store       *storemem.Store
	deadLetters *deadlettermem.Store
}

func newFixture(t *testing.T, targets func(store *storemem.Store) []publisher.Target) *fixture {
	t.Helper()
	logger := zap.NewNop()
	metrics := noop.NewCollector()
	deadLetters := deadlettermem.NewStore()
	store := storemem.NewStore("postgres")

	scheduler := pipeline.NewScheduler(
		pipeline.NewResultAggregator(metrics, logger),
		deadLetters, metrics, logger, 50*time.Millisecond,
	)
	writer := publisher.NewMultiStoreWriter(
		pipeline.LinearBackoff(time.Millisecond, 2),
		deadLetters, metrics, logger, time.Second,
	)

	storage := storagemem.NewStateStorage()
	events := eventsmem.NewBus()

	f := &fixture{
		storage:     storage,
		events:      events,
		store:       store,
		deadLetters: deadLetters,
	}
	f.orch = New(scheduler, writer, targets(store), storage, events, metrics, logger, 5*time.Second)
	return f
}

func graphOf(t *testing.T, phases ...*pipeline.Phase) *pipeline.PhaseGraph {
	t.Helper()
	g := pipeline.NewPhaseGraph()
	for _, p := range phases {
		require.NoError(t, g.AddPhase(p))
	}
	return g
}

func waitForStatus(t *testing.T, f *fixture, runID string, want domain.RunStatus) *domain.RunState {
	t.Helper()
	var state *domain.RunState
	require.Eventually(t, func() bool {
		s, err := f.orch.GetStatus(context.Background(), runID)
		if err != nil {
			return false
		}
		state = s
		return s.Status == want
	}, 3*time.Second, 10*time.Millisecond, "run %s never reached %s", runID, want)
	return state
}

func TestSubmitRunsToCompletion(t *testing.T) {
	f := newFixture(t, func(s *storemem.Store) []publisher.Target {
		return publisher.Required(s)
	})

	// Collect events as they are published.
	var mu sync.Mutex
	var seen []domain.EventType
	collect := func(ctx context.Context, e domain.Event) error {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
		return nil
	}
	require.NoError(t, f.events.Subscribe(context.Background(), TopicRunEvents, collect))
	require.NoError(t, f.events.Subscribe(context.Background(), TopicPhaseEvents, collect))

	g := graphOf(t,
		&pipeline.Phase{Name: "ingest", Agents: []ports.AgentUnit{stamp("ingest")}, Timeout: time.Second},
		&pipeline.Phase{Name: "enrich", Agents: []ports.AgentUnit{stamp("enrich")}, DependsOn: []string{"ingest"}, Timeout: time.Second},
	)

	entity := domain.NewEntity("urn:sensor:1", "AirQualitySensor")
	runID, err := f.orch.Submit(context.Background(), "urban-sensor-pipeline", g, []*domain.Entity{entity})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	state := waitForStatus(t, f, runID, domain.RunStatusCompleted)
	assert.Equal(t, "urban-sensor-pipeline", state.Workflow)
	require.Len(t, state.Phases, 2)
	assert.NotNil(t, state.StartedAt)
	assert.NotNil(t, state.CompletedAt)

	// The completed run was published to the store.
	require.NotNil(t, state.Publish)
	assert.Equal(t, []string{"urn:sensor:1"}, state.Publish.FullyCommitted())
	assert.Equal(t, 1, f.store.Len())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, domain.EventTypeRunSubmitted)
	assert.Contains(t, seen, domain.EventTypeRunStarted)
	assert.Contains(t, seen, domain.EventTypePhaseStarted)
	assert.Contains(t, seen, domain.EventTypePhaseCompleted)
	assert.Contains(t, seen, domain.EventTypePublishCompleted)
	assert.Contains(t, seen, domain.EventTypeRunCompleted)
}

func TestSubmitRejectsInvalidGraph(t *testing.T) {
	f := newFixture(t, func(s *storemem.Store) []publisher.Target { return nil })

	g := pipeline.NewPhaseGraph()
	require.NoError(t, g.AddPhase(&pipeline.Phase{
		Name:      "enrich",
		Agents:    []ports.AgentUnit{stamp("enrich")},
		DependsOn: []string{"missing"},
	}))

	_, err := f.orch.Submit(context.Background(), "wf", g, nil)
	require.Error(t, err)
	var uerr *domain.UnknownDependencyError
	assert.ErrorAs(t, err, &uerr)
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t, func(s *storemem.Store) []publisher.Target { return nil })

	release := make(chan struct{})
	slow := fnAgent{name: "slow", fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
		select {
		case <-release:
			return input, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}

	g := graphOf(t,
		&pipeline.Phase{Name: "ingest", Agents: []ports.AgentUnit{slow}, Timeout: time.Minute},
		&pipeline.Phase{Name: "enrich", Agents: []ports.AgentUnit{stamp("enrich")}, DependsOn: []string{"ingest"}, Timeout: time.Second},
	)

	runID, err := f.orch.Submit(context.Background(), "wf", g, []*domain.Entity{domain.NewEntity("e1", "Sensor")})
	require.NoError(t, err)
	waitForStatus(t, f, runID, domain.RunStatusRunning)

	// Pause while the first phase is still executing, then let it finish.
	// The run must hold at the next phase boundary instead of proceeding.
	require.NoError(t, f.orch.Pause(context.Background(), runID))
	close(release)

	state := waitForStatus(t, f, runID, domain.RunStatusPaused)
	assert.Equal(t, domain.RunStatusPaused, state.Status)
	assert.Eventually(t, func() bool {
		s, err := f.orch.GetStatus(context.Background(), runID)
		return err == nil && len(s.Phases) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.orch.Resume(context.Background(), runID))
	state = waitForStatus(t, f, runID, domain.RunStatusCompleted)
	require.Len(t, state.Phases, 2)
	assert.Equal(t, domain.PhaseStatusSucceeded, state.Phases[1].Status)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, func(s *storemem.Store) []publisher.Target { return nil })

	stuck := fnAgent{name: "stuck", fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	g := graphOf(t,
		&pipeline.Phase{Name: "ingest", Agents: []ports.AgentUnit{stuck}, Timeout: time.Minute},
		&pipeline.Phase{Name: "enrich", Agents: []ports.AgentUnit{stamp("enrich")}, DependsOn: []string{"ingest"}, Timeout: time.Second},
	)

	runID, err := f.orch.Submit(context.Background(), "wf", g, []*domain.Entity{domain.NewEntity("e1", "Sensor")})
	require.NoError(t, err)
	waitForStatus(t, f, runID, domain.RunStatusRunning)

	require.NoError(t, f.orch.Cancel(context.Background(), runID))
	state := waitForStatus(t, f, runID, domain.RunStatusCancelled)
	// Nothing was published for a cancelled run.
	assert.Nil(t, state.Publish)
}

func TestCancelWhilePaused(t *testing.T) {
	f := newFixture(t, func(s *storemem.Store) []publisher.Target { return nil })

	release := make(chan struct{})
	slow := fnAgent{name: "slow", fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
		select {
		case <-release:
			return input, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}

	g := graphOf(t,
		&pipeline.Phase{Name: "ingest", Agents: []ports.AgentUnit{slow}, Timeout: time.Minute},
		&pipeline.Phase{Name: "enrich", Agents: []ports.AgentUnit{stamp("enrich")}, DependsOn: []string{"ingest"}, Timeout: time.Second},
	)

	runID, err := f.orch.Submit(context.Background(), "wf", g, []*domain.Entity{domain.NewEntity("e1", "Sensor")})
	require.NoError(t, err)
	waitForStatus(t, f, runID, domain.RunStatusRunning)

	require.NoError(t, f.orch.Pause(context.Background(), runID))
	close(release)
	waitForStatus(t, f, runID, domain.RunStatusPaused)

	// Cancelling a paused run must not deadlock on the gate.
	require.NoError(t, f.orch.Cancel(context.Background(), runID))
	waitForStatus(t, f, runID, domain.RunStatusCancelled)
}

func TestGetStatusUnknownRun(t *testing.T) {
	f := newFixture(t, func(s *storemem.Store) []publisher.Target { return nil })
	_, err := f.orch.GetStatus(context.Background(), "no-such-run")
	require.Error(t, err)
}

func TestControlFinishedRunFails(t *testing.T) {
	f := newFixture(t, func(s *storemem.Store) []publisher.Target { return nil })

	g := graphOf(t, &pipeline.Phase{Name: "ingest", Agents: []ports.AgentUnit{stamp("ingest")}, Timeout: time.Second})
	runID, err := f.orch.Submit(context.Background(), "wf", g, nil)
	require.NoError(t, err)
	waitForStatus(t, f, runID, domain.RunStatusCompleted)

	assert.Error(t, f.orch.Pause(context.Background(), runID))
	assert.Error(t, f.orch.Resume(context.Background(), runID))
	assert.Error(t, f.orch.Cancel(context.Background(), runID))
}

func TestShutdownCancelsActiveRuns(t *testing.T) {
	f := newFixture(t, func(s *storemem.Store) []publisher.Target { return nil })

	stuck := fnAgent{name: "stuck", fn: func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	g := graphOf(t, &pipeline.Phase{Name: "ingest", Agents: []ports.AgentUnit{stuck}, Timeout: time.Minute})

	runID, err := f.orch.Submit(context.Background(), "wf", g, nil)
	require.NoError(t, err)
	waitForStatus(t, f, runID, domain.RunStatusRunning)

	require.NoError(t, f.orch.Shutdown(context.Background()))
	waitForStatus(t, f, runID, domain.RunStatusCancelled)
}

func TestListRuns(t *testing.T) {
	f := newFixture(t, func(s *storemem.Store) []publisher.Target { return nil })

	g := graphOf(t, &pipeline.Phase{Name: "ingest", Agents: []ports.AgentUnit{stamp("ingest")}, Timeout: time.Second})
	first, err := f.orch.Submit(context.Background(), "wf", g, nil)
	require.NoError(t, err)
	second, err := f.orch.Submit(context.Background(), "wf", g, nil)
	require.NoError(t, err)

	waitForStatus(t, f, first, domain.RunStatusCompleted)
	waitForStatus(t, f, second, domain.RunStatusCompleted)

	ids, err := f.orch.ListRuns(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first, second}, ids)
}
