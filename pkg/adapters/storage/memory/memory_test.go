package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbanmesh/urbanflow/internal/domain"
)

func TestStateStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStateStorage()

	started := time.Now().UTC().Truncate(time.Second)
	state := &domain.RunState{
		RunID:       "run-1",
		Workflow:    "urban-sensor-pipeline",
		Status:      domain.RunStatusRunning,
		StartedAt:   &started,
		SubmittedAt: started,
		Phases: []*domain.PhaseOutcome{
			{Phase: "ingest", Status: domain.PhaseStatusSucceeded},
		},
	}
	require.NoError(t, s.SaveRun(ctx, state))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, state.RunID, got.RunID)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	require.Len(t, got.Phases, 1)
	assert.Equal(t, "ingest", got.Phases[0].Phase)

	// Later saves overwrite.
	state.Status = domain.RunStatusCompleted
	require.NoError(t, s.SaveRun(ctx, state))
	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
}

func TestStateStorageMissingRun(t *testing.T) {
	s := NewStateStorage()
	_, err := s.GetRun(context.Background(), "ghost")
	require.Error(t, err)
}

func TestStateStorageDeleteAndList(t *testing.T) {
	ctx := context.Background()
	s := NewStateStorage()
	require.NoError(t, s.SaveRun(ctx, &domain.RunState{RunID: "run-1"}))
	require.NoError(t, s.SaveRun(ctx, &domain.RunState{RunID: "run-2"}))

	ids, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run-1", "run-2"}, ids)

	require.NoError(t, s.DeleteRun(ctx, "run-1"))
	ids, err = s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-2"}, ids)
}
