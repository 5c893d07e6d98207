package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/urbanmesh/urbanflow/internal/domain"
	"github.com/urbanmesh/urbanflow/internal/ports"
)

// ResultAggregator folds per-agent results into a phase outcome and the
// entity batch handed to the next phase.
type ResultAggregator struct {
	metrics ports.MetricsCollector
	logger  *zap.Logger
}

// NewResultAggregator creates an aggregator.
func NewResultAggregator(metrics ports.MetricsCollector, logger *zap.Logger) *ResultAggregator {
	return &ResultAggregator{metrics: metrics, logger: logger}
}

// Aggregate computes the phase-level status under the phase's failure mode
// and merges successful outputs into one batch. Results arrive indexed by
// agent declaration order, so the merged batch is deterministic regardless
// of completion timing.
func (a *ResultAggregator) Aggregate(phase *Phase, results []domain.AgentResult) *domain.PhaseOutcome {
	report := domain.PhaseReport{Durations: make(map[string]time.Duration, len(results))}

	var output []*domain.Entity
	for _, r := range results {
		report.Durations[r.AgentName] = r.Duration
		switch r.Status {
		case domain.AgentStatusSuccess:
			report.Succeeded++
			output = append(output, r.Output...)
		case domain.AgentStatusFailed:
			report.Failed++
		case domain.AgentStatusTimedOut:
			report.TimedOut++
		case domain.AgentStatusSkipped:
			report.Skipped++
		}
	}

	outcome := &domain.PhaseOutcome{
		Phase:   phase.Name,
		Results: results,
		Output:  output,
		Report:  report,
	}
	outcome.Status = a.phaseStatus(phase.FailureMode, report, len(results))

	a.logger.Info("phase aggregated",
		zap.String("phase", phase.Name),
		zap.String("status", string(outcome.Status)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("timed_out", report.TimedOut),
		zap.Int("skipped", report.Skipped),
		zap.Int("output_entities", len(output)))

	return outcome
}

func (a *ResultAggregator) phaseStatus(mode domain.FailureMode, report domain.PhaseReport, total int) domain.PhaseStatus {
	failures := report.Failed + report.TimedOut
	switch {
	case failures == 0 && report.Skipped == 0:
		return domain.PhaseStatusSucceeded
	case failures == 0 && report.Succeeded > 0:
		return domain.PhaseStatusPartial
	case report.Skipped == total:
		return domain.PhaseStatusSkipped
	}
	if mode == domain.FailFast {
		return domain.PhaseStatusFailed
	}
	// continue / quarantine proceed with whatever succeeded.
	if report.Succeeded > 0 {
		return domain.PhaseStatusPartial
	}
	return domain.PhaseStatusFailed
}
