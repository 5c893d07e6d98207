package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/urbanmesh/urbanflow/internal/application/pipeline"
	"github.com/urbanmesh/urbanflow/internal/domain"
	"github.com/urbanmesh/urbanflow/internal/ports"
)

// Target pairs a store adapter with its publish policy. Best-effort
// stores are written like any other but do not count toward durable
// publication.
type Target struct {
	Adapter    ports.StoreAdapter
	BestEffort bool
}

// Required wraps adapters as mandatory publish targets.
func Required(adapters ...ports.StoreAdapter) []Target {
	targets := make([]Target, len(adapters))
	for i, a := range adapters {
		targets[i] = Target{Adapter: a}
	}
	return targets
}

// Optional wraps an adapter as a best-effort target.
func Optional(adapter ports.StoreAdapter) Target {
	return Target{Adapter: adapter, BestEffort: true}
}

// MultiStoreWriter fans entity batches out to every configured store.
// A store-specific failure never fails the whole publish: it is retried
// independently and dead-lettered once the attempt budget is spent.
type MultiStoreWriter struct {
	retry        pipeline.RetryPolicy
	deadLetters  ports.DeadLetterStore
	metrics      ports.MetricsCollector
	logger       *zap.Logger
	writeTimeout time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewMultiStoreWriter creates a writer. writeTimeout bounds each
// individual store call.
func NewMultiStoreWriter(
	retry pipeline.RetryPolicy,
	deadLetters ports.DeadLetterStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	writeTimeout time.Duration,
) *MultiStoreWriter {
	return &MultiStoreWriter{
		retry:        retry,
		deadLetters:  deadLetters,
		metrics:      metrics,
		logger:       logger,
		writeTimeout: writeTimeout,
		sleep:        sleepContext,
	}
}

// Publish upserts every entity into every target concurrently, one worker
// per store so a slow store never blocks the others. The report is
// ordered entity-major in batch order.
func (w *MultiStoreWriter) Publish(ctx context.Context, runID string, entities []*domain.Entity, targets []Target) *domain.PublishReport {
	perStore := make([][]domain.StoreWriteOutcome, len(targets))

	var wg sync.WaitGroup
	for si, target := range targets {
		wg.Add(1)
		go func(si int, target Target) {
			defer wg.Done()
			row := make([]domain.StoreWriteOutcome, len(entities))
			for ei, entity := range entities {
				row[ei] = w.writeEntity(ctx, runID, target, entity)
			}
			perStore[si] = row
		}(si, target)
	}
	wg.Wait()

	report := &domain.PublishReport{}
	for _, t := range targets {
		if !t.BestEffort {
			report.RequiredStores++
		}
	}
	for ei := range entities {
		for si := range targets {
			report.Outcomes = append(report.Outcomes, perStore[si][ei])
		}
	}

	w.logger.Info("publish finished",
		zap.String("run_id", runID),
		zap.Int("entities", len(entities)),
		zap.Int("stores", len(targets)),
		zap.Int("fully_committed", len(report.FullyCommitted())),
		zap.Int("partially_committed", len(report.PartiallyCommitted())),
		zap.Int("dead_lettered", len(report.DeadLettered())))

	return report
}

// Delete propagates an entity deletion to every target with the same
// retry and dead-letter treatment as upserts.
func (w *MultiStoreWriter) Delete(ctx context.Context, runID, entityID string, targets []Target) []domain.StoreWriteOutcome {
	outcomes := make([]domain.StoreWriteOutcome, len(targets))

	var wg sync.WaitGroup
	for si, target := range targets {
		wg.Add(1)
		go func(si int, target Target) {
			defer wg.Done()
			outcomes[si] = w.applyWithRetry(ctx, runID, target, entityID, nil, func(callCtx context.Context) error {
				return target.Adapter.Delete(callCtx, entityID)
			})
		}(si, target)
	}
	wg.Wait()

	return outcomes
}

// writeEntity drives the per-(entity, store) state machine:
// Pending -> Committed | Retrying -> (Committed | DeadLettered).
func (w *MultiStoreWriter) writeEntity(ctx context.Context, runID string, target Target, entity *domain.Entity) domain.StoreWriteOutcome {
	// Each store receives its own copy so adapters can mutate freely.
	cp := entity.Clone()
	return w.applyWithRetry(ctx, runID, target, entity.ID, cp, func(callCtx context.Context) error {
		return target.Adapter.Upsert(callCtx, cp)
	})
}

func (w *MultiStoreWriter) applyWithRetry(ctx context.Context, runID string, target Target, entityID string, entity *domain.Entity, op func(ctx context.Context) error) domain.StoreWriteOutcome {
	store := target.Adapter.Name()
	outcome := domain.StoreWriteOutcome{
		StoreName:  store,
		EntityID:   entityID,
		Status:     domain.WritePending,
		BestEffort: target.BestEffort,
	}

	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt
		start := time.Now()
		err := w.call(ctx, op)
		duration := time.Since(start)

		if err == nil {
			outcome.Status = domain.WriteCommitted
			outcome.LastError = ""
			w.metrics.RecordStoreWrite(store, string(domain.WriteCommitted), duration)
			return outcome
		}

		outcome.LastError = err.Error()
		if ctx.Err() != nil || !w.retry.ShouldRetry(attempt, err) {
			outcome.Status = domain.WriteDeadLetter
			w.metrics.RecordStoreWrite(store, string(domain.WriteDeadLetter), duration)
			w.deadLetter(ctx, runID, store, entityID, entity, err)
			return outcome
		}

		outcome.Status = domain.WriteRetrying
		w.metrics.RecordStoreWrite(store, string(domain.WriteRetrying), duration)
		w.logger.Debug("retrying store write",
			zap.String("store", store),
			zap.String("entity_id", entityID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if serr := w.sleep(ctx, w.retry.NextDelay(attempt)); serr != nil {
			outcome.Status = domain.WriteDeadLetter
			w.deadLetter(ctx, runID, store, entityID, entity, err)
			return outcome
		}
	}
}

func (w *MultiStoreWriter) call(ctx context.Context, op func(ctx context.Context) error) error {
	if w.writeTimeout <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	return op(callCtx)
}

// deadLetter records an exhausted write so it is never silently dropped.
// Recording uses a background context: the write's own context may
// already be cancelled.
func (w *MultiStoreWriter) deadLetter(ctx context.Context, runID, store, entityID string, entity *domain.Entity, cause error) {
	if w.deadLetters == nil {
		w.logger.Error("no dead-letter store configured, dropping record",
			zap.String("store", store),
			zap.String("entity_id", entityID),
			zap.Error(cause))
		return
	}
	item := domain.DeadLetter{
		ID:        uuid.New().String(),
		RunID:     runID,
		Kind:      domain.DeadLetterStoreWrite,
		Store:     store,
		EntityID:  entityID,
		Reason:    cause.Error(),
		Timestamp: time.Now(),
	}
	if entity != nil {
		item.Entities = []*domain.Entity{entity.Clone()}
	}

	recordCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := w.deadLetters.Record(recordCtx, item); err != nil {
		w.logger.Error("failed to record dead letter",
			zap.String("store", store),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return
	}
	w.metrics.RecordDeadLetter(string(domain.DeadLetterStoreWrite))
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
