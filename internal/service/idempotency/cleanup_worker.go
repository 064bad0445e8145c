// Package idempotency чистит просроченные ключи идемпотентного оформления
// в хранилищах, которые не истекают их сами (память, PostgreSQL).
// Redis удаляет ключи по TTL, и воркер для него не создаётся.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// SweepResult — итог одного прогона очистки.
type SweepResult struct {
	Deleted int
	Batches int
	// ByScope раскладывает удалённые ключи по транспорту, через который они были созданы.
	ByScope map[domain.IdempotencyScope]int
}

// CleanupWorker периодически удаляет просроченные ключи порциями.
type CleanupWorker struct {
	sweeper   domain.IdempotencySweeper
	metrics   *metrics.StorefrontMetrics
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// Option настраивает CleanupWorker.
type Option func(*CleanupWorker)

func WithLogger(logger *log.Entry) Option {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithBatchSize(batchSize int) Option {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(w *CleanupWorker) {
		w.metrics = m
	}
}

// WithClock подменяет часы, от которых отсчитывается граница истечения.
func WithClock(now func() time.Time) Option {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewCleanupWorker(sweeper domain.IdempotencySweeper, opts ...Option) *CleanupWorker {
	w := &CleanupWorker{
		sweeper:   sweeper,
		logger:    log.WithField("component", "idempotency-cleanup"),
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ForRepository создаёт воркер, только если хранилищу нужна внешняя очистка.
// Второе значение false означает, что ключи истекают сами.
func ForRepository(repo domain.IdempotencyRepository, opts ...Option) (*CleanupWorker, bool) {
	sweeper, ok := repo.(domain.IdempotencySweeper)
	if !ok {
		return nil, false
	}
	return NewCleanupWorker(sweeper, opts...), true
}

// Run выполняет очистку сразу и затем каждые interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	w.logger.WithFields(log.Fields{
		"interval":   w.interval,
		"batch_size": w.batchSize,
	}).Info("idempotency cleanup worker started")

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("idempotency cleanup worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	result, err := w.Sweep(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.RecordIdempotencyCleanup(nil, err)
		w.logger.WithError(err).WithField("deleted", result.Deleted).Warn("idempotency cleanup run failed")
		return
	}

	byScope := make(map[string]int, len(result.ByScope))
	fields := log.Fields{"deleted": result.Deleted, "batches": result.Batches}
	for scope, n := range result.ByScope {
		byScope[string(scope)] = n
		fields["deleted_"+string(scope)] = n
	}
	w.metrics.RecordIdempotencyCleanup(byScope, nil)
	if result.Deleted > 0 {
		w.logger.WithFields(fields).Info("idempotency cleanup completed")
	}
}

// Sweep удаляет все ключи, истёкшие к моменту начала прогона. Граница фиксируется
// один раз, поэтому ключи, истекающие во время прогона, ждут следующего.
func (w *CleanupWorker) Sweep(ctx context.Context) (SweepResult, error) {
	result := SweepResult{ByScope: make(map[domain.IdempotencyScope]int)}
	before := w.now()

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		keys, err := w.sweeper.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.Deleted += len(keys)
		for _, key := range keys {
			result.ByScope[domain.IdempotencyKeyScope(key)]++
		}

		if len(keys) < w.batchSize {
			return result, nil
		}
	}
}
