// Package outbox доставляет события заказов (OrderPlaced, OrderStatusChanged)
// из outbox в брокер.
//
// События одного заказа уходят в порядке записи. Событие, которое не удалось
// ни опубликовать, ни переложить в DLQ, остаётся в outbox, а более поздние
// события того же заказа в этом батче откладываются до следующего опроса.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// BatchResult — итог одного опроса outbox.
type BatchResult struct {
	Pulled       int
	Sent         int
	DeadLettered int
	// Stuck — события, которые не ушли ни в брокер, ни в DLQ и остались pending.
	Stuck int
	// Deferred — события заказов, у которых в этом батче застряло более раннее событие.
	Deferred int
}

// Worker опрашивает outbox и публикует события заказов.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlq            domain.OutboxPublisher
	metrics        *metrics.StorefrontMetrics
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт DLQ для событий, исчерпавших попытки. Без него
// такие события только помечаются failed.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.dlq = publisher
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается
// до maxRetryDelay. Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay >= 0 {
			w.retryBaseDelay = delay
		}
	}
}

func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run опрашивает outbox каждые pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}
	w.logger.WithFields(log.Fields{
		"poll_interval": w.pollInterval,
		"batch_size":    w.batchSize,
		"dlq":           w.dlq != nil,
	}).Info("outbox worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce забирает один батч pending-событий и пытается их доставить.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}
	defer w.refreshBacklog(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}
	result.Pulled = len(events)

	// заказы, у которых в этом батче застряло событие
	stuckOrders := make(map[string]struct{})
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		entry := w.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"order_id":   event.AggregateID,
			"event_type": event.EventType,
		})

		if _, stuck := stuckOrders[event.AggregateID]; stuck {
			result.Deferred++
			w.metrics.RecordOutboxPublish(event.EventType, metrics.OutboxDeferred)
			entry.Debug("order has an undelivered earlier event, deferring")
			continue
		}

		attempts, err := w.publishWithRetry(ctx, event)
		if err == nil {
			result.Sent++
			w.metrics.RecordOutboxPublish(event.EventType, metrics.OutboxSent)
			if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
				entry.WithError(markErr).Warn("failed to mark outbox message as sent, it will be published again")
			}
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}

		if w.deadLetter(ctx, entry, event, attempts, err) {
			result.DeadLettered++
			continue
		}
		result.Stuck++
		stuckOrders[event.AggregateID] = struct{}{}
	}

	if result.Sent+result.DeadLettered+result.Stuck > 0 {
		w.logger.WithFields(log.Fields{
			"sent":          result.Sent,
			"dead_lettered": result.DeadLettered,
			"stuck":         result.Stuck,
			"deferred":      result.Deferred,
		}).Debug("outbox batch processed")
	}
	return result
}

// publishWithRetry возвращает число сделанных попыток и последнюю ошибку.
func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			w.metrics.RecordOutboxPublish(event.EventType, metrics.OutboxRetried)
			if err := w.sleep(ctx, w.retryBackoff(attempt-1)); err != nil {
				return attempt - 1, err
			}
		}
		lastErr = w.publisher.Publish(ctx, event)
		if lastErr == nil {
			return attempt, nil
		}
	}
	return w.maxAttempts, fmt.Errorf("publish %s after %d attempts: %w", event.EventType, w.maxAttempts, lastErr)
}

// deadLetter убирает событие из очереди: кладёт его в DLQ (если она есть) и помечает
// failed. false означает, что DLQ не приняла событие и оно осталось pending.
func (w *Worker) deadLetter(ctx context.Context, entry *log.Entry, event domain.OutboxMessage, attempts int, publishErr error) bool {
	entry = entry.WithField("attempts", attempts)

	if w.dlq != nil {
		if err := w.publishToDLQ(ctx, event, attempts, publishErr); err != nil {
			w.metrics.RecordOutboxPublish(event.EventType, metrics.OutboxDLQFailed)
			entry.WithError(err).WithField("publish_error", publishErr.Error()).
				Error("order event is neither published nor dead-lettered, keeping it in the outbox")
			return false
		}
	}

	w.metrics.RecordOutboxPublish(event.EventType, metrics.OutboxDeadLetter)
	entry.WithError(publishErr).Error("order event dead-lettered")
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox message as failed")
	}
	return true
}

func (w *Worker) publishToDLQ(ctx context.Context, event domain.OutboxMessage, attempts int, publishErr error) error {
	payload, err := json.Marshal(domain.DeadLetter{
		OutboxID:      event.ID,
		OrderID:       event.AggregateID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishError:  publishErr.Error(),
		Attempts:      attempts,
		DeadAt:        w.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := event
	dead.Payload = payload
	if err := w.dlq.Publish(ctx, dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var oldest time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		oldest = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, oldest)
}

// retryBackoff — пауза после попытки attempt: base, 2·base, 4·base… не больше maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
