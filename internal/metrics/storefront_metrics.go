package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины отказа оформления для label `reason`.
const (
	ReasonValidation        = "validation"
	ReasonEmptyCart         = "empty_cart"
	ReasonItemNotFound      = "item_not_found"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonStorage           = "storage_unavailable"
	ReasonInternal          = "internal"
)

// StorefrontMetrics содержит метрики оформления и доставки заказов.
// Все методы безопасны для nil-получателя, чтобы сервисы могли работать без метрик.
type StorefrontMetrics struct {
	ordersPlaced       prometheus.Counter
	placementFailures  *prometheus.CounterVec
	placementDuration  prometheus.Histogram
	txAttempts         prometheus.Histogram
	inFlightCheckouts  prometheus.Gauge
	statusTransitions  *prometheus.CounterVec
	otpFailures        prometheus.Counter
	timelineEvents     prometheus.Counter
	outboxEvents       prometheus.Counter
	sideEffectFailures *prometheus.CounterVec

	idempotencyCleanupRuns    *prometheus.CounterVec
	idempotencyCleanupDeleted *prometheus.CounterVec
	idempotencyCleanupLast    prometheus.Gauge

	outboxPublishes     *prometheus.CounterVec
	outboxPending       prometheus.Gauge
	outboxOldestPending prometheus.Gauge
}

// NewStorefrontMetrics регистрирует метрики в глобальном реестре.
func NewStorefrontMetrics() *StorefrontMetrics {
	return NewStorefrontMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStorefrontMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewStorefrontMetricsWithRegisterer(registerer prometheus.Registerer) *StorefrontMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StorefrontMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "quickart_orders_placed_total",
			Help: "Total number of orders placed successfully",
		}),
		placementFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "quickart_order_placement_failures_total",
			Help: "Total number of rejected or failed order placements by reason",
		}, []string{"reason"}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "quickart_order_placement_duration_seconds",
			Help:    "Duration of order placement including transaction retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		txAttempts: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "quickart_checkout_tx_attempts",
			Help:    "Number of transaction attempts per order placement",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),
		inFlightCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "quickart_checkouts_in_flight",
			Help: "Number of order placements currently running",
		}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "quickart_order_status_transitions_total",
			Help: "Total number of applied order status transitions",
		}, []string{"from", "to"}),
		otpFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "quickart_delivery_otp_failures_total",
			Help: "Total number of rejected delivery OTP verifications",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "quickart_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "quickart_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		sideEffectFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "quickart_side_effect_failures_total",
			Help: "Total number of failed post-commit side effects (timeline, outbox)",
		}, []string{"channel"}),
		idempotencyCleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "quickart_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs by result",
		}, []string{"result"}),
		idempotencyCleanupDeleted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "quickart_idempotency_cleanup_deleted_total",
			Help: "Total number of expired idempotency keys deleted by transport scope",
		}, []string{"scope"}),
		idempotencyCleanupLast: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "quickart_idempotency_cleanup_last_deleted",
			Help: "Number of idempotency keys deleted by the last cleanup run",
		}),
		outboxPublishes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "quickart_outbox_publishes_total",
			Help: "Total number of order event deliveries from the outbox by event type and outcome",
		}, []string{"event_type", "result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "quickart_outbox_pending_records",
			Help: "Current number of order events waiting in the outbox",
		}),
		outboxOldestPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "quickart_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest order event waiting in the outbox",
		}),
	}
}

// RecordOrderPlaced фиксирует успешное оформление и число попыток транзакции.
func (m *StorefrontMetrics) RecordOrderPlaced(attempts int) {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
	m.txAttempts.Observe(float64(attempts))
}

// RecordPlacementFailure фиксирует отказ оформления.
func (m *StorefrontMetrics) RecordPlacementFailure(reason string) {
	if m == nil {
		return
	}
	m.placementFailures.WithLabelValues(reason).Inc()
}

// RecordPlacementDuration записывает время оформления.
func (m *StorefrontMetrics) RecordPlacementDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.placementDuration.Observe(duration.Seconds())
}

// CheckoutStarted увеличивает число активных оформлений.
func (m *StorefrontMetrics) CheckoutStarted() {
	if m == nil {
		return
	}
	m.inFlightCheckouts.Inc()
}

// CheckoutFinished уменьшает число активных оформлений.
func (m *StorefrontMetrics) CheckoutFinished() {
	if m == nil {
		return
	}
	m.inFlightCheckouts.Dec()
}

// RecordStatusTransition фиксирует применённый переход статуса.
func (m *StorefrontMetrics) RecordStatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordOTPFailure фиксирует неверный код подтверждения доставки.
func (m *StorefrontMetrics) RecordOTPFailure() {
	if m == nil {
		return
	}
	m.otpFailures.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *StorefrontMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *StorefrontMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordSideEffectFailure фиксирует сбой побочного канала после коммита.
func (m *StorefrontMetrics) RecordSideEffectFailure(channel string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(channel).Inc()
}

// RecordIdempotencyCleanup фиксирует итог прогона очистки: удалённые ключи по scope
// и общий результат. При err != nil счётчики удалений не трогаются.
func (m *StorefrontMetrics) RecordIdempotencyCleanup(deletedByScope map[string]int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.idempotencyCleanupRuns.WithLabelValues("error").Inc()
		return
	}
	m.idempotencyCleanupRuns.WithLabelValues("ok").Inc()

	total := 0
	for scope, deleted := range deletedByScope {
		m.idempotencyCleanupDeleted.WithLabelValues(scope).Add(float64(deleted))
		total += deleted
	}
	m.idempotencyCleanupLast.Set(float64(total))
}


// Исходы доставки события из outbox для label `result`.
const (
	OutboxSent       = "sent"
	OutboxRetried    = "retried"
	OutboxDeadLetter = "dead_letter"
	OutboxDLQFailed  = "dlq_failed"
	OutboxDeferred   = "deferred"
)

// RecordOutboxPublish фиксирует исход доставки события заказа.
func (m *StorefrontMetrics) RecordOutboxPublish(eventType, result string) {
	if m == nil {
		return
	}
	m.outboxPublishes.WithLabelValues(eventType, result).Inc()
}

// SetOutboxBacklog обновляет размер очереди outbox и возраст самого старого события.
func (m *StorefrontMetrics) SetOutboxBacklog(pending int, oldest time.Duration) {
	if m == nil {
		return
	}
	if oldest < 0 {
		oldest = 0
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestPending.Set(oldest.Seconds())
}
