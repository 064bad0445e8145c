// Package orderevents фиксирует побочные эффекты после коммита: событие в
// таймлайне заказа и сообщение в outbox. Сбои только логируются.
//
// Ограничение: сообщение кладётся в outbox отдельной записью уже после коммита
// заказа, а не в той же транзакции. Если процесс упадёт между коммитом и
// записью или запись в outbox не удастся, заказ останется, а событие о нём
// потеряется без повторной попытки. Доставка из outbox в Kafka at-least-once,
// но только для сообщений, которые успели туда попасть. Неудачную запись видно
// по quickart_side_effect_failures_total{channel="outbox"}; падение процесса
// метрика не покажет.
package orderevents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/metrics"
)

// Recorder пишет события заказа в таймлайн и outbox. Любое поле может быть nil.
type Recorder struct {
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	metrics  *metrics.StorefrontMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewRecorder создаёт Recorder.
func NewRecorder(timeline domain.TimelineRepository, outbox domain.OutboxRepository, m *metrics.StorefrontMetrics, logger *log.Entry) *Recorder {
	if logger == nil {
		logger = log.New().WithField("component", "order-events")
	}
	return &Recorder{
		timeline: timeline,
		outbox:   outbox,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OrderPlaced фиксирует создание заказа.
func (r *Recorder) OrderPlaced(ctx context.Context, order domain.Order) {
	if r == nil {
		return
	}
	r.appendTimeline(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.EventOrderPlaced,
		Reason:   fmt.Sprintf("order placed with %d line(s), total %d", len(order.Items), order.TotalMinor),
		Occurred: order.CreatedAt,
	})
	r.enqueue(ctx, order.ID, domain.EventOrderPlaced, domain.NewOrderPlacedPayload(order))
}

// StatusChanged фиксирует применённый переход статуса.
func (r *Recorder) StatusChanged(ctx context.Context, order domain.Order, from domain.OrderStatus) {
	if r == nil {
		return
	}
	now := r.now()
	r.appendTimeline(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.EventOrderStatusChanged,
		Reason:   fmt.Sprintf("%s -> %s", from, order.Status),
		Occurred: now,
	})

	payload := domain.OrderStatusChangedPayload{
		OrderID:   order.ID,
		StoreID:   order.StoreID,
		From:      from,
		To:        order.Status,
		ChangedAt: now,
	}
	if order.DeliveryPerson != nil {
		payload.DeliveryPersonID = domain.StringPtr(order.DeliveryPerson.ID)
	}
	r.enqueue(ctx, order.ID, domain.EventOrderStatusChanged, payload)
}

func (r *Recorder) appendTimeline(ctx context.Context, event domain.TimelineEvent) {
	if r.timeline == nil {
		return
	}
	if err := r.timeline.Append(ctx, event); err != nil {
		r.metrics.RecordSideEffectFailure("timeline")
		r.logger.WithError(err).WithFields(log.Fields{
			"order_id": event.OrderID,
			"type":     event.Type,
		}).Warn("failed to append timeline event")
		return
	}
	r.metrics.RecordTimelineEvent()
}

func (r *Recorder) enqueue(ctx context.Context, orderID, eventType string, payload any) {
	if r.outbox == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.metrics.RecordSideEffectFailure("outbox")
		r.logger.WithError(err).WithField("order_id", orderID).Error("failed to marshal outbox payload")
		return
	}

	if _, err := r.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     r.now(),
	}); err != nil {
		r.metrics.RecordSideEffectFailure("outbox")
		r.logger.WithError(err).WithFields(log.Fields{
			"order_id":   orderID,
			"event_type": eventType,
		}).Warn("failed to enqueue outbox message")
		return
	}
	r.metrics.RecordOutboxEvent()
}
