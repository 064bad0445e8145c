package orderevents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/metrics"
	"github.com/vladislavdragonenkov/quickart/internal/storage/memory"
)

type failingOutbox struct {
	domain.OutboxRepository
}

func (failingOutbox) Enqueue(context.Context, domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("outbox down")
}

func placedOrder() domain.Order {
	return domain.Order{
		ID:         "order-1",
		StoreID:    "store-1",
		Items:      []domain.OrderLine{{ItemID: "a", Quantity: 2, PriceMinor: 1000}},
		TotalMinor: 2000,
		Status:     domain.OrderStatusPlaced,
		OTP:        "4821",
		CreatedAt:  time.Now().UTC(),
	}
}

func TestRecorderOrderPlaced(t *testing.T) {
	ctx := context.Background()
	timeline := memory.NewTimelineRepository()
	outbox := memory.NewOutboxRepository()
	recorder := NewRecorder(timeline, outbox, metrics.NewStorefrontMetricsWithRegisterer(prometheus.NewRegistry()), nil)

	recorder.OrderPlaced(ctx, placedOrder())

	events, err := timeline.List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventOrderPlaced, events[0].Type)

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventOrderPlaced, pending[0].EventType)
	require.NotContains(t, string(pending[0].Payload), "4821", "otp must not leave the service")

	var payload domain.OrderPlacedPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.EqualValues(t, 2000, payload.TotalMinor)
}

func TestRecorderStatusChanged(t *testing.T) {
	ctx := context.Background()
	outbox := memory.NewOutboxRepository()
	recorder := NewRecorder(nil, outbox, nil, nil)

	order := placedOrder()
	order.Status = domain.OrderStatusOutForDelivery
	order.DeliveryPerson = &domain.DeliveryPerson{ID: "dp-1", Name: "Ravi"}
	recorder.StatusChanged(ctx, order, domain.OrderStatusConfirmed)

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var payload domain.OrderStatusChangedPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, domain.OrderStatusConfirmed, payload.From)
	require.Equal(t, domain.OrderStatusOutForDelivery, payload.To)
	require.NotNil(t, payload.DeliveryPersonID)
	require.Equal(t, "dp-1", *payload.DeliveryPersonID)
}

func TestRecorderSwallowsSideEffectFailures(t *testing.T) {
	recorder := NewRecorder(nil, failingOutbox{}, nil, nil)
	require.NotPanics(t, func() {
		recorder.OrderPlaced(context.Background(), placedOrder())
	})

	var nilRecorder *Recorder
	require.NotPanics(t, func() {
		nilRecorder.StatusChanged(context.Background(), placedOrder(), domain.OrderStatusPlaced)
	})
}
