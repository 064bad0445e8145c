package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestStorefrontMetricsRecordPlacement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStorefrontMetricsWithRegisterer(reg)

	m.CheckoutStarted()
	m.RecordOrderPlaced(2)
	m.RecordPlacementDuration(15 * time.Millisecond)
	m.CheckoutFinished()
	m.RecordPlacementFailure(ReasonInsufficientStock)
	m.RecordPlacementFailure(ReasonInsufficientStock)

	if got := counterValue(t, m.ordersPlaced); got != 1 {
		t.Fatalf("expected 1 placed order, got %v", got)
	}
	if got := counterValue(t, m.placementFailures.WithLabelValues(ReasonInsufficientStock)); got != 2 {
		t.Fatalf("expected 2 insufficient stock failures, got %v", got)
	}

	var gauge dto.Metric
	if err := m.inFlightCheckouts.Write(&gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if gauge.GetGauge().GetValue() != 0 {
		t.Fatalf("expected no in-flight checkouts, got %v", gauge.GetGauge().GetValue())
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "quickart_checkout_tx_attempts" {
			found = true
			if got := family.GetMetric()[0].GetHistogram().GetSampleSum(); got != 2 {
				t.Fatalf("expected attempts sum 2, got %v", got)
			}
		}
	}
	if !found {
		t.Fatal("tx attempts histogram not gathered")
	}
}

func TestStorefrontMetricsWorkflowCounters(t *testing.T) {
	m := NewStorefrontMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordStatusTransition("placed", "confirmed")
	m.RecordOTPFailure()
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()
	m.RecordSideEffectFailure("outbox")

	if got := counterValue(t, m.statusTransitions.WithLabelValues("placed", "confirmed")); got != 1 {
		t.Fatalf("expected 1 transition, got %v", got)
	}
	if got := counterValue(t, m.otpFailures); got != 1 {
		t.Fatalf("expected 1 otp failure, got %v", got)
	}
	if got := counterValue(t, m.sideEffectFailures.WithLabelValues("outbox")); got != 1 {
		t.Fatalf("expected 1 side effect failure, got %v", got)
	}
}

func TestStorefrontMetricsReuseRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewStorefrontMetricsWithRegisterer(reg)
	second := NewStorefrontMetricsWithRegisterer(reg)

	first.RecordOrderPlaced(1)
	if got := counterValue(t, second.ordersPlaced); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestStorefrontMetricsNilSafe(t *testing.T) {
	var m *StorefrontMetrics
	m.RecordOrderPlaced(1)
	m.RecordPlacementFailure(ReasonInternal)
	m.RecordPlacementDuration(time.Second)
	m.CheckoutStarted()
	m.CheckoutFinished()
	m.RecordStatusTransition("a", "b")
	m.RecordOTPFailure()
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()
	m.RecordSideEffectFailure("timeline")
	m.RecordIdempotencyCleanup(map[string]int{"grpc": 1}, nil)
	m.RecordOutboxPublish("OrderPlaced", OutboxSent)
	m.SetOutboxBacklog(3, time.Minute)
}

func TestStorefrontMetricsOutboxBacklog(t *testing.T) {
	m := NewStorefrontMetricsWithRegisterer(prometheus.NewRegistry())

	m.SetOutboxBacklog(4, -time.Second)
	m.RecordOutboxPublish("OrderPlaced", OutboxDeadLetter)

	var pending, oldest dto.Metric
	if err := m.outboxPending.Write(&pending); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if err := m.outboxOldestPending.Write(&oldest); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if pending.GetGauge().GetValue() != 4 {
		t.Fatalf("expected 4 pending, got %v", pending.GetGauge().GetValue())
	}
	if oldest.GetGauge().GetValue() != 0 {
		t.Fatalf("clock skew must not produce negative age, got %v", oldest.GetGauge().GetValue())
	}
	if got := counterValue(t, m.outboxPublishes.WithLabelValues("OrderPlaced", OutboxDeadLetter)); got != 1 {
		t.Fatalf("expected 1 dead letter, got %v", got)
	}
}

func TestStorefrontMetricsIdempotencyCleanup(t *testing.T) {
	m := NewStorefrontMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordIdempotencyCleanup(map[string]int{"grpc": 3, "http": 1}, nil)
	m.RecordIdempotencyCleanup(map[string]int{"grpc": 2}, nil)
	m.RecordIdempotencyCleanup(nil, errors.New("db down"))

	if got := counterValue(t, m.idempotencyCleanupDeleted.WithLabelValues("grpc")); got != 5 {
		t.Fatalf("expected 5 grpc keys deleted, got %v", got)
	}
	if got := counterValue(t, m.idempotencyCleanupDeleted.WithLabelValues("http")); got != 1 {
		t.Fatalf("expected 1 http key deleted, got %v", got)
	}
	if got := counterValue(t, m.idempotencyCleanupRuns.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 successful runs, got %v", got)
	}
	if got := counterValue(t, m.idempotencyCleanupRuns.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}

	var gauge dto.Metric
	if err := m.idempotencyCleanupLast.Write(&gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if gauge.GetGauge().GetValue() != 2 {
		t.Fatalf("last run must report the last successful total, got %v", gauge.GetGauge().GetValue())
	}
}
