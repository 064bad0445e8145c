package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

func TestOutboxRepository_EnqueueAndPullOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	base := time.Now().UTC()

	second, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-2",
		EventType:     domain.EventOrderPlaced,
		CreatedAt:     base.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	first, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderPlaced,
		Payload:       []byte(`{"status":"placed"}`),
		CreatedAt:     base,
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if first.ID == "" || second.ID == "" {
		t.Fatal("expected generated ids")
	}

	pending, err := repo.PullPending(ctx, 1)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("expected oldest message first, got %+v", pending)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 2 || !stats.OldestPendingAt.Equal(base) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	saved, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateTypeOrder})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := repo.MarkSent(ctx, saved.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, saved.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if got := repo.Attempts(saved.ID); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if err := repo.MarkFailed(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing record")
	}

	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(pending))
	}
}
