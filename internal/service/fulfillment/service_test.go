package fulfillment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/metrics"
	"github.com/vladislavdragonenkov/quickart/internal/service/orderevents"
	"github.com/vladislavdragonenkov/quickart/internal/storage/memory"
)

const testOTP = "4821"

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func seedOrder(t fataler, store *memory.Store, id string, total int64) {
	t.Helper()
	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx domain.Transaction) error {
		return tx.CreateOrder(ctx, domain.Order{
			ID:              id,
			StoreID:         "store-1",
			UserID:          domain.StringPtr("user-1"),
			Items:           []domain.OrderLine{{ItemID: "a", PriceMinor: total, Quantity: 1}},
			TotalMinor:      total,
			DeliveryAddress: "12 MG Road",
			Phone:           "9876543210",
			Status:          domain.OrderStatusPlaced,
			OTP:             testOTP,
			CreatedAt:       time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func newService(store *memory.Store) *Service {
	return NewService(store, nil, nil, nil)
}

func driveToOutForDelivery(t *testing.T, svc *Service, orderID string) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.UpdateStatus(ctx, orderID, domain.OrderStatusConfirmed)
	require.NoError(t, err)
	_, err = svc.AssignDeliveryPerson(ctx, orderID, domain.DeliveryPerson{ID: "dp-1", Name: "Ravi"})
	require.NoError(t, err)
}

func TestHappyPathThroughDelivery(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "o-1", 2500)
	timeline := memory.NewTimelineRepository()
	outbox := memory.NewOutboxRepository()
	m := metrics.NewStorefrontMetricsWithRegisterer(prometheus.NewRegistry())
	svc := NewService(store, orderevents.NewRecorder(timeline, outbox, m, nil), m, nil)

	confirmed, err := svc.UpdateStatus(ctx, "o-1", domain.OrderStatusConfirmed)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, confirmed.Status)

	assigned, err := svc.AssignDeliveryPerson(ctx, "o-1", domain.DeliveryPerson{ID: "dp-1", Name: "Ravi"})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOutForDelivery, assigned.Status)
	require.NotNil(t, assigned.DeliveryPerson)
	require.Equal(t, "Ravi", assigned.DeliveryPerson.Name)

	delivered, err := svc.VerifyOtpAndComplete(ctx, "o-1", testOTP)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDelivered, delivered.Status)
	require.EqualValues(t, 4, delivered.Version)

	events, err := timeline.List(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for _, msg := range pending {
		require.Equal(t, domain.EventOrderStatusChanged, msg.EventType)
	}
}

func TestUpdateStatusOnlyConfirms(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "o-1", 100)
	svc := newService(store)

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusPlaced,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
		domain.OrderStatus("cancelled"),
	} {
		_, err := svc.UpdateStatus(ctx, "o-1", status)
		require.ErrorIs(t, err, domain.ErrInvalidTransition, "status %s", status)
	}

	_, err := svc.UpdateStatus(ctx, "o-1", domain.OrderStatusConfirmed)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, "o-1", domain.OrderStatusConfirmed)
	require.ErrorIs(t, err, domain.ErrInvalidTransition, "confirmed -> confirmed is not modelled")
}

func TestAssignmentRequiresConfirmed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "o-1", 100)
	svc := newService(store)

	_, err := svc.AssignDeliveryPerson(ctx, "o-1", domain.DeliveryPerson{ID: "dp-1"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	order, err := svc.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPlaced, order.Status)
	require.Nil(t, order.DeliveryPerson)

	_, err = svc.AssignDeliveryPerson(ctx, "o-1", domain.DeliveryPerson{})
	require.ErrorIs(t, err, domain.ErrDeliveryPersonRequired)
}

func TestVerifyOtpGate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "o-1", 100)
	svc := newService(store)

	_, err := svc.VerifyOtpAndComplete(ctx, "o-1", testOTP)
	require.ErrorIs(t, err, domain.ErrInvalidTransition, "otp is only checked out for delivery")

	driveToOutForDelivery(t, svc, "o-1")

	for _, wrong := range []string{"", "0000", "482", "48210", "1234"} {
		_, err := svc.VerifyOtpAndComplete(ctx, "o-1", wrong)
		require.ErrorIs(t, err, domain.ErrInvalidOTP, "otp %q", wrong)

		order, err := svc.GetOrder(ctx, "o-1")
		require.NoError(t, err)
		require.Equal(t, domain.OrderStatusOutForDelivery, order.Status)
	}

	_, err = svc.VerifyOtpAndComplete(ctx, "o-1", testOTP)
	require.NoError(t, err)

	_, err = svc.VerifyOtpAndComplete(ctx, "o-1", testOTP)
	require.ErrorIs(t, err, domain.ErrInvalidTransition, "delivered is terminal")
}

func TestUnknownOrder(t *testing.T) {
	ctx := context.Background()
	svc := newService(memory.NewStore())

	_, err := svc.UpdateStatus(ctx, "missing", domain.OrderStatusConfirmed)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = svc.AssignDeliveryPerson(ctx, "missing", domain.DeliveryPerson{ID: "dp-1"})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = svc.VerifyOtpAndComplete(ctx, "missing", testOTP)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = svc.GetOrder(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestWithoutStore(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	_, err := svc.UpdateStatus(context.Background(), "o-1", domain.OrderStatusConfirmed)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	_, err = svc.ListStoreOrders(context.Background(), "store-1", 0)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestConcurrentAssignmentHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithMaxAttempts(20), memory.WithRetryBackoff(0))
	seedOrder(t, store, "o-1", 100)
	svc := newService(store)
	_, err := svc.UpdateStatus(ctx, "o-1", domain.OrderStatusConfirmed)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, id := range []string{"dp-1", "dp-2", "dp-3", "dp-4"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.AssignDeliveryPerson(ctx, "o-1", domain.DeliveryPerson{ID: id}); err == nil {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	order, err := svc.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, winners[0], order.DeliveryPerson.ID)
}

func TestDeliveryListingsAndEarnings(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	seedOrder(t, store, "o-1", 1000)
	seedOrder(t, store, "o-2", 2500)
	seedOrder(t, store, "o-3", 700)
	driveToOutForDelivery(t, svc, "o-1")
	driveToOutForDelivery(t, svc, "o-2")
	driveToOutForDelivery(t, svc, "o-3")
	_, err := svc.VerifyOtpAndComplete(ctx, "o-1", testOTP)
	require.NoError(t, err)
	_, err = svc.VerifyOtpAndComplete(ctx, "o-2", testOTP)
	require.NoError(t, err)

	orders, err := svc.ListDeliveryOrders(ctx, "dp-1")
	require.NoError(t, err)
	require.Len(t, orders, 3)
	require.Equal(t, "o-3", orders[0].ID, "active delivery first")

	earnings, err := svc.DeliveryEarnings(ctx, "dp-1")
	require.NoError(t, err)
	require.Equal(t, 2, earnings.DeliveredOrders)
	require.EqualValues(t, 3500, earnings.DeliveredTotal)
	require.EqualValues(t, 700, earnings.EarningsMinor)

	none, err := svc.DeliveryEarnings(ctx, "dp-unknown")
	require.NoError(t, err)
	require.Zero(t, none.EarningsMinor)

	storeOrders, err := svc.ListStoreOrders(ctx, "store-1", 2)
	require.NoError(t, err)
	require.Len(t, storeOrders, 2)

	userOrders, err := svc.ListUserOrders(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, userOrders, 3)
}

// Наблюдаемые статусы всегда образуют префикс цепочки без повторов и откатов.
func TestStatusMonotonicityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		store := memory.NewStore()
		seedOrder(t, store, "o", 100)
		svc := newService(store)

		sequence := domain.OrderStatuses()
		observed := []domain.OrderStatus{domain.OrderStatusPlaced}

		steps := rapid.SliceOfN(rapid.IntRange(0, 3), 1, 15).Draw(t, "steps")
		for _, step := range steps {
			var (
				order domain.Order
				err   error
			)
			switch step {
			case 0:
				status := rapid.SampledFrom(sequence).Draw(t, "status")
				order, err = svc.UpdateStatus(ctx, "o", status)
			case 1:
				order, err = svc.AssignDeliveryPerson(ctx, "o", domain.DeliveryPerson{ID: "dp-1"})
			case 2:
				order, err = svc.VerifyOtpAndComplete(ctx, "o", "0000")
			case 3:
				order, err = svc.VerifyOtpAndComplete(ctx, "o", testOTP)
			}
			if err == nil {
				observed = append(observed, order.Status)
			}
		}

		if len(observed) > len(sequence) {
			t.Fatalf("too many transitions: %v", observed)
		}
		for i, status := range observed {
			if status != sequence[i] {
				t.Fatalf("observed %v is not a prefix of %v", observed, sequence)
			}
		}
	})
}
