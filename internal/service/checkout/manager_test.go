package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/metrics"
	"github.com/vladislavdragonenkov/quickart/internal/service/orderevents"
	"github.com/vladislavdragonenkov/quickart/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fataler покрывает и *testing.T, и *rapid.T.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func newStore(t fataler, stocks map[string]int, opts ...memory.Option) *memory.Store {
	t.Helper()
	store := memory.NewStore(opts...)
	for id, stock := range stocks {
		if _, err := store.PutItem(context.Background(), domain.Item{
			ID:         id,
			Name:       "Item " + id,
			PriceMinor: 10,
			Stock:      stock,
			StoreID:    "store-1",
		}); err != nil {
			t.Fatalf("seed item %s: %v", id, err)
		}
	}
	return store
}

func line(itemID string, qty int, price int64) domain.CartLine {
	return domain.CartLine{
		ItemID:     itemID,
		Name:       "Item " + itemID,
		PriceMinor: price,
		Quantity:   qty,
		StoreID:    "store-1",
		StoreName:  "Corner Store",
	}
}

func request(lines ...domain.CartLine) PlaceOrderRequest {
	var total int64
	for _, l := range lines {
		total += l.Subtotal()
	}
	return PlaceOrderRequest{
		Lines:           lines,
		TotalMinor:      total,
		DeliveryAddress: "12 MG Road, Bengaluru",
		Phone:           "9876543210",
	}
}

func stockOf(t fataler, store *memory.Store, id string) int {
	t.Helper()
	item, err := store.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item %s: %v", id, err)
	}
	return item.Stock
}

func TestPlaceOrder_InsufficientStockLeavesEverythingUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, map[string]int{"A": 5, "B": 0})
	manager := NewManager(store)

	_, err := manager.PlaceOrder(ctx, request(line("A", 2, 10), line("B", 1, 5)))

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, "B", stockErr.ItemID)
	require.Equal(t, "Item B", stockErr.ItemName)
	require.Equal(t, 0, stockErr.Available)
	require.Equal(t, 5, stockOf(t, store, "A"))

	orders, err := store.ListOrders(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestPlaceOrder_SucceedsAndDecrementsStock(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, map[string]int{"A": 5, "B": 1})
	manager := NewManager(store,
		WithIDGenerator(func() string { return "order-1" }),
		WithOTPGenerator(func() (string, error) { return "4821", nil }),
	)

	id, err := manager.PlaceOrder(ctx, PlaceOrderRequest{
		Lines:           []domain.CartLine{line("A", 2, 10), line("B", 1, 5)},
		TotalMinor:      25,
		DeliveryAddress: "12 MG Road, Bengaluru",
		Phone:           "+919876543210",
		Requester:       &domain.Requester{ID: "user-1", Name: "Asha", Email: "asha@example.com"},
	})
	require.NoError(t, err)
	require.Equal(t, "order-1", id)
	require.Equal(t, 3, stockOf(t, store, "A"))
	require.Equal(t, 0, stockOf(t, store, "B"))

	order, err := store.GetOrder(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 25, order.TotalMinor)
	require.EqualValues(t, order.ItemsTotal(), order.TotalMinor)
	require.Equal(t, domain.OrderStatusPlaced, order.Status)
	require.Equal(t, "4821", order.OTP)
	require.Equal(t, "store-1", order.StoreID)
	require.Nil(t, order.DeliveryPerson)
	require.NotNil(t, order.UserID)
	require.Equal(t, "user-1", *order.UserID)
	require.Len(t, order.Items, 2)
	require.Equal(t, "Corner Store", order.Items[0].StoreName)
}

func TestPlaceOrder_GuestOrderHasNoUser(t *testing.T) {
	store := newStore(t, map[string]int{"A": 1})
	id, err := NewManager(store).PlaceOrder(context.Background(), request(line("A", 1, 10)))
	require.NoError(t, err)

	order, err := store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	require.Nil(t, order.UserID)
	require.Nil(t, order.UserName)
	require.Nil(t, order.UserEmail)
}

func TestPlaceOrder_Validation(t *testing.T) {
	cases := []struct {
		name string
		req  PlaceOrderRequest
		want error
	}{
		{name: "empty cart", req: PlaceOrderRequest{Phone: "9876543210", DeliveryAddress: "x"}, want: domain.ErrEmptyCart},
		{name: "zero quantity", req: request(line("A", 0, 10)), want: domain.ErrInvalidQuantity},
		{name: "negative quantity", req: request(line("A", -1, 10)), want: domain.ErrInvalidQuantity},
		{name: "line amount overflows", req: request(line("A", 2, math.MaxInt64/2+1)), want: domain.ErrLineAmountTooLarge},
		{
			name: "order total overflows",
			req:  request(line("A", 1, math.MaxInt64/2+1), line("B", 1, math.MaxInt64/2+1)),
			want: domain.ErrLineAmountTooLarge,
		},
		{
			name: "mixed stores",
			req: func() PlaceOrderRequest {
				other := line("B", 1, 5)
				other.StoreID = "store-2"
				return request(line("A", 1, 10), other)
			}(),
			want: domain.ErrMixedStoreCart,
		},
		{
			name: "total mismatch",
			req: func() PlaceOrderRequest {
				req := request(line("A", 2, 10))
				req.TotalMinor = 19
				return req
			}(),
			want: domain.ErrTotalMismatch,
		},
		{
			name: "bad phone",
			req: func() PlaceOrderRequest {
				req := request(line("A", 1, 10))
				req.Phone = "12345"
				return req
			}(),
			want: domain.ErrInvalidPhone,
		},
		{
			name: "blank address",
			req: func() PlaceOrderRequest {
				req := request(line("A", 1, 10))
				req.DeliveryAddress = "   "
				return req
			}(),
			want: domain.ErrAddressRequired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t, map[string]int{"A": 5, "B": 5})
			_, err := NewManager(store).PlaceOrder(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, 5, stockOf(t, store, "A"))
		})
	}
}

func TestPlaceOrder_UnknownItem(t *testing.T) {
	store := newStore(t, map[string]int{"A": 5})
	_, err := NewManager(store).PlaceOrder(context.Background(), request(line("A", 1, 10), line("ghost", 1, 5)))

	var missing *domain.ItemNotFoundError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "Item ghost", missing.ItemName)
	require.Equal(t, "Item ghost not found.", domain.UserMessage(err))
	require.Equal(t, 5, stockOf(t, store, "A"))
}

func TestPlaceOrder_WithoutStoreFailsFast(t *testing.T) {
	_, err := NewManager(nil).PlaceOrder(context.Background(), request(line("A", 1, 10)))
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)

	var manager *Manager
	_, err = manager.PlaceOrder(context.Background(), request(line("A", 1, 10)))
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestPlaceOrder_DuplicateLinesAreAggregated(t *testing.T) {
	store := newStore(t, map[string]int{"A": 3})
	manager := NewManager(store)

	_, err := manager.PlaceOrder(context.Background(), request(line("A", 2, 10), line("A", 2, 10)))
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 4, stockErr.Requested)
	require.Equal(t, 3, stockOf(t, store, "A"))

	_, err = manager.PlaceOrder(context.Background(), request(line("A", 1, 10), line("A", 2, 10)))
	require.NoError(t, err)
	require.Equal(t, 0, stockOf(t, store, "A"))
}

type brokenStore struct {
	domain.DocumentStore
	err error
}

func (b brokenStore) RunTransaction(context.Context, domain.TxFunc) error {
	return b.err
}

func TestPlaceOrder_InfrastructureErrorsAreWrapped(t *testing.T) {
	cause := errors.New("connection reset by peer")
	_, err := NewManager(brokenStore{err: cause}).PlaceOrder(context.Background(), request(line("A", 1, 10)))

	require.ErrorIs(t, err, domain.ErrOrderPlacementFailed)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "Failed to place order due to an unexpected error.", domain.UserMessage(err))
}

func TestPlaceOrder_ConflictExhaustionIsPlacementFailure(t *testing.T) {
	_, err := NewManager(brokenStore{err: fmt.Errorf("%w: gave up", domain.ErrTxConflict)}).
		PlaceOrder(context.Background(), request(line("A", 1, 10)))

	require.ErrorIs(t, err, domain.ErrOrderPlacementFailed)
	require.ErrorIs(t, err, domain.ErrTxConflict)
}

func TestPlaceOrder_OTPFailureLeavesNoWrites(t *testing.T) {
	store := newStore(t, map[string]int{"A": 5})
	manager := NewManager(store, WithOTPGenerator(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))

	_, err := manager.PlaceOrder(context.Background(), request(line("A", 1, 10)))
	require.ErrorIs(t, err, domain.ErrOrderPlacementFailed)
	require.Equal(t, 5, stockOf(t, store, "A"))
}

func TestPlaceOrder_RecordsEventsAfterCommit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, map[string]int{"A": 5})
	timeline := memory.NewTimelineRepository()
	outbox := memory.NewOutboxRepository()
	m := metrics.NewStorefrontMetricsWithRegisterer(prometheus.NewRegistry())
	manager := NewManager(store,
		WithMetrics(m),
		WithEvents(orderevents.NewRecorder(timeline, outbox, m, nil)),
	)

	id, err := manager.PlaceOrder(ctx, request(line("A", 1, 10)))
	require.NoError(t, err)

	events, err := timeline.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 1)

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, id, pending[0].AggregateID)

	_, err = manager.PlaceOrder(ctx, request(line("A", 10, 10)))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	pending, err = outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "failed placement must not emit events")
}

func TestGenerateOTPRange(t *testing.T) {
	for i := 0; i < 500; i++ {
		otp, err := GenerateOTP()
		require.NoError(t, err)
		require.Len(t, otp, 4)
		n, err := strconv.Atoi(otp)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 1000)
		require.LessOrEqual(t, n, 9999)
	}
}

// checkoutRace — итог параллельных оформлений одного товара.
type checkoutRace struct {
	sold        int
	soldOrders  int
	rejectedQty []int
	failed      []error
	unexpected  []error
}

func raceCheckouts(t *testing.T, store *memory.Store, workers int) checkoutRace {
	t.Helper()

	manager := NewManager(store)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		race checkoutRace
	)
	for i := 0; i < workers; i++ {
		qty := i%3 + 1
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.PlaceOrder(context.Background(), request(line("A", qty, 10)))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				race.sold += qty
				race.soldOrders++
			case errors.Is(err, domain.ErrInsufficientStock):
				race.rejectedQty = append(race.rejectedQty, qty)
			case errors.Is(err, domain.ErrOrderPlacementFailed):
				race.failed = append(race.failed, err)
			default:
				race.unexpected = append(race.unexpected, err)
			}
		}()
	}
	wg.Wait()
	return race
}

// requireConsistentStock проверяет, что сток, заказы и исходы вызовов сходятся.
func requireConsistentStock(t *testing.T, store *memory.Store, initialStock, workers int, race checkoutRace) int {
	t.Helper()

	require.Empty(t, race.unexpected)
	require.Equal(t, workers, race.soldOrders+len(race.rejectedQty)+len(race.failed))
	require.LessOrEqual(t, race.sold, initialStock)

	remaining := stockOf(t, store, "A")
	require.GreaterOrEqual(t, remaining, 0)
	require.Equal(t, initialStock-race.sold, remaining)

	// сток только убывает, поэтому отказ по остатку справедлив и для финального стока
	for _, qty := range race.rejectedQty {
		require.Greater(t, qty, remaining, "request for %d was rejected while %d units are still in stock", qty, remaining)
	}

	orders, err := store.ListOrders(context.Background(), domain.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, orders, race.soldOrders)
	var ordered int
	for _, order := range orders {
		ordered += order.Items[0].Quantity
	}
	require.Equal(t, race.sold, ordered)
	return remaining
}

func TestPlaceOrder_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	const (
		initialStock = 20
		workers      = 30
	)
	// Каждая неудачная попытка вызвана чьим-то успешным коммитом, поэтому
	// initialStock+1 попыток достаточно, чтобы ни один вызов не исчерпал ретраи.
	store := newStore(t, map[string]int{"A": initialStock}, memory.WithMaxAttempts(initialStock+1), memory.WithRetryBackoff(0))

	race := raceCheckouts(t, store, workers)
	require.Empty(t, race.failed, "raised retry budget must absorb every conflict")
	requireConsistentStock(t, store, initialStock, workers, race)
	require.NotEmpty(t, race.rejectedQty)
}

func TestPlaceOrder_ConcurrentCheckoutsWithDefaultRetryBudget(t *testing.T) {
	const (
		initialStock = 20
		workers      = 30
	)
	// Бюджет попыток по умолчанию, как в конфигурации сервиса.
	store := newStore(t, map[string]int{"A": initialStock})

	race := raceCheckouts(t, store, workers)
	remaining := requireConsistentStock(t, store, initialStock, workers, race)
	for _, err := range race.failed {
		require.ErrorIs(t, err, domain.ErrTxConflict, "only exhausted conflicts may surface as placement failures")
	}

	t.Logf("default retry budget: %d placed, %d rejected, %d failed with ErrOrderPlacementFailed (%.0f%%), %d left in stock",
		race.soldOrders, len(race.rejectedQty), len(race.failed),
		100*float64(len(race.failed))/float64(workers), remaining)
}

func TestPlaceOrder_AtomicityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		itemCount := rapid.IntRange(1, 5).Draw(t, "items")

		stocks := make(map[string]int, itemCount)
		lines := make([]domain.CartLine, 0, itemCount)
		overstock := false
		for i := 0; i < itemCount; i++ {
			id := fmt.Sprintf("item-%d", i)
			stock := rapid.IntRange(0, 10).Draw(t, "stock-"+id)
			qty := rapid.IntRange(1, 12).Draw(t, "qty-"+id)
			price := rapid.Int64Range(0, 10_000).Draw(t, "price-"+id)
			stocks[id] = stock
			lines = append(lines, line(id, qty, price))
			if qty > stock {
				overstock = true
			}
		}

		store := newStore(t, stocks)
		id, err := NewManager(store).PlaceOrder(ctx, request(lines...))

		orders, listErr := store.ListOrders(ctx, domain.OrderFilter{})
		if listErr != nil {
			t.Fatalf("list orders: %v", listErr)
		}

		if overstock {
			if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Fatalf("expected insufficient stock, got %v", err)
			}
			for itemID, stock := range stocks {
				if got := stockOf(t, store, itemID); got != stock {
					t.Fatalf("stock of %s changed on failure: %d -> %d", itemID, stock, got)
				}
			}
			if len(orders) != 0 {
				t.Fatalf("failed placement created %d orders", len(orders))
			}
			return
		}

		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if len(orders) != 1 || orders[0].ID != id {
			t.Fatalf("expected exactly the placed order, got %d", len(orders))
		}
		if orders[0].TotalMinor != orders[0].ItemsTotal() {
			t.Fatalf("total invariant broken: %d != %d", orders[0].TotalMinor, orders[0].ItemsTotal())
		}
		for _, l := range lines {
			if got := stockOf(t, store, l.ItemID); got != stocks[l.ItemID]-l.Quantity {
				t.Fatalf("stock of %s: expected %d, got %d", l.ItemID, stocks[l.ItemID]-l.Quantity, got)
			}
		}
	})
}
