package memory

import (
	"context"
	"strings"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

type stockWrite struct {
	id    string
	stock int
}

// transaction — одна попытка: read-set с версиями и буфер записей.
type transaction struct {
	store        *Store
	itemReads    map[string]int64
	orderReads   map[string]int64
	itemWrites   []stockWrite
	orderCreates []domain.Order
	orderUpdates []domain.Order
}

func newTransaction(store *Store) *transaction {
	return &transaction{
		store:      store,
		itemReads:  make(map[string]int64),
		orderReads: make(map[string]int64),
	}
}

func (t *transaction) GetItem(ctx context.Context, id string) (domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return domain.Item{}, err
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	item, ok := t.store.items[id]
	if !ok {
		t.itemReads[id] = absentVersion
		return domain.Item{}, &domain.ItemNotFoundError{ItemID: id}
	}
	t.itemReads[id] = item.Version
	return item.Clone(), nil
}

func (t *transaction) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	order, ok := t.store.orders[id]
	if !ok {
		t.orderReads[id] = absentVersion
		return domain.Order{}, domain.ErrOrderNotFound
	}
	t.orderReads[id] = order.Version
	return order.Clone(), nil
}

func (t *transaction) UpdateItemStock(_ context.Context, id string, stock int) error {
	if strings.TrimSpace(id) == "" {
		return domain.ErrItemIDRequired
	}
	if stock < 0 {
		return domain.ErrNegativeStock
	}
	t.itemWrites = append(t.itemWrites, stockWrite{id: id, stock: stock})
	return nil
}

func (t *transaction) CreateOrder(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return domain.ErrOrderIDRequired
	}
	t.orderCreates = append(t.orderCreates, order.Clone())
	return nil
}

func (t *transaction) UpdateOrder(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return domain.ErrOrderIDRequired
	}
	t.orderUpdates = append(t.orderUpdates, order.Clone())
	return nil
}

var _ domain.Transaction = (*transaction)(nil)
