// Package txguard следит за порядком операций внутри транзакции документного
// хранилища: после первой записи чтения запрещены.
package txguard

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

// Guard оборачивает транзакцию одной попытки.
type Guard struct {
	tx    domain.Transaction
	wrote bool
}

// Wrap возвращает транзакцию, отклоняющую чтение после записи.
func Wrap(tx domain.Transaction) *Guard {
	return &Guard{tx: tx}
}

// Wrote сообщает, была ли уже запись в этой попытке.
func (g *Guard) Wrote() bool {
	return g.wrote
}

func (g *Guard) GetItem(ctx context.Context, id string) (domain.Item, error) {
	if err := g.checkRead("item", id); err != nil {
		return domain.Item{}, err
	}
	return g.tx.GetItem(ctx, id)
}

func (g *Guard) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if err := g.checkRead("order", id); err != nil {
		return domain.Order{}, err
	}
	return g.tx.GetOrder(ctx, id)
}

func (g *Guard) UpdateItemStock(ctx context.Context, id string, stock int) error {
	g.wrote = true
	return g.tx.UpdateItemStock(ctx, id, stock)
}

func (g *Guard) CreateOrder(ctx context.Context, order domain.Order) error {
	g.wrote = true
	return g.tx.CreateOrder(ctx, order)
}

func (g *Guard) UpdateOrder(ctx context.Context, order domain.Order) error {
	g.wrote = true
	return g.tx.UpdateOrder(ctx, order)
}

func (g *Guard) checkRead(kind, id string) error {
	if g.wrote {
		return fmt.Errorf("%w: %s %s", domain.ErrReadAfterWrite, kind, id)
	}
	return nil
}

// Func оборачивает тело транзакции так, чтобы каждая попытка получала свежий Guard.
func Func(fn domain.TxFunc) domain.TxFunc {
	return func(ctx context.Context, tx domain.Transaction) error {
		return fn(ctx, Wrap(tx))
	}
}

var _ domain.Transaction = (*Guard)(nil)
