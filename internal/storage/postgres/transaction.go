package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

// transaction исполняет операции в открытой SQL-транзакции.
// Конкурентные изменения тех же строк PostgreSQL превращает в 40001 при записи или коммите.
type transaction struct {
	tx *sql.Tx
}

func (t *transaction) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return getItem(ctx, t.tx, id)
}

func (t *transaction) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return getOrder(ctx, t.tx, id)
}

func (t *transaction) UpdateItemStock(ctx context.Context, id string, stock int) error {
	if strings.TrimSpace(id) == "" {
		return domain.ErrItemIDRequired
	}
	if stock < 0 {
		return domain.ErrNegativeStock
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE items
		SET stock = $2, version = version + 1, updated_at = $3
		WHERE id = $1
	`, id, stock, time.Now().UTC())
	if err != nil {
		if pgErrorCode(err) == sqlStateCheckViolation {
			return domain.ErrNegativeStock
		}
		return fmt.Errorf("update item stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for item %s: %w", id, err)
	}
	if affected == 0 {
		return &domain.ItemNotFoundError{ItemID: id}
	}
	return nil
}

func (t *transaction) CreateOrder(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return domain.ErrOrderIDRequired
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	var personID, personName sql.NullString
	if order.DeliveryPerson != nil {
		personID = sql.NullString{String: order.DeliveryPerson.ID, Valid: true}
		personName = sql.NullString{String: order.DeliveryPerson.Name, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1,$13,$14)
	`,
		order.ID, nullString(order.UserID), nullString(order.UserName), nullString(order.UserEmail),
		order.StoreID, order.TotalMinor, order.DeliveryAddress, order.Phone,
		string(order.Status), order.OTP, personID, personName, order.CreatedAt, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s already exists", domain.ErrOrderVersionConflict, order.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, item_id, name, price_minor, quantity, image, store_id, store_name, offer
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			order.ID, i, line.ItemID, line.Name, line.PriceMinor, line.Quantity,
			line.Image, line.StoreID, line.StoreName, nullString(line.Offer),
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

// UpdateOrder меняет изменяемые поля заказа. Позиции после оформления не меняются.
func (t *transaction) UpdateOrder(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return domain.ErrOrderIDRequired
	}

	var personID, personName sql.NullString
	if order.DeliveryPerson != nil {
		personID = sql.NullString{String: order.DeliveryPerson.ID, Valid: true}
		personName = sql.NullString{String: order.DeliveryPerson.Name, Valid: true}
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $3,
		    otp = $4,
		    delivery_person_id = $5,
		    delivery_person_name = $6,
		    version = version + 1,
		    updated_at = $7
		WHERE id = $1 AND version = $2
	`, order.ID, order.Version, string(order.Status), order.OTP, personID, personName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for order %s: %w", order.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: order %s", domain.ErrTxConflict, order.ID)
	}
	return nil
}

var _ domain.Transaction = (*transaction)(nil)
