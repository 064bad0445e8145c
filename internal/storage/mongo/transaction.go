package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

// transaction выполняет операции в контексте сессии. Конкурентная запись
// в тот же документ завершается WriteConflict с меткой TransientTransactionError.
type transaction struct {
	db *mongo.Database
}

func (t *transaction) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return findItem(ctx, t.db, id)
}

func (t *transaction) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return findOrder(ctx, t.db, id)
}

func (t *transaction) UpdateItemStock(ctx context.Context, id string, stock int) error {
	if id == "" {
		return domain.ErrItemIDRequired
	}
	if stock < 0 {
		return domain.ErrNegativeStock
	}

	res, err := t.db.Collection(itemsCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": bson.M{"stock": stock, "updated_at": time.Now().UTC()},
			"$inc": bson.M{"version": int64(1)},
		},
	)
	if err != nil {
		return fmt.Errorf("update item stock: %w", err)
	}
	if res.MatchedCount == 0 {
		return &domain.ItemNotFoundError{ItemID: id}
	}
	return nil
}

func (t *transaction) CreateOrder(ctx context.Context, order domain.Order) error {
	if order.ID == "" {
		return domain.ErrOrderIDRequired
	}

	now := time.Now().UTC()
	doc := newOrderDocument(order)
	doc.Version = 1
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if _, err := t.db.Collection(ordersCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: order %s already exists", domain.ErrOrderVersionConflict, order.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *transaction) UpdateOrder(ctx context.Context, order domain.Order) error {
	if order.ID == "" {
		return domain.ErrOrderIDRequired
	}

	var person any
	if order.DeliveryPerson != nil {
		person = deliveryPersonDocument{ID: order.DeliveryPerson.ID, Name: order.DeliveryPerson.Name}
	}

	res, err := t.db.Collection(ordersCollection).UpdateOne(ctx,
		bson.M{"_id": order.ID, "version": order.Version},
		bson.M{
			"$set": bson.M{
				"status":          string(order.Status),
				"otp":             order.OTP,
				"delivery_person": person,
				"updated_at":      time.Now().UTC(),
			},
			"$inc": bson.M{"version": int64(1)},
		},
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: order %s", domain.ErrTxConflict, order.ID)
	}
	return nil
}

func findItem(ctx context.Context, db *mongo.Database, id string) (domain.Item, error) {
	var doc itemDocument
	if err := db.Collection(itemsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Item{}, &domain.ItemNotFoundError{ItemID: id}
		}
		return domain.Item{}, fmt.Errorf("find item: %w", err)
	}
	return doc.toDomain(), nil
}

func findOrder(ctx context.Context, db *mongo.Database, id string) (domain.Order, error) {
	var doc orderDocument
	if err := db.Collection(ordersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("find order: %w", err)
	}
	return doc.toDomain(), nil
}

var _ domain.Transaction = (*transaction)(nil)
