package domain

import (
	"context"
	"time"
)

// Transaction — представление одной попытки транзакции документного хранилища.
// Все чтения обязаны предшествовать записям; записи буферизуются до коммита.
type Transaction interface {
	GetItem(ctx context.Context, id string) (Item, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	UpdateItemStock(ctx context.Context, id string, stock int) error
	CreateOrder(ctx context.Context, order Order) error
	UpdateOrder(ctx context.Context, order Order) error
}

// TxFunc — тело транзакции. Может выполняться несколько раз при конфликте.
type TxFunc func(ctx context.Context, tx Transaction) error

// DocumentStore — хранилище товаров и заказов с многодокументными транзакциями.
type DocumentStore interface {
	// RunTransaction выполняет fn атомарно, повторяя попытку, если прочитанные
	// документы изменились до коммита.
	RunTransaction(ctx context.Context, fn TxFunc) error
	GetItem(ctx context.Context, id string) (Item, error)
	PutItem(ctx context.Context, item Item) (Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	Ping(ctx context.Context) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release снимает захват ключа после временного сбоя, чтобы повтор
	// того же запроса выполнился заново. Отсутствующий ключ не ошибка.
	Release(ctx context.Context, key string) error
}

// IdempotencySweeper реализуют хранилища, которые не истекают ключи сами
// и нуждаются в периодической очистке. DeleteExpired возвращает удалённые
// ключи, самые старые первыми.
type IdempotencySweeper interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
