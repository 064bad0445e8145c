package domain

import (
	"encoding/json"
	"time"
)

// Типы событий таймлайна и outbox.
const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
)

// AggregateTypeOrder — тип агрегата в outbox-сообщениях.
const AggregateTypeOrder = "order"

// DeadLetter — тело сообщения DLQ: исходное событие заказа и причина, по которой
// outbox не смог его опубликовать. Его читает утилита повторной отправки.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	OrderID       string          `json:"order_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts"`
	DeadAt        time.Time       `json:"dead_at"`
}

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// OrderPlacedPayload — тело outbox-сообщения OrderPlaced. OTP наружу не публикуется.
type OrderPlacedPayload struct {
	OrderID    string            `json:"order_id"`
	StoreID    string            `json:"store_id"`
	UserID     *string           `json:"user_id"`
	TotalMinor int64             `json:"total_minor"`
	Items      []OrderLineRecord `json:"items"`
	PlacedAt   time.Time         `json:"placed_at"`
}

// OrderLineRecord — позиция заказа в событиях.
type OrderLineRecord struct {
	ItemID     string `json:"item_id"`
	Quantity   int    `json:"quantity"`
	PriceMinor int64  `json:"price_minor"`
}

// OrderStatusChangedPayload — тело outbox-сообщения OrderStatusChanged.
type OrderStatusChangedPayload struct {
	OrderID          string      `json:"order_id"`
	StoreID          string      `json:"store_id"`
	From             OrderStatus `json:"from"`
	To               OrderStatus `json:"to"`
	DeliveryPersonID *string     `json:"delivery_person_id"`
	ChangedAt        time.Time   `json:"changed_at"`
}

// NewOrderPlacedPayload собирает событие из созданного заказа.
func NewOrderPlacedPayload(order Order) OrderPlacedPayload {
	lines := make([]OrderLineRecord, 0, len(order.Items))
	for _, line := range order.Items {
		lines = append(lines, OrderLineRecord{
			ItemID:     line.ItemID,
			Quantity:   line.Quantity,
			PriceMinor: line.PriceMinor,
		})
	}
	return OrderPlacedPayload{
		OrderID:    order.ID,
		StoreID:    order.StoreID,
		UserID:     order.UserID,
		TotalMinor: order.TotalMinor,
		Items:      lines,
		PlacedAt:   order.CreatedAt,
	}
}
