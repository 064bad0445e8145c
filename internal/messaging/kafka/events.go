package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "quickart.order.events"
	TopicDeadLetterQueue = "quickart.dlq" // сообщения outbox, исчерпавшие retry
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOriginalTopic = "x-original-topic"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEventEnvelope — формат сообщения о заказе в Kafka.
type OrderEventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewOrderEventEnvelope заворачивает outbox-сообщение в envelope.
func NewOrderEventEnvelope(msg domain.OutboxMessage, publishedAt time.Time) OrderEventEnvelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return OrderEventEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt.UTC(),
	}
}

// DecodeOrderEventEnvelope разбирает значение Kafka-сообщения.
func DecodeOrderEventEnvelope(data []byte) (OrderEventEnvelope, error) {
	var envelope OrderEventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return OrderEventEnvelope{}, fmt.Errorf("failed to decode order event: %w", err)
	}
	if envelope.EventType == "" {
		return OrderEventEnvelope{}, fmt.Errorf("failed to decode order event: event_type is empty")
	}
	return envelope, nil
}
