package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer      *Producer
	topic         string
	originalTopic string
	now           func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер событий заказа.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

// NewDLQPublisher создаёт паблишер для dead letter queue.
// Каждое сообщение помечается заголовком с исходным topic.
func NewDLQPublisher(producer *Producer, originalTopic string) *OutboxTopicPublisher {
	if originalTopic == "" {
		originalTopic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer:      producer,
		topic:         TopicDeadLetterQueue,
		originalTopic: originalTopic,
		now:           time.Now,
	}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	now := p.now()
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderEventType), Value: []byte(event.EventType)},
		{Key: []byte(HeaderAggregateType), Value: []byte(event.AggregateType)},
	}
	if p.originalTopic != "" {
		headers = append(headers,
			sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(p.originalTopic)},
			sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(now.UTC().Format(time.RFC3339Nano))},
		)
	}

	return p.producer.PublishEvent(p.topic, key, NewOrderEventEnvelope(event, now), headers...)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
