package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

const (
	DefaultReplayLimit       = 100
	DefaultReplayIdleTimeout = 2 * time.Second
)

// OffsetSource отдаёт разделы topic и границы offset в них. Реализуется sarama.Client.
type OffsetSource interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

// PartitionStream — читающий поток одного раздела.
type PartitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// PartitionSource открывает поток раздела с заданного offset.
type PartitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (PartitionStream, error)
}

// SaramaPartitionSource адаптирует sarama.Consumer к PartitionSource.
type SaramaPartitionSource struct {
	Consumer sarama.Consumer
}

func (s SaramaPartitionSource) ConsumePartition(topic string, partition int32, offset int64) (PartitionStream, error) {
	pc, err := s.Consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// ReplayOptions параметры переигрывания DLQ.
type ReplayOptions struct {
	SourceTopic string
	TargetTopic string
	Limit       int
	Execute     bool // false — dry-run, только логируем кандидатов
	FromNewest  bool
	IdleTimeout time.Duration
}

func (o ReplayOptions) withDefaults() ReplayOptions {
	if strings.TrimSpace(o.SourceTopic) == "" {
		o.SourceTopic = TopicDeadLetterQueue
	}
	if strings.TrimSpace(o.TargetTopic) == "" {
		o.TargetTopic = TopicOrderEvents
	}
	if o.Limit <= 0 {
		o.Limit = DefaultReplayLimit
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultReplayIdleTimeout
	}
	return o
}

// ReplayReport итог прогона.
type ReplayReport struct {
	Scanned  int
	Replayed int
	Skipped  int
}

func (r *ReplayReport) add(other ReplayReport) {
	r.Scanned += other.Scanned
	r.Replayed += other.Replayed
	r.Skipped += other.Skipped
}

// DLQRecord — тело сообщения, которое outbox worker кладёт в DLQ.
type DLQRecord = domain.DeadLetter

// Replayer переносит события заказов из DLQ обратно в рабочий topic.
type Replayer struct {
	offsets   OffsetSource
	consumer  PartitionSource
	publisher *Producer
	logger    *log.Entry
	now       func() time.Time
}

// NewReplayer создаёт Replayer. publisher может быть nil для dry-run.
func NewReplayer(offsets OffsetSource, consumer PartitionSource, publisher *Producer, logger *log.Entry) *Replayer {
	if logger == nil {
		logger = log.WithField("component", "dlq-replayer")
	}
	return &Replayer{
		offsets:   offsets,
		consumer:  consumer,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Replay читает не более opts.Limit сообщений DLQ и переигрывает валидные.
func (r *Replayer) Replay(ctx context.Context, opts ReplayOptions) (ReplayReport, error) {
	var report ReplayReport
	if r == nil || r.offsets == nil || r.consumer == nil {
		return report, fmt.Errorf("kafka offsets and consumer are required")
	}
	opts = opts.withDefaults()
	if opts.Execute && r.publisher == nil {
		return report, fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(opts.SourceTopic)
	if err != nil {
		return report, fmt.Errorf("get partitions for topic %s: %w", opts.SourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := opts.Limit - report.Scanned
		if remaining <= 0 {
			break
		}
		partial, err := r.replayPartition(ctx, opts, partition, remaining)
		report.add(partial)
		if err != nil {
			return report, err
		}
	}

	r.logger.WithFields(log.Fields{
		"source_topic": opts.SourceTopic,
		"execute":      opts.Execute,
		"scanned":      report.Scanned,
		"replayed":     report.Replayed,
		"skipped":      report.Skipped,
	}).Info("dlq replay finished")

	return report, nil
}

func (r *Replayer) replayPartition(ctx context.Context, opts ReplayOptions, partition int32, limit int) (ReplayReport, error) {
	var report ReplayReport

	oldest, err := r.offsets.GetOffset(opts.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return report, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(opts.SourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return report, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return report, nil
	}

	start := oldest
	if opts.FromNewest && newest-int64(limit) > oldest {
		start = newest - int64(limit)
	}

	stream, err := r.consumer.ConsumePartition(opts.SourceTopic, partition, start)
	if err != nil {
		return report, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(opts.IdleTimeout)
	defer idle.Stop()
	errs := stream.Errors()

	for report.Scanned < limit {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-idle.C:
			return report, nil
		case consumerErr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if consumerErr != nil {
				return report, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil {
				return report, nil
			}
			if msg.Offset >= newest {
				return report, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(opts.IdleTimeout)

			report.Scanned++
			if err := r.replayMessage(msg, opts); err != nil {
				if opts.Execute && isPublishError(err) {
					return report, err
				}
				report.Skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip dlq message")
			} else {
				report.Replayed++
			}

			if msg.Offset+1 >= newest {
				return report, nil
			}
		}
	}

	return report, nil
}

type publishError struct{ err error }

func (e publishError) Error() string { return e.err.Error() }
func (e publishError) Unwrap() error { return e.err }

func isPublishError(err error) bool {
	_, ok := err.(publishError)
	return ok
}

func (r *Replayer) replayMessage(msg *sarama.ConsumerMessage, opts ReplayOptions) error {
	envelope, record, err := DecodeDLQMessage(msg.Value)
	if err != nil {
		return err
	}

	target := opts.TargetTopic
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == HeaderOriginalTopic && len(h.Value) > 0 {
			target = string(h.Value)
		}
	}

	replay := OrderEventEnvelope{
		ID:            firstNonEmpty(record.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(record.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(record.AggregateID, record.OrderID, envelope.AggregateID),
		EventType:     firstNonEmpty(record.EventType, envelope.EventType),
		Payload:       record.Payload,
		PublishedAt:   r.now().UTC(),
	}
	key := firstNonEmpty(replay.AggregateID, replay.ID)

	if !opts.Execute {
		r.logger.WithFields(log.Fields{
			"target_topic": target,
			"key":          key,
			"event_type":   replay.EventType,
		}).Info("dlq replay candidate")
		return nil
	}

	header := sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(replay.EventType)}
	if err := r.publisher.PublishEvent(target, key, replay, header); err != nil {
		return publishError{err: fmt.Errorf("publish replay message: %w", err)}
	}
	return nil
}

// DecodeDLQMessage разбирает значение сообщения DLQ: envelope с DLQRecord внутри.
func DecodeDLQMessage(value []byte) (OrderEventEnvelope, DLQRecord, error) {
	envelope, err := DecodeOrderEventEnvelope(value)
	if err != nil {
		return OrderEventEnvelope{}, DLQRecord{}, err
	}

	var record DLQRecord
	if err := json.Unmarshal(envelope.Payload, &record); err != nil {
		return OrderEventEnvelope{}, DLQRecord{}, fmt.Errorf("decode dlq record: %w", err)
	}
	if len(record.Payload) == 0 || string(record.Payload) == "null" {
		return OrderEventEnvelope{}, DLQRecord{}, fmt.Errorf("dlq record does not contain original payload")
	}
	return envelope, record, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
