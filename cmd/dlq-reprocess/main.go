package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/quickart/internal/version"
)

const clientName = "quickart-dlq-reprocess"

type config struct {
	brokers []string
	replay  kafka.ReplayOptions
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, getenv func(string) string, output io.Writer) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: QUICKART_KAFKA_BROKERS)")
	fs.StringVar(&cfg.replay.SourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.replay.TargetTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	fs.IntVar(&cfg.replay.Limit, "limit", kafka.DefaultReplayLimit, "max number of messages to scan")
	fs.BoolVar(&cfg.replay.Execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.replay.FromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.replay.IdleTimeout, "idle-timeout", kafka.DefaultReplayIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv("QUICKART_KAFKA_BROKERS")
	}
	cfg.brokers = parseBrokers(brokersRaw)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or QUICKART_KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.replay.SourceTopic) == "":
		return config{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(cfg.replay.TargetTopic) == "":
		return config{}, fmt.Errorf("target-topic is required")
	case cfg.replay.Limit <= 0:
		return config{}, fmt.Errorf("limit must be > 0")
	case cfg.replay.IdleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithField("component", "dlq-reprocess")
	logger.WithFields(log.Fields{
		"source_topic": cfg.replay.SourceTopic,
		"target_topic": cfg.replay.TargetTopic,
		"limit":        cfg.replay.Limit,
		"execute":      cfg.replay.Execute,
	}).Info("starting dlq replay")

	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = version.ClientID(clientName)
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	var producer *kafka.Producer
	if cfg.replay.Execute {
		producer, err = kafka.NewProducer(cfg.brokers, version.ClientID(clientName))
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()
	}

	replayer := kafka.NewReplayer(client, kafka.SaramaPartitionSource{Consumer: consumer}, producer, logger)
	started := time.Now()
	report, err := replayer.Replay(ctx, cfg.replay)
	if err != nil {
		return err
	}

	logger.WithFields(log.Fields{
		"scanned":  report.Scanned,
		"replayed": report.Replayed,
		"skipped":  report.Skipped,
		"duration": time.Since(started).String(),
	}).Info("dlq replay done")
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
