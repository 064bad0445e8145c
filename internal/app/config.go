package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StorageDriver выбирает реализацию хранилища документов.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
	StorageDriverMongo    StorageDriver = "mongo"
)

const envPrefix = "QUICKART_"

// Config описывает настройки запуска витрины.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool
	MongoURI            string
	MongoDatabase       string
	TxMaxAttempts       int

	// RedisAddr включает хранение ключей идемпотентности в Redis.
	RedisAddr string
	// KafkaBrokers — список брокеров через запятую; пусто означает работу без Kafka.
	KafkaBrokers string

	RequestTimeout time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает конфигурацию для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		MongoDatabase:               "quickart",
		TxMaxAttempts:               5,
		RequestTimeout:              15 * time.Second,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           10,
		OutboxRetryDelay:            500 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// EnvLookup совместим с os.LookupEnv.
type EnvLookup func(key string) (string, bool)

const (
	EnvGRPCAddr                    = envPrefix + "GRPC_ADDR"
	EnvHTTPAddr                    = envPrefix + "HTTP_ADDR"
	EnvMetricsAddr                 = envPrefix + "METRICS_ADDR"
	EnvStorageDriver               = envPrefix + "STORAGE_DRIVER"
	EnvPostgresDSN                 = envPrefix + "POSTGRES_DSN"
	EnvPostgresAutoMigrate         = envPrefix + "POSTGRES_AUTO_MIGRATE"
	EnvMongoURI                    = envPrefix + "MONGO_URI"
	EnvMongoDatabase               = envPrefix + "MONGO_DATABASE"
	EnvTxMaxAttempts               = envPrefix + "TX_MAX_ATTEMPTS"
	EnvRedisAddr                   = envPrefix + "REDIS_ADDR"
	EnvKafkaBrokers                = envPrefix + "KAFKA_BROKERS"
	EnvRequestTimeout              = envPrefix + "REQUEST_TIMEOUT"
	EnvOutboxPollInterval          = envPrefix + "OUTBOX_POLL_INTERVAL"
	EnvOutboxBatchSize             = envPrefix + "OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts           = envPrefix + "OUTBOX_MAX_ATTEMPTS"
	EnvOutboxRetryDelay            = envPrefix + "OUTBOX_RETRY_DELAY"
	EnvOutboxMaxPending            = envPrefix + "OUTBOX_MAX_PENDING"
	EnvIdempotencyCleanupInterval  = envPrefix + "IDEMPOTENCY_CLEANUP_INTERVAL"
	EnvIdempotencyCleanupBatchSize = envPrefix + "IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

// LoadConfigFromEnv накладывает переменные окружения QUICKART_* на DefaultConfig.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию,
// а описание проблемы попадает в warnings.
func LoadConfigFromEnv(lookup EnvLookup) (cfg Config, warnings []string) {
	cfg = DefaultConfig()
	if lookup == nil {
		return cfg, nil
	}

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("ignore %s=%q: %v", key, value, err))
	}
	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDur := func(v time.Duration) bool { return v > 0 }
	nonNegativeDur := func(v time.Duration) bool { return v >= 0 }

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		n, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = n
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		d, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = d
	}

	str(EnvGRPCAddr, &cfg.GRPCAddr)
	str(EnvHTTPAddr, &cfg.HTTPAddr)
	str(EnvMetricsAddr, &cfg.MetricsAddr)

	var driver string
	str(EnvStorageDriver, &driver)
	if driver != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(driver))
	}
	str(EnvPostgresDSN, &cfg.PostgresDSN)
	if v, ok := lookup(EnvPostgresAutoMigrate); ok {
		b, err := parseBool(v)
		if err != nil {
			warn(EnvPostgresAutoMigrate, v, err)
		} else {
			cfg.PostgresAutoMigrate = b
		}
	}
	str(EnvMongoURI, &cfg.MongoURI)
	str(EnvMongoDatabase, &cfg.MongoDatabase)
	integer(EnvTxMaxAttempts, &cfg.TxMaxAttempts, positive, "must be > 0")
	str(EnvRedisAddr, &cfg.RedisAddr)
	str(EnvKafkaBrokers, &cfg.KafkaBrokers)
	duration(EnvRequestTimeout, &cfg.RequestTimeout, positiveDur, "must be > 0")

	duration(EnvOutboxPollInterval, &cfg.OutboxPollInterval, positiveDur, "must be > 0")
	integer(EnvOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(EnvOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(EnvOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDur, "must be >= 0")
	integer(EnvOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")

	duration(EnvIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDur, "must be > 0")
	integer(EnvIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(v) {
		return 0, errors.New(rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(v) {
		return 0, errors.New(rule)
	}
	return v, nil
}

func splitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
