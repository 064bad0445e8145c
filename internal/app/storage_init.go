package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/quickart/internal/health"
	"github.com/vladislavdragonenkov/quickart/internal/storage/memory"
	"github.com/vladislavdragonenkov/quickart/internal/storage/mongo"
	"github.com/vladislavdragonenkov/quickart/internal/storage/postgres"
	"github.com/vladislavdragonenkov/quickart/internal/storage/redis"
)

// runtimeDependencies — хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	repo            domain.DocumentStore
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	redisChecker   healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	var (
		deps *runtimeDependencies
		err  error
	)

	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		deps = initMemoryDependencies(cfg)
	case StorageDriverPostgres:
		deps, err = initPostgresDependencies(ctx, cfg, logger)
	case StorageDriverMongo:
		deps, err = initMongoDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RedisAddr) != "" {
		if err := attachRedisIdempotency(ctx, deps, cfg.RedisAddr, logger); err != nil {
			_ = deps.close()
			return nil, err
		}
	}

	logger.WithFields(log.Fields{
		"storage_driver": storageDriverName(cfg.StorageDriver),
		"redis":          cfg.RedisAddr != "",
	}).Info("storage initialized")
	return deps, nil
}

func initMemoryDependencies(cfg Config) *runtimeDependencies {
	store := memory.NewStore(memory.WithMaxAttempts(cfg.TxMaxAttempts))
	return &runtimeDependencies{
		repo:            store,
		outboxRepo:      memory.NewOutboxRepository(),
		timelineRepo:    memory.NewTimelineRepository(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		storageChecker:  healthcheck.NewPingChecker("storage", store),
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("postgres storage driver requires QUICKART_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	docs := postgres.NewDocumentStore(store,
		postgres.WithTxAttempts(cfg.TxMaxAttempts),
		postgres.WithDocumentLogger(logger.WithField("storage", "postgres")),
	)

	return &runtimeDependencies{
		repo:            docs,
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewPingChecker("storage", store),
		closeFn:         store.Close,
	}, nil
}

// initMongoDependencies хранит в MongoDB только документы; outbox и timeline остаются в памяти процесса.
func initMongoDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if strings.TrimSpace(cfg.MongoURI) == "" {
		return nil, errors.New("mongo storage driver requires QUICKART_MONGO_URI")
	}

	store, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase,
		mongo.WithTxAttempts(cfg.TxMaxAttempts),
		mongo.WithLogger(logger.WithField("storage", "mongo")),
	)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = store.Close(context.Background())
		return nil, fmt.Errorf("ensure mongo indexes: %w", err)
	}

	return &runtimeDependencies{
		repo:            store,
		outboxRepo:      memory.NewOutboxRepository(),
		timelineRepo:    memory.NewTimelineRepository(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		storageChecker:  healthcheck.NewPingChecker("storage", store),
		closeFn: func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Close(closeCtx)
		},
	}, nil
}

func attachRedisIdempotency(ctx context.Context, deps *runtimeDependencies, addr string, logger *log.Entry) error {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	repo := redis.NewIdempotencyRepository(client, "")
	if err := repo.Ping(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect to redis: %w", err)
	}

	deps.idempotencyRepo = repo
	deps.redisChecker = healthcheck.NewPingChecker("redis", repo)

	prevClose := deps.closeFn
	deps.closeFn = func() error {
		err := client.Close()
		if prevClose != nil {
			err = errors.Join(err, prevClose())
		}
		return err
	}
	logger.WithField("redis_addr", addr).Info("idempotency keys stored in redis")
	return nil
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

func storageDriverName(driver StorageDriver) string {
	if driver == "" {
		return string(StorageDriverMemory)
	}
	return string(driver)
}
