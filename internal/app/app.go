package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	storefrontv1 "github.com/vladislavdragonenkov/quickart/api/storefront/v1"
	"github.com/vladislavdragonenkov/quickart/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/quickart/internal/health"
	"github.com/vladislavdragonenkov/quickart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/quickart/internal/metrics"
	"github.com/vladislavdragonenkov/quickart/internal/service/checkout"
	"github.com/vladislavdragonenkov/quickart/internal/service/fulfillment"
	grpcsvc "github.com/vladislavdragonenkov/quickart/internal/service/grpc"
	httpapi "github.com/vladislavdragonenkov/quickart/internal/service/http"
	"github.com/vladislavdragonenkov/quickart/internal/service/idempotency"
	"github.com/vladislavdragonenkov/quickart/internal/service/inventory"
	"github.com/vladislavdragonenkov/quickart/internal/service/orderevents"
	"github.com/vladislavdragonenkov/quickart/internal/service/outbox"
	"github.com/vladislavdragonenkov/quickart/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает gRPC и HTTP API витрины, сервер метрик и фоновые воркеры
// и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	storefrontMetrics := metrics.NewStorefrontMetrics()
	recorder := orderevents.NewRecorder(deps.timelineRepo, deps.outboxRepo, storefrontMetrics, logger.WithField("layer", "order-events"))
	placer := checkout.NewManager(deps.repo,
		checkout.WithEvents(recorder),
		checkout.WithMetrics(storefrontMetrics),
		checkout.WithLogger(logger.WithField("layer", "checkout")),
	)
	workflow := fulfillment.NewService(deps.repo, recorder, storefrontMetrics, logger.WithField("layer", "fulfillment"))
	catalog := inventory.NewService(deps.repo, logger.WithField("layer", "inventory"))

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if deps.redisChecker != nil {
		healthHandler.RegisterOptionalChecker("redis", deps.redisChecker)
	}

	// ошибка уже залогирована, без Kafka события копятся в outbox
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafkaProducer(kafkaProducer, logger)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var outboxCancel context.CancelFunc
	var outboxDone chan struct{}
	if kafkaProducer != nil {
		worker := outbox.NewWorker(deps.outboxRepo,
			kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicOrderEvents),
			outbox.WithDLQPublisher(kafka.NewDLQPublisher(kafkaProducer, kafka.TopicOrderEvents)),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithMetrics(storefrontMetrics),
		)
		outboxCancel, outboxDone = startWorker(workerCtx, worker.Run)
		healthHandler.RegisterOptionalChecker("outbox", newOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))
	} else {
		logger.Info("kafka is not configured, order events stay in the outbox")
	}

	var cleanupCancel context.CancelFunc
	var cleanupDone chan struct{}
	if cleanup, ok := idempotency.ForRepository(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithMetrics(storefrontMetrics),
	); ok {
		cleanupCancel, cleanupDone = startWorker(workerCtx, cleanup.Run)
	} else {
		logger.Info("idempotency store expires keys by ttl, cleanup worker is not started")
	}

	grpcServer, grpcHealth := newGRPCServer(
		grpcsvc.NewStorefrontService(placer, workflow, deps.timelineRepo, deps.idempotencyRepo, logger.WithField("layer", "grpc")),
		logger,
	)

	api := httpapi.NewHandler(placer, workflow, catalog,
		httpapi.WithIdempotency(deps.idempotencyRepo),
		httpapi.WithLogger(logger.WithField("layer", "http")),
		httpapi.WithRequestTimeout(cfg.RequestTimeout),
	)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopBackgroundWorker(outboxCancel, outboxDone, logger)
		stopBackgroundWorker(cleanupCancel, cleanupDone, logger)
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		stopBackgroundWorker(outboxCancel, outboxDone, logger)
		stopBackgroundWorker(cleanupCancel, cleanupDone, logger)
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	apiSrv := &http.Server{
		Handler:           otelhttp.NewHandler(api.Routes(), "storefront-http"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC server listening on %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API listening on %s", httpLis.Addr())
		if err := apiSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping servers")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	stopGRPCServer(grpcServer, logger)
	shutdownHTTP(apiSrv, logger)
	shutdownHTTP(metricsSrv, logger)
	stopBackgroundWorker(outboxCancel, outboxDone, logger)
	stopBackgroundWorker(cleanupCancel, cleanupDone, logger)

	return runErr
}

func newGRPCServer(svc storefrontv1.StorefrontServiceServer, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
	)
	storefrontv1.RegisterStorefrontServiceServer(server, svc)
	grpcMetrics.InitializeMetrics(server)

	// reflection для grpcurl
	reflection.Register(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return server, healthServer
}

func stopGRPCServer(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop timed out, forcing grpc server stop")
		server.Stop()
	}
}

// startWorker запускает блокирующий run в отдельной горутине.
func startWorker(ctx context.Context, run func(context.Context)) (context.CancelFunc, chan struct{}) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	return cancel, done
}

// stopBackgroundWorker отменяет воркер и ждёт его завершения не дольше shutdownTimeout.
func stopBackgroundWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("background worker did not stop in time")
	}
}

func newOutboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewSimpleChecker("outbox", func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	})
}

// startMetricsServer запускает HTTP-сервер с /metrics и health-эндпоинтами.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/healthz", healthHandler)
	r.Get("/livez", healthcheck.LivenessHandler)
	r.Get("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
