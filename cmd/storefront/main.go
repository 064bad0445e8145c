package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/app"
	"github.com/vladislavdragonenkov/quickart/internal/version"
)

const (
	envLogLevel = "QUICKART_LOG_LEVEL"
	envFile     = "QUICKART_ENV_FILE"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(parseLevel(level))
}

func parseLevel(raw string) log.Level {
	lvl, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// loadDotEnv подгружает .env, не перезаписывая уже заданные переменные. Отсутствие файла не ошибка.
func loadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func main() {
	dotEnvErr := loadDotEnv(os.Getenv(envFile))
	setupLogger(os.Getenv(envLogLevel))
	if dotEnvErr != nil {
		log.WithError(dotEnvErr).Warn("failed to load env file")
	}

	cfg, warnings := app.LoadConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
	}).Info("starting storefront")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("storefront exited with error")
	}

	log.Info("storefront stopped")
}
