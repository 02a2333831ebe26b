package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/app"
	"github.com/vladislavdragonenkov/drafts/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func main() {
	// .env необязателен: в контейнере переменные приходят из окружения.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Current().Fields()).WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"session_driver": cfg.SessionDriver,
		"durable_driver": cfg.DurableDriver,
		"event_sink":     cfg.EventSink,
	}).Info("starting draft service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("application stopped with error")
	}

	log.Info("draft service stopped")
}
