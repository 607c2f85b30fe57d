package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"payrun/internal/platform/config"
	"payrun/internal/platform/db"
	"payrun/internal/platform/logging"
	"payrun/internal/platform/outbox"
)

// The worker relays payroll run events from the outbox table to Kafka.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal("invalid worker config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	writer := outbox.NewKafkaWriter(cfg.KafkaBrokers)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}()

	worker := outbox.NewWorker(outbox.NewRepository(pool), outbox.KafkaPublisher{Writer: writer}, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	logger.Info("outbox worker started", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	worker.Run(ctx)
	logger.Info("outbox worker stopped")
}
