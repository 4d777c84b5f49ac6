package main

import (
	"context"
	"time"

	"bollette/internal/amqp"
	"bollette/internal/cli"
	"bollette/internal/services"
	"bollette/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(cli.SetupLogger("info"))
	logger := cli.SetupLogger(cfg.LogLevel)

	logger.Info("Starting cycle-worker")

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer sqliteRepo.Close()

	// Events are optional; the reconcile-worker and other consumers pick
	// up cycle.advanced when a broker is configured
	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			defer amqpClient.Close()
			events = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP disabled - cycle events will not be published")
	}

	processor := services.NewCycleProcessor(sqliteRepo, events)
	logger.Info("Cycle processor configured",
		"interval", cfg.CycleAdvanceInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		logger.Info("Shutting down cycle-worker...")
	})

	if err := worker.NewCycleWorker(processor, cfg.CycleAdvanceInterval).Run(ctx); err != nil {
		logger.Error("Cycle worker stopped with error", "error", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Cycle-worker shutdown complete")
}
