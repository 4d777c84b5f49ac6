package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"bollette/internal/amqp"
	"bollette/internal/cli"
	"bollette/internal/core"
	"bollette/internal/services"
	"bollette/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(cli.SetupLogger("info"))
	logger := cli.SetupLogger(cfg.LogLevel)

	logger.Info("Starting reconcile-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the reconcile-worker")
		os.Exit(1)
	}

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer sqliteRepo.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	reconciler := services.NewSettlementReconciler(sqliteRepo, core.SystemClock{}, amqpClient)
	reconcileWorker := worker.NewReconcileWorker(sqliteRepo, reconciler)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		logger.Info("Shutting down reconcile-worker...")
	})

	// Catch up on changes made while the worker was down
	logger.Info("Performing startup reconcile...")
	if err := reconcileWorker.StartupReconcile(ctx); err != nil {
		logger.Error("Startup reconcile failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumeBillEvents(gctx, reconcileWorker.HandleBillEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Message consumption failed", "error", err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Reconcile-worker shutdown complete")
}
