package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"bollette/internal/backend"
	"bollette/internal/cli"
	"bollette/internal/core"
	apphttp "bollette/internal/http"
	applog "bollette/internal/log"
	"bollette/internal/services"
	"bollette/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(cli.SetupLogger("info"))
	logger := cli.SetupLogger(cfg.LogLevel)

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendConfig)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	cleanup := func() {
		if res.Cleanup == nil {
			return
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}

	clock := core.SystemClock{}
	bills := services.NewBillService(res.Store, clock, res.Events)
	cycles := services.NewCycleProcessor(res.Store, res.Events)

	srv := apphttp.NewServer(":"+cfg.Port, bills, cycles, apphttp.Options{
		CacheSize:          cfg.OverviewCacheSize,
		CacheTTL:           cfg.OverviewCacheTTL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Clock:              clock,
		Logger: applog.New(applog.Config{
			Level:     applog.ParseLevel(cfg.LogLevel),
			Component: applog.ComponentApp,
			Handler:   logger.Handler(),
		}),
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting bollette server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.CycleAdvanceEnabled {
		cycleWorker := worker.NewCycleWorker(cycles, cfg.CycleAdvanceInterval)
		cycleWorker.OnAdvance = func(int) { srv.InvalidateOverviews() }
		g.Go(func() error {
			return cycleWorker.Run(gctx)
		})
	} else {
		logger.Info("In-process cycle processor disabled")
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	cleanup()
	logger.Info("Server stopped gracefully")
}
