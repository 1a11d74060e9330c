package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"budgetplanner/internal/cli"
	"budgetplanner/internal/config"
	apphttp "budgetplanner/internal/http"
	"budgetplanner/internal/storage"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	logger.Info("Starting budgetplanner",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"recurring_mode", cfg.RecurringMode)

	res := cli.InitBackend(context.Background(), logger.Logger, cfg)

	opts := apphttp.Options{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CacheTTL:           cfg.CacheTTL,
		Logger:             logger,
		Ready: func(ctx context.Context) error {
			if _, err := storage.Get(ctx, res.Store, "health/probe"); err != nil {
				return fmt.Errorf("store: %w", err)
			}
			return nil
		},
	}
	if cfg.RecurringMode == config.RecurringQueue {
		if res.AMQP == nil {
			logger.Error("Recurring queue mode needs a reachable broker", "amqp_url_set", cfg.AMQPURL != "")
			_ = res.Cleanup()
			os.Exit(1)
		}
		opts.Queue = res.AMQP
	}

	srv := apphttp.NewServer(res.Ledger, opts)

	ctx, done := cli.GracefulShutdown(logger.Logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
