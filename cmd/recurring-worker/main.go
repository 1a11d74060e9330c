package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"budgetplanner/internal/cli"
	applog "budgetplanner/internal/log"
	"budgetplanner/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat).WithComponent(applog.ComponentWorker)

	logger.Info("Starting recurring-worker",
		"backend", cfg.DataBackend,
		"queue", cfg.AMQPRecurringQueue)

	res := cli.InitBackend(context.Background(), logger.Logger, cfg)
	if res.AMQP == nil {
		logger.Error("recurring-worker needs a reachable broker, set AMQP_URL")
		_ = res.Cleanup()
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger.Logger, cfg.ShutdownTimeout, func(context.Context) {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	w := worker.NewRecurringWorker(res.Ledger.Recurring)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return res.AMQP.ConsumeRecurringRequests(gctx, w.HandleRecurringRequest)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Recurring consumer stopped", "error", err)
		_ = res.Cleanup()
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
}
