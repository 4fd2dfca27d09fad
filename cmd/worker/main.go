package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/coopledger/internal/app"
	"github.com/odyssey-erp/coopledger/internal/observability"
	"github.com/odyssey-erp/coopledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	infra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		logger.Error("open infrastructure", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := infra.Close(); err != nil {
			logger.Warn("close infrastructure", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	ledger := infra.Ledger(cfg, metrics)

	integrityJob := jobs.NewGLIntegrityJob(ledger.Store, logger, metrics.Jobs(), cfg.IntegrityWorkers)
	closeCheckJob := jobs.NewCloseCheckJob(ledger.Store, logger, metrics.Jobs(), cfg.CloseGrace)

	integrityTask, err := jobs.NewGLIntegrityTask(0)
	if err != nil {
		logger.Error("build gl integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:       asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:          logger,
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          cfg.WorkerQueues,
		StrictPriority:  cfg.WorkerStrictPriority,
		ShutdownTimeout: cfg.WorkerShutdownTimeout,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGLIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskCloseCheck, Handler: closeCheckJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.IdempotencyCleanupHandler(infra.Idempotency, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 1 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 7 * * *", Task: jobs.NewCloseCheckTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "30 3 * * 0", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
