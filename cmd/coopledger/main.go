package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/coopledger/internal/accounting/accounts"
	"github.com/odyssey-erp/coopledger/internal/accounting/journals"
	"github.com/odyssey-erp/coopledger/internal/accounting/periods"
	"github.com/odyssey-erp/coopledger/internal/accounting/reports"
	"github.com/odyssey-erp/coopledger/internal/app"
	"github.com/odyssey-erp/coopledger/internal/audit"
	audithttp "github.com/odyssey-erp/coopledger/internal/audit/http"
	closehttp "github.com/odyssey-erp/coopledger/internal/close/http"
	"github.com/odyssey-erp/coopledger/internal/observability"
	"github.com/odyssey-erp/coopledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if err := ledger.Mappings.Verify(ctx, ledger.Store); err != nil {
		logger.Error("verify account mappings", slog.Any("error", err))
		os.Exit(1)
	}

	if err := ledger.Cache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("subscribe report cache invalidation", slog.Any("error", err))
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AccountsHandler: accounts.NewHandler(logger, ledger.Accounts),
		JournalsHandler: journals.NewHandler(logger, ledger.Journals),
		PeriodsHandler:  periods.NewHandler(logger, ledger.Periods),
		ReportsHandler:  reports.NewHandler(logger, ledger.Reports),
		CloseHandler:    closehttp.NewHandler(logger, ledger.Close),
		AuditHandler:    audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(infra.Pool))),
		JobHandler:      jobs.NewHandler(inspector, logger, cfg.WorkerQueueNames()...),
		Database:        infra.Pool,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
