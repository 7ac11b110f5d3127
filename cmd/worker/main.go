package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/beacon-erp/beacon-payments/internal/app"
	"github.com/beacon-erp/beacon-payments/internal/audit"
	"github.com/beacon-erp/beacon-payments/internal/events"
	"github.com/beacon-erp/beacon-payments/internal/ledger"
	"github.com/beacon-erp/beacon-payments/internal/obligations"
	"github.com/beacon-erp/beacon-payments/internal/observability"
	"github.com/beacon-erp/beacon-payments/internal/platform/db"
	"github.com/beacon-erp/beacon-payments/internal/rbac"
	"github.com/beacon-erp/beacon-payments/internal/settings"
	"github.com/beacon-erp/beacon-payments/internal/signatories"
	"github.com/beacon-erp/beacon-payments/internal/verify"
	"github.com/beacon-erp/beacon-payments/internal/vouchers"
	"github.com/beacon-erp/beacon-payments/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	settingsStore := settings.NewStore(pool)
	rbacService := rbac.NewService(pool)
	audits := audit.NewRecorder(pool)
	signatureRepo := signatories.NewRepository(pool)
	signatoryService := signatories.NewService(signatureRepo)

	obligationRepo := obligations.NewRepository(pool)
	bus := events.NewBus(logger, obligations.NewSyncer(obligationRepo, logger))

	voucherRepo := vouchers.NewRepository(pool, audits, signatureRepo)
	ledgerClient := ledger.New(cfg.LedgerURL, cfg.LedgerToken)
	voucherService := vouchers.NewService(voucherRepo, signatoryService, rbacService,
		settingsStore, bus, metrics, ledgerClient, audits, logger,
		vouchers.ServiceConfig{PostRetries: cfg.PostRetries, PostTimeout: cfg.PostTimeout})

	sweeper := jobs.NewAutopostSweeper(voucherRepo, ledgerClient, voucherService, metrics, logger)

	mailer := jobs.SMTPMailer{
		Addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		From: cfg.SMTPFrom,
	}

	verifyLogs := verify.NewLogStore(pool)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: jobs.NewSendEmailHandler(mailer, logger)},
			{Type: jobs.TaskTypeAutopost, Handler: jobs.NewAutopostHandler(sweeper)},
			{Type: jobs.TaskTypeVerifyExpiry, Handler: jobs.NewVerifyExpiryHandler(verifyLogs, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: jobs.NewAutopostTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "30 2 * * *", Task: jobs.NewVerifyExpiryTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
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
