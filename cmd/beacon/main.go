package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/beacon-erp/beacon-payments/internal/app"
	"github.com/beacon-erp/beacon-payments/internal/audit"
	"github.com/beacon-erp/beacon-payments/internal/commission"
	"github.com/beacon-erp/beacon-payments/internal/events"
	"github.com/beacon-erp/beacon-payments/internal/ledger"
	"github.com/beacon-erp/beacon-payments/internal/obligations"
	"github.com/beacon-erp/beacon-payments/internal/observability"
	"github.com/beacon-erp/beacon-payments/internal/platform/cache"
	"github.com/beacon-erp/beacon-payments/internal/platform/db"
	"github.com/beacon-erp/beacon-payments/internal/rbac"
	orders "github.com/beacon-erp/beacon-payments/internal/sales/orders"
	"github.com/beacon-erp/beacon-payments/internal/settings"
	"github.com/beacon-erp/beacon-payments/internal/signatories"
	"github.com/beacon-erp/beacon-payments/internal/verify"
	"github.com/beacon-erp/beacon-payments/internal/vouchers"
	"github.com/beacon-erp/beacon-payments/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	validate := validator.New()

	settingsStore := settings.NewStore(pool)
	rbacService := rbac.NewService(pool)
	rbacMiddleware := rbac.Middleware{Source: rbacService, Logger: logger}

	audits := audit.NewRecorder(pool)
	signatureRepo := signatories.NewRepository(pool)
	signatoryService := signatories.NewService(signatureRepo)

	queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	obligationRepo := obligations.NewRepository(pool)
	notifier := events.NewNotifier(signatoryService, signatureRepo, queue, logger)
	bus := events.NewBus(logger, notifier, obligations.NewSyncer(obligationRepo, logger))

	voucherRepo := vouchers.NewRepository(pool, audits, signatureRepo)
	ledgerClient := ledger.New(cfg.LedgerURL, cfg.LedgerToken)
	voucherService := vouchers.NewService(voucherRepo, signatoryService, rbacService,
		settingsStore, bus, metrics, ledgerClient, audits, logger,
		vouchers.ServiceConfig{PostRetries: cfg.PostRetries, PostTimeout: cfg.PostTimeout})
	voucherHandler := vouchers.NewHandler(logger, voucherService, audits, signatureRepo, validate, rbacMiddleware)

	commissionRepo := commission.NewRepository(pool)
	materializer := obligations.NewMaterializer(obligationRepo, voucherService, logger)
	orderRepo := orders.NewRepository(pool, commissionRepo, obligationRepo, materializer)
	orderService := orders.NewService(orderRepo, materializer, obligationRepo, bus, logger)
	orderHandler := orders.NewHandler(logger, orderService, validate, rbacMiddleware)

	limiter := verify.NewRateLimiter(redisClient, 15*time.Minute, 15*time.Minute)
	verifyLogs := verify.NewLogStore(pool)
	verifyService := verify.NewService(voucherRepo, settingsStore, limiter, verifyLogs,
		metrics, logger, cfg.VerifyBaseURL, cfg.VerifySecret)
	verifyHandler := verify.NewHandler(logger, verifyService)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		VoucherHandler: voucherHandler,
		OrderHandler:   orderHandler,
		VerifyHandler:  verifyHandler,
		Metrics:        metrics,
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
		logger.Error("http shutdown", slog.Any("error", err))
	}
}
