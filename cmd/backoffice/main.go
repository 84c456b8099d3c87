package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/advance-ops/backoffice/internal/app"
	"github.com/advance-ops/backoffice/internal/audit"
	"github.com/advance-ops/backoffice/internal/callbacks"
	"github.com/advance-ops/backoffice/internal/disbursements"
	"github.com/advance-ops/backoffice/internal/gateway"
	"github.com/advance-ops/backoffice/internal/notify"
	"github.com/advance-ops/backoffice/internal/observability"
	"github.com/advance-ops/backoffice/internal/partners"
	"github.com/advance-ops/backoffice/internal/platform/cache"
	"github.com/advance-ops/backoffice/internal/platform/db"
	"github.com/advance-ops/backoffice/internal/reimbursements"
	"github.com/advance-ops/backoffice/internal/shared"
	"github.com/advance-ops/backoffice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("backoffice stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queueOpt := cache.QueueOpt(cfg.RedisAddr)
	queue := asynq.NewClient(queueOpt)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(queueOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	feeRate, err := cfg.FeeRate()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	auditLog := shared.NewAuditLogger(pool)
	partnerRepo := partners.NewRepository(pool)

	ledger := reimbursements.NewService(reimbursements.ServiceConfig{
		Repo:   reimbursements.NewRepository(pool),
		Audit:  auditLog,
		Logger: logger,
		DueIn:  cfg.ReimbursementDueIn,
	})

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:  cfg.GatewayBaseURL,
		APIKey:   cfg.GatewayAPIKey,
		SiteID:   cfg.GatewaySiteID,
		Timeout:  cfg.GatewayTimeout,
		Recorder: metrics,
	})

	disbursementService := disbursements.NewService(disbursements.Config{
		Partners: partnerRepo,
		Gateway:  gatewayClient,
		Ledger:   ledger,
		Logger:   logger,
		Limits: disbursements.Limits{
			Min:  cfg.AmountMin,
			Max:  cfg.AmountMax,
			Step: cfg.AmountStep,
		},
		DefaultCurrency: cfg.DefaultCurrency,
		FeeRate:         feeRate,
		DueIn:           cfg.ReimbursementDueIn,
		PaymentURLTTL:   cfg.PaymentURLTTL,
		CallbackURL:     cfg.GatewayCallbackURL,
		ReturnURL:       cfg.ReturnURLFor,
	})

	reconciler := callbacks.NewReconciler(callbacks.Config{
		Ledger:   ledger,
		Partners: partnerRepo,
		Notifier: notify.NewQueueNotifier(queue),
		Logger:   logger,
		Recorder: metrics,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,
		HealthChecks: []app.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: cache.Ping(redisClient)},
		},
		DisbursementHandler:  disbursements.NewHandler(disbursementService, shared.NewIdempotencyStore(pool), logger),
		ReimbursementHandler: reimbursements.NewHandler(ledger, logger),
		CallbackHandler:      callbacks.NewHandler(reconciler, logger),
		AuditHandler:         audit.NewHandler(logger, audit.NewService(audit.NewRepository(pool))),
		JobHandler:           jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
