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
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledger-core/internal/accounting/ledger"
	"github.com/odyssey-erp/ledger-core/internal/accounting/mappings"
	"github.com/odyssey-erp/ledger-core/internal/app"
	"github.com/odyssey-erp/ledger-core/internal/currency"
	"github.com/odyssey-erp/ledger-core/internal/integration"
	"github.com/odyssey-erp/ledger-core/internal/inventory"
	jobmetrics "github.com/odyssey-erp/ledger-core/internal/jobs"
	"github.com/odyssey-erp/ledger-core/internal/observability"
	"github.com/odyssey-erp/ledger-core/internal/platform/cache"
	"github.com/odyssey-erp/ledger-core/internal/platform/db"
	"github.com/odyssey-erp/ledger-core/internal/revaluation"
	"github.com/odyssey-erp/ledger-core/internal/shared"
	"github.com/odyssey-erp/ledger-core/jobs"
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

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConn})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB, PingTimeout: cfg.RedisPingTimeout})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	audit := shared.NewAuditLogger(pool)

	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), audit, ledger.Config{
		DocumentType:         cfg.LedgerDocumentType,
		PreventParentPosting: cfg.LedgerPreventParentPosting,
	}, logger).WithMetrics(metrics.Domain())

	hooks := integration.NewHooks(ledgerSvc, mappings.NewRepository(pool))
	inventoryRepo := inventory.NewRepository(pool)
	inventorySvc := inventory.NewService(inventoryRepo, audit, hooks, logger).WithMetrics(metrics.Domain())

	currencySvc := currency.NewService(currency.NewRepository(pool), audit, logger)
	locker := cache.NewLocker(redisClient)
	revaluationSvc := revaluation.NewService(revaluation.Deps{
		Repo:        revaluation.NewRepository(pool),
		Currency:    currencySvc,
		Ledger:      ledgerSvc,
		Locker:      locker,
		Idempotency: shared.NewIdempotencyStore(pool),
		Audit:       audit,
		Logger:      logger,
	}, revaluation.Config{
		GainAccountCode: cfg.FXGainAccount,
		LossAccountCode: cfg.FXLossAccount,
		LockTTL:         cfg.RevaluationLockTTL,
	}).WithMetrics(metrics.Domain())

	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	revaluationJob := jobs.NewCurrencyRevaluationJob(revaluationSvc, logger, jobMetrics)
	integrityJob := jobs.NewGLIntegrityJob(ledgerSvc, logger, jobMetrics)
	wacJob := jobs.NewWACRefreshJob(inventorySvc, inventoryRepo, locker, logger, jobMetrics)

	integrityTask, err := jobs.NewGLIntegrityTask(35)
	if err != nil {
		return err
	}
	wacTask, err := jobs.NewWACRefreshTask()
	if err != nil {
		return err
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCurrencyRevaluation, Handler: revaluationJob.Handle},
			{Type: jobs.TaskGLIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskWACRefresh, Handler: wacJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.GLIntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.WACRefreshCron, Task: wacTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		return err
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() { _ = inspector.Close() }()

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Metrics:    metrics,
		JobHandler: jobs.NewHandler(inspector, logger),
		Checks: map[string]app.Pinger{
			"postgres": app.PingFunc(pool.Ping),
			"redis":    app.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		},
	})
	server := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ops server listening", slog.String("addr", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency))
		return worker.Run(gctx)
	})
	return g.Wait()
}
