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

	"github.com/arcollect/arcollect/internal/app"
	"github.com/arcollect/arcollect/internal/collection"
	"github.com/arcollect/arcollect/internal/ledger"
	"github.com/arcollect/arcollect/internal/observability"
	"github.com/arcollect/arcollect/internal/platform/cache"
	"github.com/arcollect/arcollect/internal/platform/db"
	"github.com/arcollect/arcollect/internal/promise"
	"github.com/arcollect/arcollect/internal/scoring"
	"github.com/arcollect/arcollect/internal/workflow"
	"github.com/arcollect/arcollect/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
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

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	scoreCache := scoring.NewCache(redisClient, cfg.ScoreCacheTTL)
	scoringRepo := scoring.NewRepository(ledgerService, pool)
	scorer := scoring.NewScorer(scoringRepo, scoreCache, scoring.Weights{
		Amount:       cfg.ScoreWeightAmount,
		Aging:        cfg.ScoreWeightAging,
		History:      cfg.ScoreWeightHistory,
		Relationship: cfg.ScoreWeightRelationship,
		Effort:       cfg.ScoreWeightEffort,
	}, scoring.Thresholds{
		High:   cfg.RiskHighThreshold,
		Medium: cfg.RiskMediumThreshold,
	}, logger)
	scoringHandler := scoring.NewHandler(logger, scorer)

	promiseRepo := promise.NewRepository(pool)
	promiseService := promise.NewService(promiseRepo, ledgerService, promise.Policy{
		KeptRatio:            cfg.PromiseKeptRatio,
		PartialRatio:         cfg.PromisePartialRatio,
		GraceDays:            cfg.PromiseGraceDays,
		PaymentWindowDays:    cfg.PromisePaymentWindowDays,
		EscalationThreshold:  cfg.PromiseEscalationCount,
		EscalationWindowDays: cfg.PromiseEscalationWindowDays,
		FollowUpLeadDays:     cfg.PromiseFollowUpLeadDays,
	}, logger)
	promiseHandler := promise.NewHandler(logger, promiseService)

	workflowRepo := workflow.NewRepository(pool)
	engine := workflow.NewEngine(workflowRepo, ledgerService, promiseService, logger).WithLocks(redisClient)
	workflowHandler := workflow.NewHandler(logger, engine)

	collectionService := collection.NewService(scorer, engine, promiseService, ledgerService, cfg.CycleParallelism, logger)
	collectionHandler := collection.NewHandler(logger, collectionService)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		LedgerHandler:     ledgerHandler,
		ScoringHandler:    scoringHandler,
		WorkflowHandler:   workflowHandler,
		PromiseHandler:    promiseHandler,
		CollectionHandler: collectionHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
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
