package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/arcollect/arcollect/internal/app"
	"github.com/arcollect/arcollect/internal/collection"
	jobmetrics "github.com/arcollect/arcollect/internal/jobs"
	"github.com/arcollect/arcollect/internal/ledger"
	"github.com/arcollect/arcollect/internal/platform/cache"
	"github.com/arcollect/arcollect/internal/platform/db"
	"github.com/arcollect/arcollect/internal/promise"
	"github.com/arcollect/arcollect/internal/scoring"
	"github.com/arcollect/arcollect/internal/workflow"
	"github.com/arcollect/arcollect/jobs"
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

	ledgerService := ledger.NewService(ledger.NewRepository(pool))

	scoreCache := scoring.NewCache(redisClient, cfg.ScoreCacheTTL)
	scorer := scoring.NewScorer(scoring.NewRepository(ledgerService, pool), scoreCache, scoring.Weights{
		Amount:       cfg.ScoreWeightAmount,
		Aging:        cfg.ScoreWeightAging,
		History:      cfg.ScoreWeightHistory,
		Relationship: cfg.ScoreWeightRelationship,
		Effort:       cfg.ScoreWeightEffort,
	}, scoring.Thresholds{
		High:   cfg.RiskHighThreshold,
		Medium: cfg.RiskMediumThreshold,
	}, logger)

	promiseService := promise.NewService(promise.NewRepository(pool), ledgerService, promise.Policy{
		KeptRatio:            cfg.PromiseKeptRatio,
		PartialRatio:         cfg.PromisePartialRatio,
		GraceDays:            cfg.PromiseGraceDays,
		PaymentWindowDays:    cfg.PromisePaymentWindowDays,
		EscalationThreshold:  cfg.PromiseEscalationCount,
		EscalationWindowDays: cfg.PromiseEscalationWindowDays,
		FollowUpLeadDays:     cfg.PromiseFollowUpLeadDays,
	}, logger)

	engine := workflow.NewEngine(workflow.NewRepository(pool), ledgerService, promiseService, logger).
		WithLocks(redisClient)

	cycleService := collection.NewService(scorer, engine, promiseService, ledgerService, cfg.CycleParallelism, logger)

	metrics := jobmetrics.NewMetrics(nil)
	scoreJob := jobs.NewScoreRefreshJob(scorer, logger, metrics)
	scanJob := jobs.NewWorkflowScanJob(engine, logger, metrics)
	executeJob := jobs.NewWorkflowExecuteJob(engine, logger, metrics)
	reconcileJob := jobs.NewPromiseReconcileJob(promiseService, logger, metrics)
	cycleJob := jobs.NewDailyCycleJob(cycleService, logger, metrics)

	cycleTask, err := jobs.NewDailyCycleTask()
	if err != nil {
		logger.Error("build daily cycle task", slog.Any("error", err))
		os.Exit(1)
	}
	scoreTask, err := jobs.NewScoreRefreshTask(cfg.CycleParallelism)
	if err != nil {
		logger.Error("build score refresh task", slog.Any("error", err))
		os.Exit(1)
	}
	executeTask, err := jobs.NewWorkflowExecuteTask(cfg.CycleParallelism)
	if err != nil {
		logger.Error("build workflow execute task", slog.Any("error", err))
		os.Exit(1)
	}
	reconcileTask, err := jobs.NewPromiseReconcileTask()
	if err != nil {
		logger.Error("build promise reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskScoreRefresh, Handler: scoreJob.Handle},
			{Type: jobs.TaskWorkflowScan, Handler: scanJob.Handle},
			{Type: jobs.TaskWorkflowExecute, Handler: executeJob.Handle},
			{Type: jobs.TaskPromiseReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskDailyCycle, Handler: cycleJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			// The daily cycle and the execute pass run side-effecting
			// collection actions, so the queue never retries them.
			{Spec: "0 6 * * *", Task: cycleTask, Options: []asynq.Option{asynq.MaxRetry(0)}},
			{Spec: "0 */6 * * *", Task: scoreTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
			{Spec: "30 * * * *", Task: executeTask, Options: []asynq.Option{asynq.MaxRetry(0)}},
			{Spec: "0 18 * * *", Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
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
