package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/arcollect/arcollect/internal/jobs"
	"github.com/arcollect/arcollect/internal/scoring"
)

const (
	// TaskScoreRefresh recomputes priority scores for the whole book.
	TaskScoreRefresh = "scores:refresh"
)

// ScoreRefreshPayload bounds the refresh fan-out.
type ScoreRefreshPayload struct {
	Parallelism int `json:"parallelism"`
}

// ScoreRefresher describes the behaviour required to rebuild priority scores.
type ScoreRefresher interface {
	RefreshAll(ctx context.Context, parallelism int) (*scoring.RefreshSummary, error)
}

// ScoreRefreshJob coordinates the batch score refresh.
type ScoreRefreshJob struct {
	Scorer  ScoreRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewScoreRefreshJob constructs the job handler.
func NewScoreRefreshJob(scorer ScoreRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *ScoreRefreshJob {
	return &ScoreRefreshJob{Scorer: scorer, Logger: logger, Metrics: metrics}
}

// NewScoreRefreshTask creates an Asynq task for the score refresh.
func NewScoreRefreshTask(parallelism int) (*asynq.Task, error) {
	if parallelism < 1 {
		parallelism = 4
	}
	body, err := json.Marshal(ScoreRefreshPayload{Parallelism: parallelism})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskScoreRefresh, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the score refresh job.
func (j *ScoreRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Scorer == nil {
		return errors.New("score refresh: dependencies not configured")
	}
	var payload ScoreRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Parallelism < 1 {
		payload.Parallelism = 4
	}

	tracker := j.metrics().Track(TaskScoreRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	summary, err := j.Scorer.RefreshAll(ctx, payload.Parallelism)
	if err != nil {
		resultErr = err
		j.log().Error("refresh priority scores", slog.Any("error", err))
		return resultErr
	}

	j.log().Info("refreshed priority scores",
		slog.Int("scored", summary.Scored),
		slog.Int("errors", len(summary.Errors)),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *ScoreRefreshJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ScoreRefreshJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskScoreRefresh))
	}
	return slog.Default().With(slog.String("job", TaskScoreRefresh))
}
