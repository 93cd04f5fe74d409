package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/arcollect/arcollect/internal/collection"
	jobmetrics "github.com/arcollect/arcollect/internal/jobs"
)

const (
	// TaskDailyCycle runs the full collection cycle: score refresh, trigger
	// scan, step execution, promise reconciliation.
	TaskDailyCycle = "collection:daily-cycle"
)

// DailyCyclePayload is currently empty; the cycle derives its reference time
// from the clock at execution.
type DailyCyclePayload struct{}

// CycleRunner describes the behaviour required to run the daily cycle.
type CycleRunner interface {
	RunDailyCycle(ctx context.Context, now time.Time) (*collection.CycleSummary, error)
}

// DailyCycleJob coordinates the daily collection cycle.
type DailyCycleJob struct {
	Cycle   CycleRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewDailyCycleJob constructs the job handler.
func NewDailyCycleJob(cycle CycleRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *DailyCycleJob {
	return &DailyCycleJob{
		Cycle:   cycle,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewDailyCycleTask creates an Asynq task for the daily cycle.
func NewDailyCycleTask() (*asynq.Task, error) {
	body, err := json.Marshal(DailyCyclePayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDailyCycle, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the daily cycle job. Phase failures are reported inside the
// summary, not as a task error, so the queue never replays a partially
// applied cycle.
func (j *DailyCycleJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Cycle == nil {
		return errors.New("daily cycle: dependencies not configured")
	}
	var payload DailyCyclePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskDailyCycle)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	summary, err := j.Cycle.RunDailyCycle(ctx, j.now())
	if err != nil {
		resultErr = err
		j.log().Error("run daily collection cycle", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddEscalations("cycle", summary.Escalated)

	j.log().Info("daily collection cycle finished",
		slog.Int("scored", summary.Scored),
		slog.Int("triggered", summary.Triggered),
		slog.Int("executed", summary.Executed),
		slog.Int("failed", summary.Failed),
		slog.Int("reconciled", summary.Reconciled),
		slog.Int("escalated", summary.Escalated),
		slog.Int("errors", len(summary.Errors)),
		slog.Int64("duration_ms", summary.DurationMS))
	return resultErr
}

func (j *DailyCycleJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *DailyCycleJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDailyCycle))
	}
	return slog.Default().With(slog.String("job", TaskDailyCycle))
}

func (j *DailyCycleJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *DailyCycleJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
