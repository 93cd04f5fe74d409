package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/arcollect/arcollect/internal/jobs"
	"github.com/arcollect/arcollect/internal/promise"
)

const (
	// TaskPromiseReconcile settles overdue payment promises against
	// received payments.
	TaskPromiseReconcile = "promises:reconcile"
)

// PromiseReconcilePayload is currently empty; the pass always covers every
// overdue ACTIVE promise.
type PromiseReconcilePayload struct{}

// PromiseReconciler describes the behaviour required to settle promises.
type PromiseReconciler interface {
	Reconcile(ctx context.Context, now time.Time) (*promise.ReconcileSummary, error)
}

// PromiseReconcileJob coordinates the reconciliation pass.
type PromiseReconcileJob struct {
	Promises PromiseReconciler
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewPromiseReconcileJob constructs the job handler.
func NewPromiseReconcileJob(promises PromiseReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *PromiseReconcileJob {
	return &PromiseReconcileJob{
		Promises: promises,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewPromiseReconcileTask creates an Asynq task for the reconciliation pass.
func NewPromiseReconcileTask() (*asynq.Task, error) {
	body, err := json.Marshal(PromiseReconcilePayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPromiseReconcile, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the reconciliation job.
func (j *PromiseReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Promises == nil {
		return errors.New("promise reconcile: dependencies not configured")
	}
	var payload PromiseReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPromiseReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	summary, err := j.Promises.Reconcile(ctx, j.now())
	if err != nil {
		resultErr = err
		j.log().Error("reconcile payment promises", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddEscalations("promise", summary.Escalated)

	j.log().Info("reconciled payment promises",
		slog.Int("checked", summary.Checked),
		slog.Int("kept", summary.Kept),
		slog.Int("partial", summary.Partial),
		slog.Int("broken", summary.Broken),
		slog.Int("escalated", summary.Escalated))
	return resultErr
}

func (j *PromiseReconcileJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PromiseReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPromiseReconcile))
	}
	return slog.Default().With(slog.String("job", TaskPromiseReconcile))
}

func (j *PromiseReconcileJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *PromiseReconcileJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
