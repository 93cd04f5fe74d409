package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/arcollect/arcollect/internal/jobs"
	"github.com/arcollect/arcollect/internal/workflow"
)

const (
	// TaskWorkflowExecute runs every workflow step that has come due. The
	// task is registered with retries disabled: a failed step parks its
	// instance as FAILED and must never be replayed by the queue.
	TaskWorkflowExecute = "workflows:execute"
)

// WorkflowExecutePayload bounds the execution fan-out.
type WorkflowExecutePayload struct {
	Parallelism int `json:"parallelism"`
}

// DueExecutor describes the behaviour required to run due workflow steps.
type DueExecutor interface {
	ExecuteDue(ctx context.Context, now time.Time, parallelism int) (*workflow.ExecutionSummary, error)
}

// WorkflowExecuteJob coordinates the execution pass.
type WorkflowExecuteJob struct {
	Engine  DueExecutor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewWorkflowExecuteJob constructs the job handler.
func NewWorkflowExecuteJob(engine DueExecutor, logger *slog.Logger, metrics *jobmetrics.Metrics) *WorkflowExecuteJob {
	return &WorkflowExecuteJob{
		Engine:  engine,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewWorkflowExecuteTask creates an Asynq task for the execution pass.
func NewWorkflowExecuteTask(parallelism int) (*asynq.Task, error) {
	if parallelism < 1 {
		parallelism = 4
	}
	body, err := json.Marshal(WorkflowExecutePayload{Parallelism: parallelism})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkflowExecute, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the due-step pass.
func (j *WorkflowExecuteJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("workflow execute: dependencies not configured")
	}
	var payload WorkflowExecutePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Parallelism < 1 {
		payload.Parallelism = 4
	}

	tracker := j.metrics().Track(TaskWorkflowExecute)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	summary, err := j.Engine.ExecuteDue(ctx, j.now(), payload.Parallelism)
	if err != nil {
		resultErr = err
		j.log().Error("execute due workflow steps", slog.Any("error", err))
		return resultErr
	}

	j.log().Info("executed due workflow steps",
		slog.Int("executed", summary.Executed),
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed),
		slog.Int("cancelled", summary.Cancelled),
		slog.Int("skipped", summary.Skipped))
	return resultErr
}

func (j *WorkflowExecuteJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *WorkflowExecuteJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWorkflowExecute))
	}
	return slog.Default().With(slog.String("job", TaskWorkflowExecute))
}

func (j *WorkflowExecuteJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *WorkflowExecuteJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
