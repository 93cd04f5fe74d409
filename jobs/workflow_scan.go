package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/arcollect/arcollect/internal/jobs"
	"github.com/arcollect/arcollect/internal/workflow"
)

const (
	// TaskWorkflowScan matches open invoices against workflow triggers.
	TaskWorkflowScan = "workflows:scan"
)

// WorkflowScanPayload is currently empty; the scan always covers every
// active definition.
type WorkflowScanPayload struct{}

// TriggerScanner describes the behaviour required to start workflow instances.
type TriggerScanner interface {
	ScanTriggers(ctx context.Context) (*workflow.ScanSummary, error)
}

// WorkflowScanJob coordinates the trigger scan.
type WorkflowScanJob struct {
	Engine  TriggerScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewWorkflowScanJob constructs the job handler.
func NewWorkflowScanJob(engine TriggerScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *WorkflowScanJob {
	return &WorkflowScanJob{Engine: engine, Logger: logger, Metrics: metrics}
}

// NewWorkflowScanTask creates an Asynq task for the trigger scan.
func NewWorkflowScanTask() (*asynq.Task, error) {
	body, err := json.Marshal(WorkflowScanPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkflowScan, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the trigger scan job.
func (j *WorkflowScanJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("workflow scan: dependencies not configured")
	}
	var payload WorkflowScanPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskWorkflowScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	summary, err := j.Engine.ScanTriggers(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("scan workflow triggers", slog.Any("error", err))
		return resultErr
	}

	j.log().Info("scanned workflow triggers",
		slog.Int("definitions", summary.Definitions),
		slog.Int("triggered", summary.Triggered),
		slog.Int("skipped", summary.Skipped))
	return resultErr
}

func (j *WorkflowScanJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *WorkflowScanJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWorkflowScan))
	}
	return slog.Default().With(slog.String("job", TaskWorkflowScan))
}
