package collection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcollect/arcollect/internal/ledger"
	"github.com/arcollect/arcollect/internal/promise"
	"github.com/arcollect/arcollect/internal/scoring"
	"github.com/arcollect/arcollect/internal/workflow"
)

// ScorerPort is the slice of the scoring component the orchestrator drives.
type ScorerPort interface {
	RefreshAll(ctx context.Context, parallelism int) (*scoring.RefreshSummary, error)
	PrioritizedQueue(ctx context.Context, limit int, minScore float64) ([]scoring.PriorityScore, error)
}

// WorkflowPort is the slice of the workflow engine the orchestrator drives.
type WorkflowPort interface {
	ScanTriggers(ctx context.Context) (*workflow.ScanSummary, error)
	ExecuteDue(ctx context.Context, now time.Time, parallelism int) (*workflow.ExecutionSummary, error)
	Summary(ctx context.Context) (*workflow.StatusSummary, error)
}

// PromisePort is the slice of the promise service the orchestrator drives.
type PromisePort interface {
	Reconcile(ctx context.Context, now time.Time) (*promise.ReconcileSummary, error)
	BookKeepRate(ctx context.Context, periodDays int) (*promise.KeepRateStat, error)
}

// LedgerPort supplies the aging figures for the dashboard.
type LedgerPort interface {
	AgingReport(ctx context.Context, asOf time.Time) (*ledger.AgingReport, error)
}

// Service sequences the daily collection cycle and assembles the dashboard.
type Service struct {
	scorer      ScorerPort
	workflows   WorkflowPort
	promises    PromisePort
	book        LedgerPort
	parallelism int
	logger      *slog.Logger
	clock       func() time.Time
}

// NewService builds Service instance.
func NewService(scorer ScorerPort, workflows WorkflowPort, promises PromisePort, book LedgerPort, parallelism int, logger *slog.Logger) *Service {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Service{
		scorer:      scorer,
		workflows:   workflows,
		promises:    promises,
		book:        book,
		parallelism: parallelism,
		logger:      logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CycleSummary reports one daily cycle run. Errors holds per-phase failures;
// a failed phase never aborts the remaining phases.
type CycleSummary struct {
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Scored     int       `json:"scored"`
	Triggered  int       `json:"triggered"`
	Executed   int       `json:"executed"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Reconciled int       `json:"reconciled"`
	Escalated  int       `json:"escalated"`
	Errors     []string  `json:"errors,omitempty"`
}

// RunDailyCycle refreshes priority scores, scans workflow triggers, executes
// due workflow steps and reconciles overdue promises, in that order.
func (s *Service) RunDailyCycle(ctx context.Context, now time.Time) (*CycleSummary, error) {
	if now.IsZero() {
		now = s.clock()
	}
	summary := &CycleSummary{StartedAt: now}
	started := s.clock()

	refresh, err := s.scorer.RefreshAll(ctx, s.parallelism)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("refresh scores: %v", err))
	} else {
		summary.Scored = refresh.Scored
		summary.Errors = append(summary.Errors, refresh.Errors...)
	}

	scan, err := s.workflows.ScanTriggers(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("scan triggers: %v", err))
	} else {
		summary.Triggered = scan.Triggered
	}

	execution, err := s.workflows.ExecuteDue(ctx, now, s.parallelism)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("execute workflows: %v", err))
	} else {
		summary.Executed = execution.Executed
		summary.Completed = execution.Completed
		summary.Failed = execution.Failed
	}

	reconcile, err := s.promises.Reconcile(ctx, now)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("reconcile promises: %v", err))
	} else {
		summary.Reconciled = reconcile.Checked
		summary.Escalated = reconcile.Escalated
	}

	summary.DurationMS = s.clock().Sub(started).Milliseconds()
	s.logger.Info("daily collection cycle finished",
		"scored", summary.Scored, "triggered", summary.Triggered,
		"executed", summary.Executed, "failed", summary.Failed,
		"reconciled", summary.Reconciled, "escalated", summary.Escalated,
		"errors", len(summary.Errors), "duration_ms", summary.DurationMS)
	return summary, nil
}

// Dashboard is the management snapshot of the collection book.
type Dashboard struct {
	GeneratedAt      time.Time                      `json:"generated_at"`
	TotalOutstanding float64                        `json:"total_outstanding"`
	Aging            *ledger.AgingReport            `json:"aging"`
	RiskSegments     map[scoring.RiskLevel]int      `json:"risk_segments"`
	Instances        map[workflow.InstanceStatus]int `json:"instances"`
	PromiseKeepRate  *promise.KeepRateStat          `json:"promise_keep_rate"`
	TopPriority      []scoring.PriorityScore        `json:"top_priority"`
}

const topPriorityCount = 5

// BuildDashboard assembles the current snapshot. Scores are computed live
// from ledger state rather than read from the cache so the figures are
// consistent with the aging report generated in the same call.
func (s *Service) BuildDashboard(ctx context.Context) (*Dashboard, error) {
	now := s.clock()

	aging, err := s.book.AgingReport(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("collection: aging report: %w", err)
	}

	queue, err := s.scorer.PrioritizedQueue(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("collection: priority queue: %w", err)
	}
	segments := make(map[scoring.RiskLevel]int)
	for _, score := range queue {
		segments[score.Risk]++
	}
	top := queue
	if len(top) > topPriorityCount {
		top = top[:topPriorityCount]
	}

	statuses, err := s.workflows.Summary(ctx)
	if err != nil {
		return nil, fmt.Errorf("collection: workflow summary: %w", err)
	}

	keepRate, err := s.promises.BookKeepRate(ctx, 90)
	if err != nil {
		return nil, fmt.Errorf("collection: promise keep rate: %w", err)
	}

	return &Dashboard{
		GeneratedAt:      now,
		TotalOutstanding: aging.Total,
		Aging:            aging,
		RiskSegments:     segments,
		Instances:        statuses.ByStatus,
		PromiseKeepRate:  keepRate,
		TopPriority:      top,
	}, nil
}
