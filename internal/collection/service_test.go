package collection

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcollect/arcollect/internal/ledger"
	"github.com/arcollect/arcollect/internal/promise"
	"github.com/arcollect/arcollect/internal/scoring"
	"github.com/arcollect/arcollect/internal/workflow"
)

var cycleNow = time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC)

type stubScorer struct {
	refresh    *scoring.RefreshSummary
	refreshErr error
	queue      []scoring.PriorityScore
	queueErr   error
	calls      []string
}

func (s *stubScorer) RefreshAll(context.Context, int) (*scoring.RefreshSummary, error) {
	s.calls = append(s.calls, "refresh")
	return s.refresh, s.refreshErr
}

func (s *stubScorer) PrioritizedQueue(_ context.Context, limit int, _ float64) ([]scoring.PriorityScore, error) {
	if s.queueErr != nil {
		return nil, s.queueErr
	}
	if limit > 0 && len(s.queue) > limit {
		return s.queue[:limit], nil
	}
	return s.queue, nil
}

type stubWorkflows struct {
	scan     *workflow.ScanSummary
	scanErr  error
	execute  *workflow.ExecutionSummary
	execErr  error
	statuses *workflow.StatusSummary
	calls    []string
}

func (s *stubWorkflows) ScanTriggers(context.Context) (*workflow.ScanSummary, error) {
	s.calls = append(s.calls, "scan")
	return s.scan, s.scanErr
}

func (s *stubWorkflows) ExecuteDue(context.Context, time.Time, int) (*workflow.ExecutionSummary, error) {
	s.calls = append(s.calls, "execute")
	return s.execute, s.execErr
}

func (s *stubWorkflows) Summary(context.Context) (*workflow.StatusSummary, error) {
	return s.statuses, nil
}

type stubPromises struct {
	reconcile    *promise.ReconcileSummary
	reconcileErr error
	keepRate     *promise.KeepRateStat
	calls        []string
}

func (s *stubPromises) Reconcile(context.Context, time.Time) (*promise.ReconcileSummary, error) {
	s.calls = append(s.calls, "reconcile")
	return s.reconcile, s.reconcileErr
}

func (s *stubPromises) BookKeepRate(context.Context, int) (*promise.KeepRateStat, error) {
	return s.keepRate, nil
}

type stubBook struct {
	report *ledger.AgingReport
}

func (s *stubBook) AgingReport(context.Context, time.Time) (*ledger.AgingReport, error) {
	return s.report, nil
}

func newCycleFixture() (*Service, *stubScorer, *stubWorkflows, *stubPromises) {
	scorer := &stubScorer{refresh: &scoring.RefreshSummary{Scored: 12}}
	workflows := &stubWorkflows{
		scan:     &workflow.ScanSummary{Definitions: 4, Triggered: 3},
		execute:  &workflow.ExecutionSummary{Executed: 5, Completed: 2, Failed: 1},
		statuses: &workflow.StatusSummary{ByStatus: map[workflow.InstanceStatus]int{workflow.StatusActive: 7}},
	}
	promises := &stubPromises{
		reconcile: &promise.ReconcileSummary{Checked: 6, Kept: 4, Broken: 1, Escalated: 1},
		keepRate:  &promise.KeepRateStat{Kept: 8, Resolved: 10, Rate: 0.8},
	}
	book := &stubBook{report: &ledger.AgingReport{
		AsOf:  cycleNow,
		Total: 125000,
		Buckets: map[ledger.AgingBucket]ledger.AgingLine{
			ledger.Bucket31To60: {InvoiceCount: 3, Outstanding: 125000},
		},
	}}
	svc := NewService(scorer, workflows, promises, book, 4, slog.Default())
	svc.clock = func() time.Time { return cycleNow }
	return svc, scorer, workflows, promises
}

func TestRunDailyCycleSequencesPhases(t *testing.T) {
	svc, scorer, workflows, promises := newCycleFixture()

	summary, err := svc.RunDailyCycle(context.Background(), cycleNow)
	require.NoError(t, err)

	require.Equal(t, []string{"refresh"}, scorer.calls)
	require.Equal(t, []string{"scan", "execute"}, workflows.calls)
	require.Equal(t, []string{"reconcile"}, promises.calls)

	require.Equal(t, 12, summary.Scored)
	require.Equal(t, 3, summary.Triggered)
	require.Equal(t, 5, summary.Executed)
	require.Equal(t, 2, summary.Completed)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 6, summary.Reconciled)
	require.Equal(t, 1, summary.Escalated)
	require.Empty(t, summary.Errors)
}

func TestRunDailyCycleContinuesPastPhaseFailures(t *testing.T) {
	svc, scorer, workflows, promises := newCycleFixture()
	scorer.refreshErr = errors.New("redis connection refused")
	workflows.scanErr = errors.New("ledger unavailable")

	summary, err := svc.RunDailyCycle(context.Background(), cycleNow)
	require.NoError(t, err)

	// Later phases still ran despite the earlier failures.
	require.Equal(t, []string{"scan", "execute"}, workflows.calls)
	require.Equal(t, []string{"reconcile"}, promises.calls)

	require.Len(t, summary.Errors, 2)
	require.Contains(t, summary.Errors[0], "refresh scores")
	require.Contains(t, summary.Errors[1], "scan triggers")
	require.Equal(t, 0, summary.Scored)
	require.Equal(t, 0, summary.Triggered)
	require.Equal(t, 5, summary.Executed)
	require.Equal(t, 6, summary.Reconciled)
}

func TestRunDailyCycleCollectsRefreshErrors(t *testing.T) {
	svc, scorer, _, _ := newCycleFixture()
	scorer.refresh = &scoring.RefreshSummary{
		Scored: 10,
		Errors: []string{"customer 42: not found"},
	}

	summary, err := svc.RunDailyCycle(context.Background(), cycleNow)
	require.NoError(t, err)
	require.Equal(t, 10, summary.Scored)
	require.Equal(t, []string{"customer 42: not found"}, summary.Errors)
}

func TestBuildDashboard(t *testing.T) {
	svc, scorer, _, _ := newCycleFixture()
	scorer.queue = []scoring.PriorityScore{
		{CustomerID: 1, CustomerName: "Critical Co", Composite: 88, Risk: scoring.RiskHigh},
		{CustomerID: 2, CustomerName: "Watchlist Ltd", Composite: 61, Risk: scoring.RiskMedium},
		{CustomerID: 3, CustomerName: "Steady Inc", Composite: 58, Risk: scoring.RiskMedium},
		{CustomerID: 4, CustomerName: "Quiet GmbH", Composite: 22, Risk: scoring.RiskLow},
		{CustomerID: 5, CustomerName: "Small Shop", Composite: 18, Risk: scoring.RiskLow},
		{CustomerID: 6, CustomerName: "Tiny Trade", Composite: 12, Risk: scoring.RiskLow},
	}

	dashboard, err := svc.BuildDashboard(context.Background())
	require.NoError(t, err)

	require.Equal(t, cycleNow, dashboard.GeneratedAt)
	require.Equal(t, 125000.0, dashboard.TotalOutstanding)
	require.Equal(t, 1, dashboard.RiskSegments[scoring.RiskHigh])
	require.Equal(t, 2, dashboard.RiskSegments[scoring.RiskMedium])
	require.Equal(t, 3, dashboard.RiskSegments[scoring.RiskLow])
	require.Equal(t, 7, dashboard.Instances[workflow.StatusActive])
	require.InDelta(t, 0.8, dashboard.PromiseKeepRate.Rate, 1e-9)

	require.Len(t, dashboard.TopPriority, 5)
	require.Equal(t, "Critical Co", dashboard.TopPriority[0].CustomerName)
}
