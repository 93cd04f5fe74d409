package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/arcollect/arcollect/internal/ledger"
	"github.com/arcollect/arcollect/internal/shared"
)

// PromisePort lets the PAYMENT_PLAN action open a payment promise without
// the engine depending on the promise package.
type PromisePort interface {
	CreatePlan(ctx context.Context, customerID, invoiceID int64, amount float64, due time.Time) error
}

// Engine scans triggers, spawns instances and executes their steps.
// Execution is fail-stop: a failed step marks the instance FAILED and
// nothing re-schedules it.
type Engine struct {
	repo     RepositoryPort
	ledger   *ledger.Service
	promises PromisePort
	locks    *redis.Client
	logger   *slog.Logger
	validate *validator.Validate
	printer  *message.Printer
	clock    func() time.Time
}

// NewEngine builds Engine instance.
func NewEngine(repo RepositoryPort, ledgerSvc *ledger.Service, promises PromisePort, logger *slog.Logger) *Engine {
	return &Engine{
		repo:     repo,
		ledger:   ledgerSvc,
		promises: promises,
		logger:   logger,
		validate: validator.New(),
		printer:  message.NewPrinter(language.English),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CreateDefinition validates and stores a new active definition.
func (e *Engine) CreateDefinition(ctx context.Context, input CreateDefinitionInput) (*Definition, error) {
	if err := e.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("workflow: invalid definition: %v: %w", err, shared.ErrValidation)
	}
	if input.Trigger.MinDaysPastDue < 0 || input.Trigger.MinAmount < 0 {
		return nil, fmt.Errorf("workflow: trigger thresholds must not be negative: %w", shared.ErrValidation)
	}
	def := &Definition{
		Name:    input.Name,
		Trigger: input.Trigger,
		Active:  true,
	}
	for i, step := range input.Steps {
		if !ValidAction(step.Action) {
			return nil, fmt.Errorf("workflow: unknown action %q: %w", step.Action, shared.ErrValidation)
		}
		def.Steps = append(def.Steps, Step{
			Order:      i + 1,
			Action:     step.Action,
			TemplateID: step.TemplateID,
			AssignedTo: step.AssignedTo,
			DelayDays:  step.DelayDays,
		})
	}
	created, err := e.repo.CreateDefinition(ctx, def)
	if err != nil {
		return nil, err
	}
	e.logger.Info("workflow definition created",
		"definition_id", created.ID, "name", created.Name, "steps", len(created.Steps))
	return created, nil
}

// WithLocks attaches a Redis client for best-effort per-instance execution
// locks. The current_step compare-and-set remains the correctness guard; the
// lock only narrows the window where two executors both perform an action's
// side effect before one loses the CAS.
func (e *Engine) WithLocks(client *redis.Client) *Engine {
	e.locks = client
	return e
}

// SetDefinitionActive flips a definition's activation flag.
func (e *Engine) SetDefinitionActive(ctx context.Context, id int64, active bool) error {
	return e.repo.SetDefinitionActive(ctx, id, active)
}

// ListDefinitions returns definitions with their steps.
func (e *Engine) ListDefinitions(ctx context.Context, activeOnly bool) ([]Definition, error) {
	return e.repo.ListDefinitions(ctx, activeOnly)
}

// SeedDefaultDefinitions installs the standard collection ladders. Already
// present definitions are left untouched, so seeding is idempotent.
func (e *Engine) SeedDefaultDefinitions(ctx context.Context) (int, error) {
	defaults := []CreateDefinitionInput{
		{
			Name:    "Early Reminder Workflow",
			Trigger: Trigger{MinDaysPastDue: 1, MinAmount: 100},
			Steps: []StepInput{
				{Action: ActionEmailReminder, TemplateID: "friendly_reminder"},
				{Action: ActionPhoneCall, AssignedTo: "Collection Team", DelayDays: 7},
				{Action: ActionEmailReminder, TemplateID: "second_notice", DelayDays: 14},
			},
		},
		{
			Name:    "Standard Collection Workflow",
			Trigger: Trigger{MinDaysPastDue: 31, MinAmount: 500},
			Steps: []StepInput{
				{Action: ActionPhoneCall, AssignedTo: "Senior Collector"},
				{Action: ActionDunningLetter, DelayDays: 7},
				{Action: ActionPhoneCall, AssignedTo: "Collection Supervisor", DelayDays: 14},
			},
		},
		{
			Name:    "Intensive Collection Workflow",
			Trigger: Trigger{MinDaysPastDue: 61, MinAmount: 1000},
			Steps: []StepInput{
				{Action: ActionPhoneCall, AssignedTo: "Collection Supervisor"},
				{Action: ActionCreditHold, DelayDays: 3},
				{Action: ActionEscalation, AssignedTo: "Collection Manager", DelayDays: 7},
				{Action: ActionDunningLetter, TemplateID: "final_notice", DelayDays: 14},
			},
		},
		{
			Name:    "Legal Referral Workflow",
			Trigger: Trigger{MinDaysPastDue: 90, MinAmount: 2000},
			Steps: []StepInput{
				{Action: ActionEscalation, AssignedTo: "Collection Manager"},
				{Action: ActionLegalReferral, DelayDays: 7},
			},
		},
	}

	seeded := 0
	for _, input := range defaults {
		if _, err := e.CreateDefinition(ctx, input); err != nil {
			if errors.Is(err, shared.ErrDuplicate) {
				continue
			}
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}

// ScanTriggers matches open invoices against every active definition and
// spawns PENDING instances. An invoice already inside a non-terminal
// instance of the same definition is skipped; when two scans race, the
// unique index picks the winner and the loser counts as skipped.
func (e *Engine) ScanTriggers(ctx context.Context) (*ScanSummary, error) {
	defs, err := e.repo.ListDefinitions(ctx, true)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	summary := &ScanSummary{Definitions: len(defs)}

	for _, def := range defs {
		invoices, err := e.ledger.OpenInvoices(ctx, ledger.InvoiceFilter{
			MinDaysPast:  def.Trigger.MinDaysPastDue,
			MinAmount:    def.Trigger.MinAmount,
			CustomerType: def.Trigger.CustomerType,
			AsOf:         now,
		})
		if err != nil {
			return nil, fmt.Errorf("workflow: scan definition %d: %w", def.ID, err)
		}
		for _, inv := range invoices {
			inst := &Instance{
				ID:           uuid.NewString(),
				DefinitionID: def.ID,
				CustomerID:   inv.CustomerID,
				InvoiceID:    inv.ID,
				Status:       StatusPending,
				ScheduledFor: now.AddDate(0, 0, firstStepDelay(def.Steps)),
				CreatedAt:    now,
			}
			if err := e.repo.CreateInstance(ctx, inst); err != nil {
				if errors.Is(err, shared.ErrDuplicate) {
					summary.Skipped++
					continue
				}
				return nil, err
			}
			summary.Triggered++
			summary.InstanceIDs = append(summary.InstanceIDs, inst.ID)
			e.logger.Info("workflow triggered",
				"definition", def.Name, "instance_id", inst.ID,
				"customer_id", inv.CustomerID, "invoice_id", inv.ID)
		}
	}
	return summary, nil
}

func firstStepDelay(steps []Step) int {
	if len(steps) == 0 {
		return 0
	}
	return steps[0].DelayDays
}

// ExecuteDue runs every due non-terminal instance, fanning out across a
// bounded worker group. Instance-level failures are recorded on the
// instance, not returned: only infrastructure errors abort the pass.
func (e *Engine) ExecuteDue(ctx context.Context, now time.Time, parallelism int) (*ExecutionSummary, error) {
	if now.IsZero() {
		now = e.clock()
	}
	due, err := e.repo.ListDueInstances(ctx, now)
	if err != nil {
		return nil, err
	}
	if parallelism < 1 {
		parallelism = 1
	}

	outcomes := make([]string, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, inst := range due {
		g.Go(func() error {
			outcome, err := e.executeInstance(gctx, inst, now)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &ExecutionSummary{}
	for _, outcome := range outcomes {
		switch outcome {
		case outcomeAdvanced:
			summary.Executed++
		case outcomeCompleted:
			summary.Executed++
			summary.Completed++
		case outcomeFailed:
			summary.Failed++
		case outcomeCancelled:
			summary.Cancelled++
		case outcomeSkipped:
			summary.Skipped++
		}
	}
	return summary, nil
}

const (
	outcomeAdvanced  = "advanced"
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeSkipped   = "skipped"
)

func (e *Engine) executeInstance(ctx context.Context, inst Instance, now time.Time) (string, error) {
	if e.locks != nil {
		key := shared.InstanceLockKey(inst.ID)
		acquired, err := e.locks.SetNX(ctx, key, "1", time.Minute).Result()
		if err != nil {
			// Lock service down: fall through to the CAS guard alone.
			e.logger.Warn("instance lock unavailable", "instance_id", inst.ID, slog.Any("error", err))
		} else if !acquired {
			return outcomeSkipped, nil
		} else {
			defer e.locks.Del(context.WithoutCancel(ctx), key)
		}
	}

	def, err := e.repo.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return "", err
	}
	if inst.CurrentStep >= len(def.Steps) {
		// Should not happen: advancing past the last step completes the
		// instance. Close it out rather than looping forever.
		if err := e.repo.CancelInstance(ctx, inst.ID, "no step to execute", now); err != nil {
			return e.skipIfStale(inst.ID, err)
		}
		return outcomeCancelled, nil
	}

	// Re-check the invoice against fresh ledger state: a payment may have
	// landed between scheduling and execution.
	invoice, err := e.ledger.GetInvoice(ctx, inst.InvoiceID)
	if err != nil {
		return "", err
	}
	if invoice.Outstanding <= 0 || invoice.Status == ledger.InvoicePaid {
		if err := e.repo.CancelInstance(ctx, inst.ID, "invoice settled before execution", now); err != nil {
			return e.skipIfStale(inst.ID, err)
		}
		e.logger.Info("workflow cancelled, invoice settled",
			"instance_id", inst.ID, "invoice_id", inst.InvoiceID)
		return outcomeCancelled, nil
	}

	step := def.Steps[inst.CurrentStep]
	started := time.Now()
	result, actErr := e.performAction(ctx, step, inst, invoice)
	duration := time.Since(started).Milliseconds()

	if actErr != nil {
		e.logger.Error("workflow step failed",
			"instance_id", inst.ID, "step", step.Order,
			"action", step.Action, slog.Any("error", actErr))
		failErr := e.repo.FailInstance(ctx, FailInput{
			InstanceID: inst.ID,
			FromStep:   inst.CurrentStep,
			Reason:     actErr.Error(),
			Entry: ExecutionLogEntry{
				InstanceID: inst.ID,
				StepOrder:  step.Order,
				ExecutedAt: now,
				Status:     LogFailed,
				Error:      actErr.Error(),
				DurationMS: duration,
			},
		})
		if failErr != nil {
			return e.skipIfStale(inst.ID, failErr)
		}
		return outcomeFailed, nil
	}

	status := StatusActive
	scheduled := now
	if inst.CurrentStep+1 >= len(def.Steps) {
		status = StatusCompleted
	} else {
		scheduled = now.AddDate(0, 0, def.Steps[inst.CurrentStep+1].DelayDays)
	}
	err = e.repo.AdvanceInstance(ctx, AdvanceInput{
		InstanceID:   inst.ID,
		FromStep:     inst.CurrentStep,
		Status:       status,
		ScheduledFor: scheduled,
		ActionAt:     now,
		Entry: ExecutionLogEntry{
			InstanceID: inst.ID,
			StepOrder:  step.Order,
			ExecutedAt: now,
			Status:     LogSuccess,
			Result:     result,
			DurationMS: duration,
		},
	})
	if err != nil {
		return e.skipIfStale(inst.ID, err)
	}

	e.logger.Info("workflow step executed",
		"instance_id", inst.ID, "step", step.Order, "action", step.Action,
		"status", status, "duration_ms", duration)
	if status == StatusCompleted {
		return outcomeCompleted, nil
	}
	return outcomeAdvanced, nil
}

// skipIfStale treats a lost compare-and-set as a benign skip: another
// executor already moved the instance.
func (e *Engine) skipIfStale(instanceID string, err error) (string, error) {
	if errors.Is(err, shared.ErrStaleInstance) || errors.Is(err, shared.ErrTerminalState) {
		e.logger.Debug("workflow instance already advanced elsewhere", "instance_id", instanceID)
		return outcomeSkipped, nil
	}
	return "", err
}

// Cancel stops a running instance with an operator-supplied reason.
func (e *Engine) Cancel(ctx context.Context, instanceID, reason string) error {
	if reason == "" {
		reason = "cancelled by operator"
	}
	return e.repo.CancelInstance(ctx, instanceID, reason, e.clock())
}

// InstanceDetail returns an instance with its definition name and full
// execution log.
func (e *Engine) InstanceDetail(ctx context.Context, instanceID string) (*InstanceDetail, error) {
	inst, err := e.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	def, err := e.repo.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	log, err := e.repo.ListExecutionLog(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return &InstanceDetail{Instance: *inst, DefinitionName: def.Name, Log: log}, nil
}

// Summary returns the fleet-wide instance status view.
func (e *Engine) Summary(ctx context.Context) (*StatusSummary, error) {
	byStatus, err := e.repo.CountInstancesByStatus(ctx)
	if err != nil {
		return nil, err
	}
	active, err := e.repo.CountActiveDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	upcoming, err := e.repo.ListUpcoming(ctx, 10)
	if err != nil {
		return nil, err
	}
	return &StatusSummary{ByStatus: byStatus, ActiveDefinitions: active, Upcoming: upcoming}, nil
}
