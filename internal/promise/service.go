package promise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/arcollect/arcollect/internal/ledger"
	"github.com/arcollect/arcollect/internal/shared"
)

// Service manages the promise lifecycle: create, reconcile against actual
// payments, explicit transitions and the follow-up queue.
type Service struct {
	repo     RepositoryPort
	ledger   *ledger.Service
	policy   Policy
	logger   *slog.Logger
	validate *validator.Validate
	printer  *message.Printer
	clock    func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, ledgerSvc *ledger.Service, policy Policy, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		ledger:   ledgerSvc,
		policy:   policy,
		logger:   logger,
		validate: validator.New(),
		printer:  message.NewPrinter(language.English),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Create validates and records a new ACTIVE promise, scheduling its
// follow-up activity.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Promise, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("promise: invalid input: %v: %w", err, shared.ErrValidation)
	}
	now := s.clock()
	if !input.DueAt.After(now) {
		return nil, fmt.Errorf("promise: due date must be in the future: %w", shared.ErrValidation)
	}
	if _, err := s.ledger.GetCustomer(ctx, input.CustomerID); err != nil {
		return nil, err
	}
	if input.InvoiceID != 0 {
		inv, err := s.ledger.GetInvoice(ctx, input.InvoiceID)
		if err != nil {
			return nil, err
		}
		if inv.CustomerID != input.CustomerID {
			return nil, fmt.Errorf("promise: invoice %d belongs to another customer: %w",
				input.InvoiceID, shared.ErrValidation)
		}
		if inv.Outstanding <= 0 {
			return nil, fmt.Errorf("promise: invoice %d already settled: %w",
				input.InvoiceID, shared.ErrValidation)
		}
		if input.Amount > inv.Outstanding {
			return nil, fmt.Errorf("promise: amount exceeds outstanding %.2f: %w",
				inv.Outstanding, shared.ErrValidation)
		}
	}

	createdBy := input.CreatedBy
	if createdBy == "" {
		createdBy = "collection-agent"
	}
	method := input.ContactMethod
	if method == "" {
		method = "PHONE"
	}
	p := &Promise{
		CustomerID:     input.CustomerID,
		InvoiceID:      input.InvoiceID,
		PromisedAmount: input.Amount,
		MadeAt:         now,
		DueAt:          input.DueAt,
		Status:         StatusActive,
		FollowUpAt:     input.DueAt.AddDate(0, 0, -s.policy.FollowUpLeadDays),
		ContactPerson:  input.ContactPerson,
		ContactMethod:  method,
		Notes:          input.Notes,
		CreatedBy:      createdBy,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	followUp := p.FollowUpAt
	_, err := s.ledger.AppendActivity(ctx, ledger.Activity{
		CustomerID: p.CustomerID,
		InvoiceID:  p.InvoiceID,
		At:         now,
		Type:       ledger.ActivityPromiseFollowUp,
		Result:     ledger.ResultScheduled,
		Method:     method,
		FollowUpAt: &followUp,
		Notes: s.printer.Sprintf("Payment promise %d recorded: $%.2f due %s",
			p.ID, p.PromisedAmount, p.DueAt.Format("2006-01-02")),
		PerformedBy: createdBy,
		AssignedTo:  "Collection Agent",
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment promise created",
		"promise_id", p.ID, "customer_id", p.CustomerID,
		"amount", p.PromisedAmount, "due", p.DueAt)
	return p, nil
}

// CreatePlan opens a promise on behalf of a workflow payment-plan action.
func (s *Service) CreatePlan(ctx context.Context, customerID, invoiceID int64, amount float64, due time.Time) error {
	_, err := s.Create(ctx, CreateInput{
		CustomerID:    customerID,
		InvoiceID:     invoiceID,
		Amount:        amount,
		DueAt:         due,
		ContactMethod: "INTERNAL",
		Notes:         "Opened by collection workflow payment plan",
		CreatedBy:     "workflow-engine",
	})
	return err
}

// Get returns one promise.
func (s *Service) Get(ctx context.Context, id int64) (*Promise, error) {
	return s.repo.Get(ctx, id)
}

// UpdateStatus applies an explicit transition. Terminal promises reject any
// further change. A KEPT request whose payment falls short of the kept ratio
// is downgraded to PARTIALLY_KEPT.
func (s *Service) UpdateStatus(ctx context.Context, id int64, input StatusUpdateInput) (*StatusUpdateResult, error) {
	if !input.Status.Valid() || input.Status == StatusActive {
		return nil, fmt.Errorf("promise: invalid target status %q: %w", input.Status, shared.ErrValidation)
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("promise %d is %s: %w", id, current.Status, shared.ErrTerminalState)
	}

	target := input.Status
	if target == StatusKept || target == StatusPartiallyKept {
		if input.ActualAmount <= 0 {
			return nil, fmt.Errorf("promise: actual payment amount required for %s: %w",
				target, shared.ErrValidation)
		}
		if target == StatusKept && input.ActualAmount < current.PromisedAmount*s.policy.KeptRatio {
			target = StatusPartiallyKept
		}
	}

	now := s.clock()
	escalation := false
	if target == StatusBroken {
		since := now.AddDate(0, 0, -s.policy.EscalationWindowDays)
		broken, err := s.repo.CountBrokenSince(ctx, current.CustomerID, since)
		if err != nil {
			return nil, err
		}
		// The promise being broken right now counts toward the threshold.
		escalation = broken+1 >= s.policy.EscalationThreshold
	}

	updated, err := s.repo.ApplyStatusChange(ctx, StatusChange{
		PromiseID:          id,
		Status:             target,
		ActualAmount:       input.ActualAmount,
		ActualPaidAt:       input.ActualPaidAt,
		EscalationRequired: escalation,
		Notes:              input.Notes,
		FollowUpDone:       true,
	})
	if err != nil {
		return nil, err
	}

	if err := s.recordTransition(ctx, updated, escalation); err != nil {
		return nil, err
	}
	s.logger.Info("payment promise transitioned",
		"promise_id", id, "from", current.Status, "to", target, "escalation", escalation)
	return &StatusUpdateResult{
		Promise:            updated,
		PreviousStatus:     current.Status,
		EscalationRequired: escalation,
	}, nil
}

func (s *Service) recordTransition(ctx context.Context, p *Promise, escalation bool) error {
	var result ledger.ActivityResult
	var notes string
	switch p.Status {
	case StatusKept:
		result = ledger.ResultPromiseKept
		notes = s.printer.Sprintf("Customer honored payment promise %d, received $%.2f", p.ID, p.ActualAmount)
	case StatusBroken:
		result = ledger.ResultPromiseBroken
		notes = fmt.Sprintf("Customer failed to honor payment promise %d", p.ID)
	case StatusPartiallyKept:
		result = ledger.ResultPartialPayment
		notes = s.printer.Sprintf("Customer made partial payment of $%.2f on promise %d", p.ActualAmount, p.ID)
	default:
		result = ledger.ResultPromiseCancelled
		notes = fmt.Sprintf("Payment promise %d cancelled", p.ID)
	}
	assignee := "Collection Agent"
	if escalation {
		assignee = "Collection Supervisor"
		notes += "; repeated broken promises, escalation required"
	}
	_, err := s.ledger.AppendActivity(ctx, ledger.Activity{
		CustomerID:  p.CustomerID,
		InvoiceID:   p.InvoiceID,
		At:          s.clock(),
		Type:        ledger.ActivityPromiseUpdate,
		Result:      result,
		Method:      "INTERNAL",
		Notes:       notes,
		PerformedBy: "promise-tracker",
		AssignedTo:  assignee,
	})
	return err
}

// Reconcile settles every ACTIVE promise past its due date plus grace
// against payments actually received in the payment window. Concurrent
// transitions on individual promises are skipped, not errors.
func (s *Service) Reconcile(ctx context.Context, now time.Time) (*ReconcileSummary, error) {
	if now.IsZero() {
		now = s.clock()
	}
	cutoff := now.AddDate(0, 0, -s.policy.GraceDays)
	overdue, err := s.repo.ListOverdueActive(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{}
	for _, p := range overdue {
		var paid float64
		if p.InvoiceID != 0 {
			windowEnd := p.DueAt.AddDate(0, 0, s.policy.PaymentWindowDays)
			paid, err = s.ledger.PaymentsApplied(ctx, p.InvoiceID, p.DueAt, windowEnd)
			if err != nil {
				return nil, err
			}
		}

		target := StatusBroken
		switch {
		case paid >= p.PromisedAmount*s.policy.KeptRatio:
			target = StatusKept
		case paid >= p.PromisedAmount*s.policy.PartialRatio:
			target = StatusPartiallyKept
		}

		input := StatusUpdateInput{Status: target}
		if paid > 0 {
			input.ActualAmount = paid
			paidAt := p.DueAt
			input.ActualPaidAt = &paidAt
		}
		result, err := s.UpdateStatus(ctx, p.ID, input)
		if err != nil {
			if errors.Is(err, shared.ErrTerminalState) {
				continue
			}
			return nil, fmt.Errorf("promise: reconcile %d: %w", p.ID, err)
		}

		summary.Checked++
		switch result.Promise.Status {
		case StatusKept:
			summary.Kept++
		case StatusPartiallyKept:
			summary.Partial++
		case StatusBroken:
			summary.Broken++
		}
		if result.EscalationRequired {
			summary.Escalated++
		}
	}

	s.logger.Info("promise reconciliation finished",
		"checked", summary.Checked, "kept", summary.Kept,
		"partial", summary.Partial, "broken", summary.Broken,
		"escalated", summary.Escalated)
	return summary, nil
}

// BookKeepRate reports the keep rate across all customers for promises made
// inside the trailing window.
func (s *Service) BookKeepRate(ctx context.Context, periodDays int) (*KeepRateStat, error) {
	if periodDays <= 0 {
		periodDays = 90
	}
	kept, resolved, err := s.repo.CountOutcomesSince(ctx, s.clock().AddDate(0, 0, -periodDays))
	if err != nil {
		return nil, err
	}
	stat := &KeepRateStat{Kept: kept, Resolved: resolved}
	if resolved > 0 {
		stat.Rate = float64(kept) / float64(resolved)
	}
	return stat, nil
}

// History returns a customer's promises inside the window with keep-rate and
// fulfillment figures.
func (s *Service) History(ctx context.Context, customerID int64, periodDays int) (*History, error) {
	if periodDays <= 0 {
		periodDays = 180
	}
	since := s.clock().AddDate(0, 0, -periodDays)
	promises, err := s.repo.ListByCustomer(ctx, customerID, since)
	if err != nil {
		return nil, err
	}

	history := &History{CustomerID: customerID, PeriodDays: periodDays, Promises: promises}
	for _, p := range promises {
		history.Summary.TotalPromises++
		history.Summary.TotalPromised += p.PromisedAmount
		history.Summary.TotalReceived += p.ActualAmount
		switch p.Status {
		case StatusKept:
			history.Summary.KeptPromises++
		case StatusBroken:
			history.Summary.BrokenPromises++
		case StatusPartiallyKept:
			history.Summary.PartialPromises++
		case StatusActive:
			history.Summary.ActivePromises++
		}
	}
	if history.Summary.TotalPromises > 0 {
		history.Summary.KeepRate = float64(history.Summary.KeptPromises) / float64(history.Summary.TotalPromises)
	}
	if history.Summary.TotalPromised > 0 {
		history.Summary.FulfillmentRate = history.Summary.TotalReceived / history.Summary.TotalPromised
	}
	return history, nil
}

// FollowUpQueue builds the agent work list: ACTIVE promises whose follow-up
// or due date falls within daysAhead, ranked by computed priority.
func (s *Service) FollowUpQueue(ctx context.Context, daysAhead int) ([]FollowUpItem, error) {
	if daysAhead <= 0 {
		daysAhead = 7
	}
	now := s.clock()
	pending, err := s.repo.ListPendingFollowUps(ctx, now.AddDate(0, 0, daysAhead))
	if err != nil {
		return nil, err
	}

	names := make(map[int64]string)
	items := make([]FollowUpItem, 0, len(pending))
	for _, p := range pending {
		name, ok := names[p.CustomerID]
		if !ok {
			customer, err := s.ledger.GetCustomer(ctx, p.CustomerID)
			if err != nil {
				return nil, err
			}
			name = customer.Name
			names[p.CustomerID] = name
		}
		days := int(math.Floor(p.DueAt.Sub(now).Hours() / 24))
		items = append(items, FollowUpItem{
			Promise:           p,
			CustomerName:      name,
			DaysUntilDue:      days,
			Overdue:           days < 0,
			Priority:          followUpPriority(days, p.PromisedAmount),
			RecommendedAction: recommendedAction(days),
		})
	}

	rank := map[FollowUpPriority]int{PriorityUrgent: 0, PriorityHigh: 1, PriorityNormal: 2, PriorityLow: 3}
	sort.SliceStable(items, func(i, j int) bool {
		if rank[items[i].Priority] != rank[items[j].Priority] {
			return rank[items[i].Priority] < rank[items[j].Priority]
		}
		return items[i].DaysUntilDue < items[j].DaysUntilDue
	})
	return items, nil
}

func followUpPriority(daysUntilDue int, amount float64) FollowUpPriority {
	switch {
	case daysUntilDue < 0:
		return PriorityUrgent
	case daysUntilDue <= 1:
		return PriorityHigh
	case amount >= 25000:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

func recommendedAction(daysUntilDue int) string {
	switch {
	case daysUntilDue < -2:
		return ActionImmediateEscalation
	case daysUntilDue < 0:
		return ActionUrgentContact
	case daysUntilDue == 0:
		return ActionConfirmPayment
	case daysUntilDue == 1:
		return ActionReminderCall
	default:
		return ActionCourtesyReminder
	}
}

// MarkFollowUpCompleted closes out a scheduled follow-up.
func (s *Service) MarkFollowUpCompleted(ctx context.Context, id int64, notes, performedBy string) (*Promise, error) {
	if performedBy == "" {
		performedBy = "collection-agent"
	}
	p, err := s.repo.MarkFollowUpDone(ctx, id, notes)
	if err != nil {
		return nil, err
	}
	activityNotes := notes
	if activityNotes == "" {
		activityNotes = fmt.Sprintf("Follow-up completed for promise %d", p.ID)
	}
	_, err = s.ledger.AppendActivity(ctx, ledger.Activity{
		CustomerID:  p.CustomerID,
		InvoiceID:   p.InvoiceID,
		At:          s.clock(),
		Type:        ledger.ActivityPromiseFollowUp,
		Result:      ledger.ResultCompleted,
		Method:      "INTERNAL",
		Notes:       activityNotes,
		PerformedBy: performedBy,
		AssignedTo:  performedBy,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
