package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcollect/arcollect/internal/ledger"
	"github.com/arcollect/arcollect/internal/shared"
)

// memoryWorkflowRepo mirrors the SQL repository's concurrency contract: the
// partial-unique dedup on instance creation and the current_step
// compare-and-set on advancement.
type memoryWorkflowRepo struct {
	mu        sync.Mutex
	defs      map[int64]*Definition
	nextDefID int64
	instances map[string]*Instance
	log       map[string][]ExecutionLogEntry
	dueTwice  bool
}

func newMemoryWorkflowRepo() *memoryWorkflowRepo {
	return &memoryWorkflowRepo{
		defs:      make(map[int64]*Definition),
		instances: make(map[string]*Instance),
		log:       make(map[string][]ExecutionLogEntry),
	}
}

func (r *memoryWorkflowRepo) CreateDefinition(ctx context.Context, def *Definition) (*Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.defs {
		if existing.Name == def.Name {
			return nil, fmt.Errorf("workflow: definition %q: %w", def.Name, shared.ErrDuplicate)
		}
	}
	r.nextDefID++
	def.ID = r.nextDefID
	def.CreatedAt = time.Now()
	for i := range def.Steps {
		def.Steps[i].ID = int64(i + 1)
		def.Steps[i].DefinitionID = def.ID
	}
	r.defs[def.ID] = def
	return def, nil
}

func (r *memoryWorkflowRepo) GetDefinition(ctx context.Context, id int64) (*Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return def, nil
}

func (r *memoryWorkflowRepo) ListDefinitions(ctx context.Context, activeOnly bool) ([]Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Definition
	for id := int64(1); id <= r.nextDefID; id++ {
		def, ok := r.defs[id]
		if !ok || (activeOnly && !def.Active) {
			continue
		}
		out = append(out, *def)
	}
	return out, nil
}

func (r *memoryWorkflowRepo) SetDefinitionActive(ctx context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[id]
	if !ok {
		return shared.ErrNotFound
	}
	def.Active = active
	return nil
}

func (r *memoryWorkflowRepo) CountActiveDefinitions(ctx context.Context) (int, error) {
	defs, _ := r.ListDefinitions(ctx, true)
	return len(defs), nil
}

func (r *memoryWorkflowRepo) CreateInstance(ctx context.Context, inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.instances {
		if existing.DefinitionID == inst.DefinitionID && existing.InvoiceID == inst.InvoiceID &&
			!existing.Status.IsTerminal() {
			return fmt.Errorf("workflow: instance exists: %w", shared.ErrDuplicate)
		}
	}
	clone := *inst
	r.instances[inst.ID] = &clone
	return nil
}

func (r *memoryWorkflowRepo) GetInstance(ctx context.Context, id string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *inst
	return &clone, nil
}

func (r *memoryWorkflowRepo) ListDueInstances(ctx context.Context, now time.Time) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Instance
	for _, inst := range r.instances {
		if (inst.Status == StatusPending || inst.Status == StatusActive) && !inst.ScheduledFor.After(now) {
			due = append(due, *inst)
			if r.dueTwice {
				due = append(due, *inst)
			}
		}
	}
	return due, nil
}

func (r *memoryWorkflowRepo) ListUpcoming(ctx context.Context, limit int) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Instance
	for _, inst := range r.instances {
		if inst.Status == StatusPending || inst.Status == StatusActive {
			out = append(out, *inst)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryWorkflowRepo) CountInstancesByStatus(ctx context.Context) (map[InstanceStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[InstanceStatus]int)
	for _, inst := range r.instances {
		counts[inst.Status]++
	}
	return counts, nil
}

func (r *memoryWorkflowRepo) AdvanceInstance(ctx context.Context, input AdvanceInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[input.InstanceID]
	if !ok {
		return shared.ErrNotFound
	}
	if inst.CurrentStep != input.FromStep || inst.Status.IsTerminal() {
		return fmt.Errorf("workflow: instance %s: %w", input.InstanceID, shared.ErrStaleInstance)
	}
	inst.CurrentStep++
	inst.Status = input.Status
	inst.ScheduledFor = input.ScheduledFor
	at := input.ActionAt
	inst.LastActionAt = &at
	if input.Status == StatusCompleted {
		inst.CompletedAt = &at
	}
	r.log[input.InstanceID] = append(r.log[input.InstanceID], input.Entry)
	return nil
}

func (r *memoryWorkflowRepo) FailInstance(ctx context.Context, input FailInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[input.InstanceID]
	if !ok {
		return shared.ErrNotFound
	}
	if inst.CurrentStep != input.FromStep || inst.Status.IsTerminal() {
		return fmt.Errorf("workflow: instance %s: %w", input.InstanceID, shared.ErrStaleInstance)
	}
	inst.Status = StatusFailed
	inst.FailureReason = input.Reason
	inst.RetryCount++
	r.log[input.InstanceID] = append(r.log[input.InstanceID], input.Entry)
	return nil
}

func (r *memoryWorkflowRepo) CancelInstance(ctx context.Context, id, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return shared.ErrNotFound
	}
	if inst.Status.IsTerminal() {
		return fmt.Errorf("workflow: instance %s is %s: %w", id, inst.Status, shared.ErrTerminalState)
	}
	inst.Status = StatusCancelled
	inst.FailureReason = reason
	inst.CompletedAt = &at
	r.log[id] = append(r.log[id], ExecutionLogEntry{
		InstanceID: id, StepOrder: inst.CurrentStep, ExecutedAt: at,
		Status: LogCancelled, Result: reason,
	})
	return nil
}

func (r *memoryWorkflowRepo) ListExecutionLog(ctx context.Context, instanceID string) ([]ExecutionLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log[instanceID], nil
}

// memoryLedgerRepo is a minimal in-memory ledger for engine tests.
type memoryLedgerRepo struct {
	mu         sync.Mutex
	customers  map[int64]*ledger.Customer
	invoices   map[int64]*ledger.Invoice
	activities []ledger.Activity
	nextActID  int64
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		customers: make(map[int64]*ledger.Customer),
		invoices:  make(map[int64]*ledger.Invoice),
	}
}

func (r *memoryLedgerRepo) CreateCustomer(ctx context.Context, input ledger.CreateCustomerInput) (*ledger.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &ledger.Customer{
		ID: int64(len(r.customers) + 1), Name: input.Name, Type: input.Type,
		CreditLimit: input.CreditLimit, PaymentTermsDays: input.PaymentTermsDays,
	}
	r.customers[c.ID] = c
	return c, nil
}

func (r *memoryLedgerRepo) GetCustomer(ctx context.Context, id int64) (*ledger.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return c, nil
}

func (r *memoryLedgerRepo) SetCreditHold(ctx context.Context, customerID int64, hold bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[customerID]
	if !ok {
		return shared.ErrNotFound
	}
	c.CreditHold = hold
	return nil
}

func (r *memoryLedgerRepo) SetCollectionPriority(ctx context.Context, customerID int64, priority string) error {
	return nil
}

func (r *memoryLedgerRepo) ListCustomerIDsWithBalance(ctx context.Context) ([]int64, error) {
	return nil, nil
}

func (r *memoryLedgerRepo) CreateInvoice(ctx context.Context, input ledger.CreateInvoiceInput) (*ledger.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv := &ledger.Invoice{
		ID: int64(len(r.invoices) + 1), Number: input.Number, CustomerID: input.CustomerID,
		Amount: input.Amount, Outstanding: input.Amount,
		IssuedAt: input.IssuedAt, DueAt: input.DueAt, Status: ledger.InvoiceOpen,
	}
	r.invoices[inv.ID] = inv
	return inv, nil
}

func (r *memoryLedgerRepo) GetInvoice(ctx context.Context, id int64) (*ledger.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *inv
	return &clone, nil
}

func (r *memoryLedgerRepo) ListOpenInvoices(ctx context.Context, filter ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	asOf := filter.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	var out []ledger.Invoice
	for id := int64(1); id <= int64(len(r.invoices)); id++ {
		inv, ok := r.invoices[id]
		if !ok || inv.Outstanding <= 0 || inv.Outstanding < filter.MinAmount {
			continue
		}
		if filter.MinDaysPast > 0 && inv.DaysPastDueOf(asOf) < filter.MinDaysPast {
			continue
		}
		if filter.CustomerID != 0 && inv.CustomerID != filter.CustomerID {
			continue
		}
		if filter.CustomerType != "" {
			c, ok := r.customers[inv.CustomerID]
			if !ok || c.Type != filter.CustomerType {
				continue
			}
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (r *memoryLedgerRepo) OutstandingBalance(ctx context.Context, customerID int64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total float64
	for _, inv := range r.invoices {
		if inv.CustomerID == customerID {
			total += inv.Outstanding
		}
	}
	return total, nil
}

func (r *memoryLedgerRepo) ApplyPayment(ctx context.Context, input ledger.RecordPaymentInput) (*ledger.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[input.InvoiceID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	inv.Outstanding -= input.Amount
	if inv.Outstanding <= 0 {
		inv.Outstanding = 0
		inv.Status = ledger.InvoicePaid
	} else {
		inv.Status = ledger.InvoicePartial
	}
	return &ledger.Payment{InvoiceID: inv.ID, CustomerID: inv.CustomerID, Amount: input.Amount, PaidAt: input.PaidAt}, nil
}

func (r *memoryLedgerRepo) PaymentsApplied(ctx context.Context, invoiceID int64, from, to time.Time) (float64, error) {
	return 0, nil
}

func (r *memoryLedgerRepo) AppendActivity(ctx context.Context, activity ledger.Activity) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextActID++
	activity.ID = r.nextActID
	r.activities = append(r.activities, activity)
	return activity.ID, nil
}

func (r *memoryLedgerRepo) ListRecentActivities(ctx context.Context, customerID int64, since time.Time) ([]ledger.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ledger.Activity
	for _, a := range r.activities {
		if a.CustomerID == customerID {
			out = append(out, a)
		}
	}
	return out, nil
}

type planRecorder struct {
	mu    sync.Mutex
	plans []float64
	fail  bool
}

func (p *planRecorder) CreatePlan(ctx context.Context, customerID, invoiceID int64, amount float64, due time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return fmt.Errorf("promise backend unavailable")
	}
	p.plans = append(p.plans, amount)
	return nil
}

var engineNow = time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

type engineFixture struct {
	engine   *Engine
	repo     *memoryWorkflowRepo
	ledger   *memoryLedgerRepo
	promises *planRecorder
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	repo := newMemoryWorkflowRepo()
	ledgerRepo := newMemoryLedgerRepo()
	promises := &planRecorder{}
	engine := NewEngine(repo, ledger.NewService(ledgerRepo), promises, slog.Default())
	engine.clock = func() time.Time { return engineNow }
	return &engineFixture{engine: engine, repo: repo, ledger: ledgerRepo, promises: promises}
}

func (f *engineFixture) addCustomer(id int64, typ ledger.CustomerType) {
	f.ledger.customers[id] = &ledger.Customer{
		ID: id, Name: fmt.Sprintf("Customer %d", id), Type: typ,
		CreditLimit: 50000, PaymentTermsDays: 30,
	}
}

func (f *engineFixture) addInvoice(id, customerID int64, amount float64, daysPast int) {
	f.ledger.invoices[id] = &ledger.Invoice{
		ID: id, Number: fmt.Sprintf("INV-%d", id), CustomerID: customerID,
		Amount: amount, Outstanding: amount,
		IssuedAt: engineNow.AddDate(0, 0, -daysPast-30),
		DueAt:    engineNow.AddDate(0, 0, -daysPast),
		Status:   ledger.InvoiceOpen,
	}
}

func singleStepDefinition(t *testing.T, f *engineFixture, action ActionType, minDays int, minAmount float64) *Definition {
	t.Helper()
	def, err := f.engine.CreateDefinition(context.Background(), CreateDefinitionInput{
		Name:    fmt.Sprintf("Test %s", action),
		Trigger: Trigger{MinDaysPastDue: minDays, MinAmount: minAmount},
		Steps:   []StepInput{{Action: action}},
	})
	require.NoError(t, err)
	return def
}

func TestCreateDefinitionValidation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateDefinition(ctx, CreateDefinitionInput{Name: "No Steps"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.engine.CreateDefinition(ctx, CreateDefinitionInput{
		Name:  "Bad Action Ladder",
		Steps: []StepInput{{Action: "CARRIER_PIGEON"}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.engine.CreateDefinition(ctx, CreateDefinitionInput{
		Name:    "Negative Trigger",
		Trigger: Trigger{MinDaysPastDue: -1},
		Steps:   []StepInput{{Action: ActionEmailReminder}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSeedDefaultDefinitionsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	seeded, err := f.engine.SeedDefaultDefinitions(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, seeded)

	again, err := f.engine.SeedDefaultDefinitions(ctx)
	require.NoError(t, err)
	require.Zero(t, again)

	defs, err := f.engine.ListDefinitions(ctx, true)
	require.NoError(t, err)
	require.Len(t, defs, 4)
}

func TestScanTriggersMatchesAndDeduplicates(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	singleStepDefinition(t, f, ActionEmailReminder, 1, 100)

	f.addCustomer(1, ledger.CustomerRegular)
	f.addInvoice(1, 1, 2500, 10) // matches
	f.addInvoice(2, 1, 50, 10)   // below amount threshold
	f.addInvoice(3, 1, 2500, 0)  // not past due

	summary, err := f.engine.ScanTriggers(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Triggered)
	require.Len(t, summary.InstanceIDs, 1)

	// A second scan finds the same invoice but the live instance blocks it.
	summary, err = f.engine.ScanTriggers(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Triggered)
	require.Equal(t, 1, summary.Skipped)
}

func TestScanTriggersCustomerTypeFilter(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	def, err := f.engine.CreateDefinition(ctx, CreateDefinitionInput{
		Name:    "VIP Only",
		Trigger: Trigger{MinDaysPastDue: 1, MinAmount: 100, CustomerType: ledger.CustomerVIP},
		Steps:   []StepInput{{Action: ActionPhoneCall}},
	})
	require.NoError(t, err)
	require.Equal(t, ledger.CustomerVIP, def.Trigger.CustomerType)

	f.addCustomer(1, ledger.CustomerVIP)
	f.addCustomer(2, ledger.CustomerRegular)
	f.addInvoice(1, 1, 2000, 15)
	f.addInvoice(2, 2, 2000, 15)

	summary, err := f.engine.ScanTriggers(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Triggered)
}

func TestExecuteDueCompletesSingleStep(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	singleStepDefinition(t, f, ActionEmailReminder, 1, 100)
	f.addCustomer(1, ledger.CustomerRegular)
	f.addInvoice(1, 1, 2500, 10)

	scan, err := f.engine.ScanTriggers(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, scan.Triggered)

	exec, err := f.engine.ExecuteDue(ctx, engineNow, 2)
	require.NoError(t, err)
	require.Equal(t, 1, exec.Executed)
	require.Equal(t, 1, exec.Completed)

	inst, err := f.repo.GetInstance(ctx, scan.InstanceIDs[0])
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, inst.Status)
	require.Equal(t, 1, inst.CurrentStep)
	require.NotNil(t, inst.CompletedAt)

	log, err := f.repo.ListExecutionLog(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.Equal(t, LogSuccess, log[0].Status)

	// Exactly one activity recorded for the email.
	require.Len(t, f.ledger.activities, 1)
	require.Equal(t, ledger.ActivityEmail, f.ledger.activities[0].Type)
	require.Equal(t, "workflow-engine", f.ledger.activities[0].PerformedBy)
}

func TestExecuteDueAdvancesMultiStepLadder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.engine.CreateDefinition(ctx, CreateDefinitionInput{
		Name:    "Two Touch",
		Trigger: Trigger{MinDaysPastDue: 1, MinAmount: 100},
		Steps: []StepInput{
			{Action: ActionEmailReminder},
			{Action: ActionPhoneCall, DelayDays: 7},
		},
	})
	require.NoError(t, err)
	f.addCustomer(1, ledger.CustomerRegular)
	f.addInvoice(1, 1, 2500, 10)

	scan, err := f.engine.ScanTriggers(ctx)
	require.NoError(t, err)

	exec, err := f.engine.ExecuteDue(ctx, engineNow, 1)
	require.NoError(t, err)
	require.Equal(t, 1, exec.Executed)
	require.Zero(t, exec.Completed)

	inst, err := f.repo.GetInstance(ctx, scan.InstanceIDs[0])
	require.NoError(t, err)
	require.Equal(t, StatusActive, inst.Status)
	require.Equal(t, 1, inst.CurrentStep)
	require.Equal(t, engineNow.AddDate(0, 0, 7), inst.ScheduledFor)

	// Not due again until the delay elapses.
	exec, err = f.engine.ExecuteDue(ctx, engineNow.AddDate(0, 0, 3), 1)
	require.NoError(t, err)
	require.Zero(t, exec.Executed)

	exec, err = f.engine.ExecuteDue(ctx, engineNow.AddDate(0, 0, 7), 1)
	require.NoError(t, err)
	require.Equal(t, 1, exec.Executed)
	require.Equal(t, 1, exec.Completed)

	inst, err = f.repo.GetInstance(ctx, scan.InstanceIDs[0])
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, inst.Status)
	require.Equal(t, 2, inst.CurrentStep)
}

func TestExecuteDueCancelsSettledInvoice(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	singleStepDefinition(t, f, ActionDunningLetter, 1, 100)
	f.addCustomer(1, ledger.CustomerRegular)
	f.addInvoice(1, 1, 2500, 10)

	scan, err := f.engine.ScanTriggers(ctx)
	require.NoError(t, err)

	// Payment lands between scheduling and execution.
	_, err = ledger.NewService(f.ledger).RecordPayment(ctx, ledger.RecordPaymentInput{
		InvoiceID: 1, Amount: 2500, PaidAt: engineNow,
	})
	require.NoError(t, err)

	exec, err := f.engine.ExecuteDue(ctx, engineNow, 1)
	require.NoError(t, err)
	require.Equal(t, 1, exec.Cancelled)
	require.Zero(t, exec.Executed)

	inst, err := f.repo.GetInstance(ctx, scan.InstanceIDs[0])
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, inst.Status)
	// No collection action was taken against the settled invoice.
	require.Empty(t, f.ledger.activities)
}

func TestExecuteDueFailStop(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.promises.fail = true
	singleStepDefinition(t, f, ActionPaymentPlan, 1, 100)
	f.addCustomer(1, ledger.CustomerRegular)
	f.addInvoice(1, 1, 2500, 10)

	scan, err := f.engine.ScanTriggers(ctx)
	require.NoError(t, err)

	exec, err := f.engine.ExecuteDue(ctx, engineNow, 1)
	require.NoError(t, err)
	require.Equal(t, 1, exec.Failed)

	inst, err := f.repo.GetInstance(ctx, scan.InstanceIDs[0])
	require.NoError(t, err)
	require.Equal(t, StatusFailed, inst.Status)
	require.Contains(t, inst.FailureReason, "promise backend unavailable")
	require.Equal(t, 1, inst.RetryCount)

	log, err := f.repo.ListExecutionLog(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.Equal(t, LogFailed, log[0].Status)

	// Failed instances are never picked up again.
	exec, err = f.engine.ExecuteDue(ctx, engineNow.AddDate(0, 0, 30), 1)
	require.NoError(t, err)
	require.Zero(t, exec.Executed+exec.Failed)
}

func TestExecuteDueConcurrentExecutorsSkipStale(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	singleStepDefinition(t, f, ActionEmailReminder, 1, 100)
	f.addCustomer(1, ledger.CustomerRegular)
	f.addInvoice(1, 1, 2500, 10)

	_, err := f.engine.ScanTriggers(ctx)
	require.NoError(t, err)

	// Two executors see the same due instance; the compare-and-set lets
	// exactly one advance it.
	f.repo.dueTwice = true
	exec, err := f.engine.ExecuteDue(ctx, engineNow, 1)
	require.NoError(t, err)
	require.Equal(t, 1, exec.Executed)
	require.Equal(t, 1, exec.Skipped)
	require.Len(t, f.ledger.activities, 2) // both acted, only one advanced
}

func TestCreditHoldActionFlipsCustomer(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	singleStepDefinition(t, f, ActionCreditHold, 1, 100)
	f.addCustomer(1, ledger.CustomerRegular)
	f.addInvoice(1, 1, 2500, 70)

	_, err := f.engine.ScanTriggers(ctx)
	require.NoError(t, err)
	_, err = f.engine.ExecuteDue(ctx, engineNow, 1)
	require.NoError(t, err)

	customer, err := f.ledger.GetCustomer(ctx, 1)
	require.NoError(t, err)
	require.True(t, customer.CreditHold)
	require.Equal(t, ledger.ActivityCreditHold, f.ledger.activities[0].Type)
}

func TestPaymentPlanActionOpensPromise(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	singleStepDefinition(t, f, ActionPaymentPlan, 1, 100)
	f.addCustomer(1, ledger.CustomerRegular)
	f.addInvoice(1, 1, 3200, 40)

	_, err := f.engine.ScanTriggers(ctx)
	require.NoError(t, err)
	_, err = f.engine.ExecuteDue(ctx, engineNow, 1)
	require.NoError(t, err)

	require.Equal(t, []float64{3200}, f.promises.plans)
	require.Equal(t, ledger.ActivityPaymentPlan, f.ledger.activities[0].Type)
}

func TestCancelInstance(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	singleStepDefinition(t, f, ActionEmailReminder, 1, 100)
	f.addCustomer(1, ledger.CustomerRegular)
	f.addInvoice(1, 1, 2500, 10)

	scan, err := f.engine.ScanTriggers(ctx)
	require.NoError(t, err)
	id := scan.InstanceIDs[0]

	require.NoError(t, f.engine.Cancel(ctx, id, "dispute under review"))

	inst, err := f.repo.GetInstance(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, inst.Status)
	require.Equal(t, "dispute under review", inst.FailureReason)

	// Terminal instances reject further transitions.
	err = f.engine.Cancel(ctx, id, "again")
	require.ErrorIs(t, err, shared.ErrTerminalState)
}

func TestInstanceDetailAndSummary(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	singleStepDefinition(t, f, ActionEmailReminder, 1, 100)
	f.addCustomer(1, ledger.CustomerRegular)
	f.addInvoice(1, 1, 2500, 10)

	scan, err := f.engine.ScanTriggers(ctx)
	require.NoError(t, err)
	_, err = f.engine.ExecuteDue(ctx, engineNow, 1)
	require.NoError(t, err)

	detail, err := f.engine.InstanceDetail(ctx, scan.InstanceIDs[0])
	require.NoError(t, err)
	require.Equal(t, "Test EMAIL_REMINDER", detail.DefinitionName)
	require.Len(t, detail.Log, 1)

	summary, err := f.engine.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.ByStatus[StatusCompleted])
	require.Equal(t, 1, summary.ActiveDefinitions)
}
