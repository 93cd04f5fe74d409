package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcollect/arcollect/internal/shared"
)

var ledgerNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type memoryLedgerRepo struct {
	mu         sync.Mutex
	customers  map[int64]*Customer
	invoices   map[int64]*Invoice
	payments   []Payment
	activities []Activity
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		customers: make(map[int64]*Customer),
		invoices:  make(map[int64]*Invoice),
	}
}

func (m *memoryLedgerRepo) CreateCustomer(_ context.Context, input CreateCustomerInput) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &Customer{
		ID:               int64(len(m.customers) + 1),
		Name:             input.Name,
		Company:          input.Company,
		Type:             input.Type,
		CreditLimit:      input.CreditLimit,
		PaymentTermsDays: input.PaymentTermsDays,
		ReliabilityScore: input.ReliabilityScore,
		CustomerSince:    input.CustomerSince,
	}
	m.customers[c.ID] = c
	return c, nil
}

func (m *memoryLedgerRepo) GetCustomer(_ context.Context, id int64) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %d: %w", id, shared.ErrNotFound)
	}
	clone := *c
	return &clone, nil
}

func (m *memoryLedgerRepo) SetCreditHold(_ context.Context, customerID int64, hold bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[customerID]
	if !ok {
		return fmt.Errorf("customer %d: %w", customerID, shared.ErrNotFound)
	}
	c.CreditHold = hold
	return nil
}

func (m *memoryLedgerRepo) SetCollectionPriority(_ context.Context, customerID int64, priority string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[customerID]
	if !ok {
		return fmt.Errorf("customer %d: %w", customerID, shared.ErrNotFound)
	}
	c.Priority = priority
	return nil
}

func (m *memoryLedgerRepo) ListCustomerIDsWithBalance(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, inv := range m.invoices {
		if inv.Outstanding > 0 && !seen[inv.CustomerID] {
			seen[inv.CustomerID] = true
			ids = append(ids, inv.CustomerID)
		}
	}
	return ids, nil
}

func (m *memoryLedgerRepo) CreateInvoice(_ context.Context, input CreateInvoiceInput) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := &Invoice{
		ID:          int64(len(m.invoices) + 1),
		Number:      input.Number,
		CustomerID:  input.CustomerID,
		Amount:      input.Amount,
		Outstanding: input.Amount,
		IssuedAt:    input.IssuedAt,
		DueAt:       input.DueAt,
		Status:      InvoiceOpen,
	}
	m.invoices[inv.ID] = inv
	return inv, nil
}

func (m *memoryLedgerRepo) GetInvoice(_ context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
	}
	clone := *inv
	return &clone, nil
}

func (m *memoryLedgerRepo) ListOpenInvoices(_ context.Context, filter InvoiceFilter) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	asOf := filter.AsOf
	if asOf.IsZero() {
		asOf = ledgerNow
	}
	var out []Invoice
	for _, inv := range m.invoices {
		if inv.Outstanding <= 0 {
			continue
		}
		if filter.CustomerID != 0 && inv.CustomerID != filter.CustomerID {
			continue
		}
		if filter.MinAmount > 0 && inv.Outstanding < filter.MinAmount {
			continue
		}
		if filter.MinDaysPast > 0 && inv.DaysPastDueOf(asOf) < filter.MinDaysPast {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (m *memoryLedgerRepo) OutstandingBalance(_ context.Context, customerID int64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, inv := range m.invoices {
		if inv.CustomerID == customerID {
			total += inv.Outstanding
		}
	}
	return total, nil
}

func (m *memoryLedgerRepo) ApplyPayment(_ context.Context, input RecordPaymentInput) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[input.InvoiceID]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", input.InvoiceID, shared.ErrNotFound)
	}
	if inv.Outstanding <= 0 {
		return nil, ErrSettled
	}
	inv.Outstanding -= input.Amount
	if inv.Outstanding <= 0 {
		inv.Outstanding = 0
		inv.Status = InvoicePaid
	} else {
		inv.Status = InvoicePartial
	}
	payment := Payment{
		ID:         int64(len(m.payments) + 1),
		CustomerID: inv.CustomerID,
		InvoiceID:  inv.ID,
		Amount:     input.Amount,
		PaidAt:     input.PaidAt,
		Method:     input.Method,
		Reference:  input.Reference,
	}
	m.payments = append(m.payments, payment)
	return &payment, nil
}

func (m *memoryLedgerRepo) PaymentsApplied(_ context.Context, invoiceID int64, from, to time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID && !p.PaidAt.Before(from) && !p.PaidAt.After(to) {
			total += p.Amount
		}
	}
	return total, nil
}

func (m *memoryLedgerRepo) AppendActivity(_ context.Context, activity Activity) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	activity.ID = int64(len(m.activities) + 1)
	m.activities = append(m.activities, activity)
	return activity.ID, nil
}

func (m *memoryLedgerRepo) ListRecentActivities(_ context.Context, customerID int64, since time.Time) ([]Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Activity
	for _, a := range m.activities {
		if a.CustomerID == customerID && !a.At.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *memoryLedgerRepo) {
	t.Helper()
	repo := newMemoryLedgerRepo()
	return NewService(repo), repo
}

func addTestCustomer(t *testing.T, svc *Service) *Customer {
	t.Helper()
	c, err := svc.RegisterCustomer(context.Background(), CreateCustomerInput{
		Name:             "Acme Corp",
		Type:             CustomerRegular,
		CreditLimit:      50000,
		PaymentTermsDays: 30,
		ReliabilityScore: 70,
	})
	require.NoError(t, err)
	return c
}

func TestDaysPastDue(t *testing.T) {
	due := ledgerNow

	require.Equal(t, 0, DaysPastDue(due, due))
	require.Equal(t, 0, DaysPastDue(due, due.AddDate(0, 0, -5)))
	require.Equal(t, 1, DaysPastDue(due, due.AddDate(0, 0, 1)))
	require.Equal(t, 45, DaysPastDue(due, due.AddDate(0, 0, 45)))
}

func TestBucketFor(t *testing.T) {
	cases := []struct {
		days int
		want AgingBucket
	}{
		{0, BucketCurrent},
		{1, Bucket1To30},
		{30, Bucket1To30},
		{31, Bucket31To60},
		{60, Bucket31To60},
		{61, Bucket61To90},
		{90, Bucket61To90},
		{91, Bucket91To120},
		{120, Bucket91To120},
		{121, Bucket120Plus},
		{400, Bucket120Plus},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, BucketFor(tc.days), "days=%d", tc.days)
	}
}

func TestRegisterCustomerValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterCustomer(ctx, CreateCustomerInput{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RegisterCustomer(ctx, CreateCustomerInput{Name: "X", CreditLimit: -1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RegisterCustomer(ctx, CreateCustomerInput{Name: "X", ReliabilityScore: 101})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRegisterCustomerDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	c, err := svc.RegisterCustomer(context.Background(), CreateCustomerInput{Name: "Fresh Co"})
	require.NoError(t, err)
	require.Equal(t, CustomerRegular, c.Type)
	require.Equal(t, 30, c.PaymentTermsDays)
}

func TestRegisterInvoiceValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customer := addTestCustomer(t, svc)

	_, err := svc.RegisterInvoice(ctx, CreateInvoiceInput{
		Number: "INV-1", Amount: 100, IssuedAt: ledgerNow, DueAt: ledgerNow.AddDate(0, 0, 30),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RegisterInvoice(ctx, CreateInvoiceInput{
		CustomerID: customer.ID, Amount: 100, IssuedAt: ledgerNow, DueAt: ledgerNow.AddDate(0, 0, 30),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RegisterInvoice(ctx, CreateInvoiceInput{
		CustomerID: customer.ID, Number: "INV-1", Amount: 0, IssuedAt: ledgerNow, DueAt: ledgerNow.AddDate(0, 0, 30),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RegisterInvoice(ctx, CreateInvoiceInput{
		CustomerID: customer.ID, Number: "INV-1", Amount: 100, IssuedAt: ledgerNow, DueAt: ledgerNow.AddDate(0, 0, -1),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RegisterInvoice(ctx, CreateInvoiceInput{
		CustomerID: 999, Number: "INV-1", Amount: 100, IssuedAt: ledgerNow, DueAt: ledgerNow.AddDate(0, 0, 30),
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordPaymentSettlesInvoice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customer := addTestCustomer(t, svc)

	inv, err := svc.RegisterInvoice(ctx, CreateInvoiceInput{
		CustomerID: customer.ID,
		Number:     "INV-100",
		Amount:     1000,
		IssuedAt:   ledgerNow.AddDate(0, 0, -30),
		DueAt:      ledgerNow,
	})
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: 400, PaidAt: ledgerNow})
	require.NoError(t, err)

	partial, err := svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoicePartial, partial.Status)
	require.InDelta(t, 600.0, partial.Outstanding, 0.001)

	_, err = svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: 600, PaidAt: ledgerNow})
	require.NoError(t, err)

	paid, err := svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoicePaid, paid.Status)
	require.Zero(t, paid.Outstanding)

	_, err = svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: 1, PaidAt: ledgerNow})
	require.ErrorIs(t, err, ErrSettled)
}

func TestRecordPaymentValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, RecordPaymentInput{Amount: 100})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: 1, Amount: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPaymentsAppliedWindow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customer := addTestCustomer(t, svc)

	inv, err := svc.RegisterInvoice(ctx, CreateInvoiceInput{
		CustomerID: customer.ID,
		Number:     "INV-200",
		Amount:     900,
		IssuedAt:   ledgerNow.AddDate(0, 0, -60),
		DueAt:      ledgerNow.AddDate(0, 0, -30),
	})
	require.NoError(t, err)

	for i, at := range []time.Time{
		ledgerNow.AddDate(0, 0, -20),
		ledgerNow.AddDate(0, 0, -10),
		ledgerNow.AddDate(0, 0, -1),
	} {
		_, err = svc.RecordPayment(ctx, RecordPaymentInput{
			InvoiceID: inv.ID,
			Amount:    100 * float64(i+1),
			PaidAt:    at,
		})
		require.NoError(t, err)
	}

	total, err := svc.PaymentsApplied(ctx, inv.ID, ledgerNow.AddDate(0, 0, -15), ledgerNow)
	require.NoError(t, err)
	require.InDelta(t, 500.0, total, 0.001)
}

func TestAgingReportBucketsOutstanding(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customer := addTestCustomer(t, svc)

	invoices := []struct {
		number  string
		amount  float64
		dueDays int
	}{
		{"INV-A", 1000, 10},   // not yet due
		{"INV-B", 2000, -15},  // 1-30
		{"INV-C", 3000, -45},  // 31-60
		{"INV-D", 4000, -100}, // 91-120
		{"INV-E", 5000, -200}, // 120+
	}
	for _, in := range invoices {
		_, err := svc.RegisterInvoice(ctx, CreateInvoiceInput{
			CustomerID: customer.ID,
			Number:     in.number,
			Amount:     in.amount,
			IssuedAt:   ledgerNow.AddDate(0, 0, in.dueDays-30),
			DueAt:      ledgerNow.AddDate(0, 0, in.dueDays),
		})
		require.NoError(t, err)
	}

	report, err := svc.AgingReport(ctx, ledgerNow)
	require.NoError(t, err)
	require.InDelta(t, 15000.0, report.Total, 0.001)
	require.Equal(t, 1, report.Buckets[BucketCurrent].InvoiceCount)
	require.InDelta(t, 2000.0, report.Buckets[Bucket1To30].Outstanding, 0.001)
	require.InDelta(t, 3000.0, report.Buckets[Bucket31To60].Outstanding, 0.001)
	require.InDelta(t, 4000.0, report.Buckets[Bucket91To120].Outstanding, 0.001)
	require.InDelta(t, 5000.0, report.Buckets[Bucket120Plus].Outstanding, 0.001)
	require.NotContains(t, report.Buckets, Bucket61To90)
}

func TestAppendActivityStampsTime(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	customer := addTestCustomer(t, svc)

	_, err := svc.AppendActivity(ctx, Activity{CustomerID: customer.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	id, err := svc.AppendActivity(ctx, Activity{
		CustomerID: customer.ID,
		Type:       ActivityPhoneCall,
		Result:     ResultNoAnswer,
	})
	require.NoError(t, err)
	require.NotZero(t, id)
	require.False(t, repo.activities[0].At.IsZero())
}
