package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arcollect/arcollect/internal/shared"
)

// Service handles ledger business logic. It is the single gateway the
// scoring, workflow and promise components use to read and mutate
// customers, invoices, payments and activities.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// RegisterCustomer creates a customer record.
func (s *Service) RegisterCustomer(ctx context.Context, input CreateCustomerInput) (*Customer, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("customer name required: %w", shared.ErrValidation)
	}
	if input.CreditLimit < 0 {
		return nil, fmt.Errorf("credit limit must not be negative: %w", shared.ErrValidation)
	}
	if input.ReliabilityScore < 0 || input.ReliabilityScore > 100 {
		return nil, fmt.Errorf("reliability score must be within [0,100]: %w", shared.ErrValidation)
	}
	if input.Type == "" {
		input.Type = CustomerRegular
	}
	if input.PaymentTermsDays <= 0 {
		input.PaymentTermsDays = 30
	}
	return s.repo.CreateCustomer(ctx, input)
}

// RegisterInvoice creates an open invoice.
func (s *Service) RegisterInvoice(ctx context.Context, input CreateInvoiceInput) (*Invoice, error) {
	if input.CustomerID == 0 {
		return nil, fmt.Errorf("customer ID required: %w", shared.ErrValidation)
	}
	if input.Number == "" {
		return nil, fmt.Errorf("invoice number required: %w", shared.ErrValidation)
	}
	if input.Amount <= 0 {
		return nil, fmt.Errorf("invoice amount must be positive: %w", shared.ErrValidation)
	}
	if input.DueAt.Before(input.IssuedAt) {
		return nil, fmt.Errorf("due date before issue date: %w", shared.ErrValidation)
	}
	if _, err := s.repo.GetCustomer(ctx, input.CustomerID); err != nil {
		return nil, err
	}
	return s.repo.CreateInvoice(ctx, input)
}

// RecordPayment applies a payment against an invoice, reducing its
// outstanding amount and flipping its status when settled.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (*Payment, error) {
	if input.InvoiceID == 0 {
		return nil, fmt.Errorf("invoice ID required: %w", shared.ErrValidation)
	}
	if input.Amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive: %w", shared.ErrValidation)
	}
	if input.PaidAt.IsZero() {
		input.PaidAt = time.Now().UTC()
	}
	return s.repo.ApplyPayment(ctx, input)
}

// GetCustomer returns one customer.
func (s *Service) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// GetInvoice returns one invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// OpenInvoices lists unsettled invoices matching the filter.
func (s *Service) OpenInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	return s.repo.ListOpenInvoices(ctx, filter)
}

// OutstandingBalance sums a customer's unsettled invoice amounts.
func (s *Service) OutstandingBalance(ctx context.Context, customerID int64) (float64, error) {
	return s.repo.OutstandingBalance(ctx, customerID)
}

// RecentActivities lists a customer's collection activities inside the window.
func (s *Service) RecentActivities(ctx context.Context, customerID int64, window time.Duration) ([]Activity, error) {
	since := time.Now().UTC().Add(-window)
	return s.repo.ListRecentActivities(ctx, customerID, since)
}

// PaymentsApplied sums payments against an invoice inside [from, to].
func (s *Service) PaymentsApplied(ctx context.Context, invoiceID int64, from, to time.Time) (float64, error) {
	return s.repo.PaymentsApplied(ctx, invoiceID, from, to)
}

// AppendActivity writes an audit record, stamping the time when unset.
func (s *Service) AppendActivity(ctx context.Context, activity Activity) (int64, error) {
	if activity.CustomerID == 0 {
		return 0, fmt.Errorf("activity customer ID required: %w", shared.ErrValidation)
	}
	if activity.Type == "" || activity.Result == "" {
		return 0, fmt.Errorf("activity type and result required: %w", shared.ErrValidation)
	}
	if activity.At.IsZero() {
		activity.At = time.Now().UTC()
	}
	return s.repo.AppendActivity(ctx, activity)
}

// SetCreditHold flips the customer's credit hold flag.
func (s *Service) SetCreditHold(ctx context.Context, customerID int64, hold bool) error {
	return s.repo.SetCreditHold(ctx, customerID, hold)
}

// SetCollectionPriority persists the batch-computed priority segment.
func (s *Service) SetCollectionPriority(ctx context.Context, customerID int64, priority string) error {
	return s.repo.SetCollectionPriority(ctx, customerID, priority)
}

// CustomerIDsWithBalance lists customers carrying outstanding invoices.
func (s *Service) CustomerIDsWithBalance(ctx context.Context) ([]int64, error) {
	return s.repo.ListCustomerIDsWithBalance(ctx)
}

// AgingReport groups outstanding balances by aging bucket as of a date.
func (s *Service) AgingReport(ctx context.Context, asOf time.Time) (*AgingReport, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	invoices, err := s.repo.ListOpenInvoices(ctx, InvoiceFilter{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	report := &AgingReport{
		AsOf:    asOf,
		Buckets: make(map[AgingBucket]AgingLine),
	}
	for _, inv := range invoices {
		bucket := inv.BucketOf(asOf)
		line := report.Buckets[bucket]
		line.InvoiceCount++
		line.Outstanding += inv.Outstanding
		report.Buckets[bucket] = line
		report.Total += inv.Outstanding
	}
	return report, nil
}

// IsNotFound reports whether the error chain contains a not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
