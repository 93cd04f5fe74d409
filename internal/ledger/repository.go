package ledger

import (
	"context"
	"time"
)

// RepositoryPort defines data access methods for the ledger.
type RepositoryPort interface {
	CreateCustomer(ctx context.Context, input CreateCustomerInput) (*Customer, error)
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	SetCreditHold(ctx context.Context, customerID int64, hold bool) error
	SetCollectionPriority(ctx context.Context, customerID int64, priority string) error
	ListCustomerIDsWithBalance(ctx context.Context) ([]int64, error)

	CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*Invoice, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListOpenInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
	OutstandingBalance(ctx context.Context, customerID int64) (float64, error)

	ApplyPayment(ctx context.Context, input RecordPaymentInput) (*Payment, error)
	PaymentsApplied(ctx context.Context, invoiceID int64, from, to time.Time) (float64, error)

	AppendActivity(ctx context.Context, activity Activity) (int64, error)
	ListRecentActivities(ctx context.Context, customerID int64, since time.Time) ([]Activity, error)
}

// CreateCustomerInput for registering customers.
type CreateCustomerInput struct {
	Name             string
	Company          string
	Type             CustomerType
	CreditLimit      float64
	PaymentTermsDays int
	ReliabilityScore float64
	LifetimeSales    float64
	CustomerSince    time.Time
	Email            string
	Phone            string
}

// CreateInvoiceInput for registering invoices.
type CreateInvoiceInput struct {
	Number     string
	CustomerID int64
	Amount     float64
	IssuedAt   time.Time
	DueAt      time.Time
}

// RecordPaymentInput for applying payments against an invoice.
type RecordPaymentInput struct {
	InvoiceID int64
	Amount    float64
	PaidAt    time.Time
	Method    string
	Reference string
}
