package scoring

import (
	"context"
	"time"

	"github.com/arcollect/arcollect/internal/ledger"
)

// RepositoryPort defines the ledger reads the scorer needs, plus persistence
// of the derived priority segment.
type RepositoryPort interface {
	GetCustomer(ctx context.Context, id int64) (*ledger.Customer, error)
	OutstandingInvoices(ctx context.Context, customerID int64) ([]ledger.Invoice, error)
	RecentActivities(ctx context.Context, customerID int64, since time.Time) ([]ledger.Activity, error)
	PromiseStats(ctx context.Context, customerID int64, since time.Time) (PromiseStats, error)
	CustomerIDsWithBalance(ctx context.Context) ([]int64, error)
	SetPriority(ctx context.Context, customerID int64, priority string) error
}
