package scoring

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcollect/arcollect/internal/ledger"
)

// Repository satisfies RepositoryPort by delegating ledger reads to the
// ledger gateway and querying promise aggregates directly.
type Repository struct {
	ledger *ledger.Service
	pool   *pgxpool.Pool
}

// NewRepository builds Repository instance.
func NewRepository(ledgerSvc *ledger.Service, pool *pgxpool.Pool) *Repository {
	return &Repository{ledger: ledgerSvc, pool: pool}
}

func (r *Repository) GetCustomer(ctx context.Context, id int64) (*ledger.Customer, error) {
	return r.ledger.GetCustomer(ctx, id)
}

func (r *Repository) OutstandingInvoices(ctx context.Context, customerID int64) ([]ledger.Invoice, error) {
	return r.ledger.OpenInvoices(ctx, ledger.InvoiceFilter{CustomerID: customerID})
}

func (r *Repository) RecentActivities(ctx context.Context, customerID int64, since time.Time) ([]ledger.Activity, error) {
	return r.ledger.RecentActivities(ctx, customerID, time.Since(since))
}

func (r *Repository) CustomerIDsWithBalance(ctx context.Context) ([]int64, error) {
	return r.ledger.CustomerIDsWithBalance(ctx)
}

func (r *Repository) SetPriority(ctx context.Context, customerID int64, priority string) error {
	return r.ledger.SetCollectionPriority(ctx, customerID, priority)
}

// PromiseStats aggregates promise outcomes recorded since the given time.
func (r *Repository) PromiseStats(ctx context.Context, customerID int64, since time.Time) (PromiseStats, error) {
	var stats PromiseStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'KEPT'),
			COUNT(*) FILTER (WHERE status = 'BROKEN'),
			COUNT(*) FILTER (WHERE status = 'ACTIVE')
		FROM payment_promises
		WHERE customer_id = $1 AND created_at >= $2`,
		customerID, since,
	).Scan(&stats.Total, &stats.Kept, &stats.Broken, &stats.Active)
	if err != nil {
		return PromiseStats{}, err
	}
	return stats, nil
}
