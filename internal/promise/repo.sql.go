package promise

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcollect/arcollect/internal/platform/db"
	"github.com/arcollect/arcollect/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const promiseColumns = `id, customer_id, COALESCE(invoice_id, 0), promised_amount, made_at, due_at,
status, follow_up_at, follow_up_done, escalation_required, actual_amount, actual_paid_at,
contact_person, contact_method, notes, created_by, created_at, updated_at`

func scanPromise(row pgx.Row) (*Promise, error) {
	var p Promise
	err := row.Scan(&p.ID, &p.CustomerID, &p.InvoiceID, &p.PromisedAmount, &p.MadeAt, &p.DueAt,
		&p.Status, &p.FollowUpAt, &p.FollowUpDone, &p.EscalationRequired, &p.ActualAmount, &p.ActualPaidAt,
		&p.ContactPerson, &p.ContactMethod, &p.Notes, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("promise: %w", shared.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// Create inserts an ACTIVE promise.
func (r *Repository) Create(ctx context.Context, p *Promise) error {
	return r.pool.QueryRow(ctx, `INSERT INTO payment_promises
(customer_id, invoice_id, promised_amount, made_at, due_at, status, follow_up_at,
 contact_person, contact_method, notes, created_by)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, created_at, updated_at`,
		p.CustomerID, p.InvoiceID, p.PromisedAmount, p.MadeAt, p.DueAt, p.Status,
		p.FollowUpAt, p.ContactPerson, p.ContactMethod, p.Notes, p.CreatedBy).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// Get fetches one promise.
func (r *Repository) Get(ctx context.Context, id int64) (*Promise, error) {
	return scanPromise(r.pool.QueryRow(ctx,
		`SELECT `+promiseColumns+` FROM payment_promises WHERE id = $1`, id))
}

// ListOverdueActive returns ACTIVE promises due before the cutoff, oldest first.
func (r *Repository) ListOverdueActive(ctx context.Context, cutoff time.Time) ([]Promise, error) {
	return r.list(ctx, `SELECT `+promiseColumns+` FROM payment_promises
WHERE status = 'ACTIVE' AND due_at < $1 ORDER BY due_at`, cutoff)
}

// ApplyStatusChange persists a transition inside a transaction. The row lock
// plus the terminal check make concurrent reconcilers and manual updates
// serialize: the second writer sees the terminal status and is rejected.
func (r *Repository) ApplyStatusChange(ctx context.Context, change StatusChange) (*Promise, error) {
	var updated *Promise
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := scanPromise(tx.QueryRow(ctx,
			`SELECT `+promiseColumns+` FROM payment_promises WHERE id = $1 FOR UPDATE`, change.PromiseID))
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return fmt.Errorf("promise %d is %s: %w", current.ID, current.Status, shared.ErrTerminalState)
		}
		updated, err = scanPromise(tx.QueryRow(ctx, `UPDATE payment_promises
SET status = $1, actual_amount = $2, actual_paid_at = $3, escalation_required = $4,
    follow_up_done = follow_up_done OR $5,
    notes = CASE WHEN $6 = '' THEN notes
                 WHEN notes = '' THEN $6
                 ELSE notes || '; ' || $6 END,
    updated_at = NOW()
WHERE id = $7
RETURNING `+promiseColumns,
			change.Status, change.ActualAmount, change.ActualPaidAt, change.EscalationRequired,
			change.FollowUpDone, change.Notes, change.PromiseID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CountBrokenSince counts a customer's broken promises made since the given time.
func (r *Repository) CountBrokenSince(ctx context.Context, customerID int64, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payment_promises
WHERE customer_id = $1 AND status = 'BROKEN' AND made_at >= $2`, customerID, since).Scan(&count)
	return count, err
}

// CountOutcomesSince returns kept and resolved counts across the whole book.
func (r *Repository) CountOutcomesSince(ctx context.Context, since time.Time) (int, int, error) {
	var kept, resolved int
	err := r.pool.QueryRow(ctx, `SELECT
COUNT(*) FILTER (WHERE status = 'KEPT'),
COUNT(*) FILTER (WHERE status IN ('KEPT', 'PARTIALLY_KEPT', 'BROKEN'))
FROM payment_promises WHERE made_at >= $1`, since).Scan(&kept, &resolved)
	return kept, resolved, err
}

// ListByCustomer returns a customer's promises made since the given time, newest first.
func (r *Repository) ListByCustomer(ctx context.Context, customerID int64, since time.Time) ([]Promise, error) {
	return r.list(ctx, `SELECT `+promiseColumns+` FROM payment_promises
WHERE customer_id = $1 AND made_at >= $2 ORDER BY made_at DESC`, customerID, since)
}

// ListPendingFollowUps returns ACTIVE promises needing a follow-up inside the
// horizon, most urgent first.
func (r *Repository) ListPendingFollowUps(ctx context.Context, horizon time.Time) ([]Promise, error) {
	return r.list(ctx, `SELECT `+promiseColumns+` FROM payment_promises
WHERE status = 'ACTIVE' AND NOT follow_up_done
AND (follow_up_at <= $1 OR due_at <= $1)
ORDER BY due_at, promised_amount DESC`, horizon)
}

// MarkFollowUpDone flags the follow-up completed and appends the note.
func (r *Repository) MarkFollowUpDone(ctx context.Context, id int64, notes string) (*Promise, error) {
	p, err := scanPromise(r.pool.QueryRow(ctx, `UPDATE payment_promises
SET follow_up_done = TRUE,
    notes = CASE WHEN $1 = '' THEN notes
                 WHEN notes = '' THEN $1
                 ELSE notes || '; ' || $1 END,
    updated_at = NOW()
WHERE id = $2
RETURNING `+promiseColumns, notes, id))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Promise, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var promises []Promise
	for rows.Next() {
		p, err := scanPromise(rows)
		if err != nil {
			return nil, err
		}
		promises = append(promises, *p)
	}
	return promises, rows.Err()
}
