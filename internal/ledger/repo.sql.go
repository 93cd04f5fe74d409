package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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

const customerColumns = `id, name, company, customer_type, credit_limit, payment_terms_days,
avg_days_to_pay, reliability_score, lifetime_sales, customer_since, priority,
credit_hold, email, phone, created_at, updated_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.Company, &c.Type, &c.CreditLimit, &c.PaymentTermsDays,
		&c.AvgDaysToPay, &c.ReliabilityScore, &c.LifetimeSales, &c.CustomerSince, &c.Priority,
		&c.CreditHold, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ledger: customer: %w", shared.ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// CreateCustomer inserts a customer.
func (r *Repository) CreateCustomer(ctx context.Context, input CreateCustomerInput) (*Customer, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO customers
(name, company, customer_type, credit_limit, payment_terms_days, reliability_score, lifetime_sales, customer_since, email, phone)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+customerColumns,
		input.Name, input.Company, input.Type, input.CreditLimit, input.PaymentTermsDays,
		input.ReliabilityScore, input.LifetimeSales, input.CustomerSince, input.Email, input.Phone)
	return scanCustomer(row)
}

// GetCustomer fetches one customer.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	return scanCustomer(row)
}

// SetCreditHold flips the customer's credit hold flag.
func (r *Repository) SetCreditHold(ctx context.Context, customerID int64, hold bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE customers SET credit_hold = $1, updated_at = NOW() WHERE id = $2`, hold, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: customer %d: %w", customerID, shared.ErrNotFound)
	}
	return nil
}

// SetCollectionPriority persists the batch-computed priority segment for reporting.
func (r *Repository) SetCollectionPriority(ctx context.Context, customerID int64, priority string) error {
	_, err := r.pool.Exec(ctx, `UPDATE customers SET priority = $1, updated_at = NOW() WHERE id = $2`, priority, customerID)
	return err
}

// ListCustomerIDsWithBalance returns every customer carrying outstanding invoices.
func (r *Repository) ListCustomerIDsWithBalance(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT customer_id FROM invoices WHERE outstanding > 0 ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const invoiceColumns = `id, number, customer_id, amount, outstanding, issued_at, due_at, status, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.Amount, &inv.Outstanding,
		&inv.IssuedAt, &inv.DueAt, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ledger: invoice: %w", shared.ErrNotFound)
		}
		return nil, err
	}
	return &inv, nil
}

// CreateInvoice inserts an open invoice with outstanding = amount.
func (r *Repository) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO invoices
(number, customer_id, amount, outstanding, issued_at, due_at, status)
VALUES ($1, $2, $3, $3, $4, $5, $6)
RETURNING `+invoiceColumns,
		input.Number, input.CustomerID, input.Amount, input.IssuedAt, input.DueAt, InvoiceOpen)
	return scanInvoice(row)
}

// GetInvoice fetches one invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

// ListOpenInvoices returns unsettled invoices matching the filter, oldest debt first.
func (r *Repository) ListOpenInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	asOf := filter.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	query := `SELECT i.id, i.number, i.customer_id, i.amount, i.outstanding, i.issued_at, i.due_at, i.status, i.created_at, i.updated_at
FROM invoices i
JOIN customers c ON c.id = i.customer_id
WHERE i.status IN ('OPEN', 'PARTIAL') AND i.outstanding > 0
AND i.outstanding >= $1`
	args := []any{filter.MinAmount}
	if filter.MinDaysPast > 0 {
		args = append(args, asOf, filter.MinDaysPast)
		query += fmt.Sprintf(" AND i.due_at <= $%d::timestamptz - make_interval(days => $%d)", len(args)-1, len(args))
	}
	if filter.CustomerID != 0 {
		args = append(args, filter.CustomerID)
		query += fmt.Sprintf(" AND i.customer_id = $%d", len(args))
	}
	if filter.CustomerType != "" {
		args = append(args, filter.CustomerType)
		query += fmt.Sprintf(" AND c.customer_type = $%d", len(args))
	}
	query += " ORDER BY i.due_at, i.outstanding DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// OutstandingBalance sums unsettled amounts for a customer.
func (r *Repository) OutstandingBalance(ctx context.Context, customerID int64) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(outstanding), 0) FROM invoices WHERE customer_id = $1 AND outstanding > 0`,
		customerID).Scan(&total)
	return total, err
}

// ApplyPayment records a payment and reduces the invoice outstanding in one
// transaction. The row lock on the invoice keeps concurrent payments from
// driving outstanding below zero.
func (r *Repository) ApplyPayment(ctx context.Context, input RecordPaymentInput) (*Payment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var inv Invoice
	err = tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, input.InvoiceID).
		Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.Amount, &inv.Outstanding,
			&inv.IssuedAt, &inv.DueAt, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ledger: invoice %d: %w", input.InvoiceID, shared.ErrNotFound)
		}
		return nil, err
	}
	if inv.Outstanding <= 0 {
		return nil, ErrSettled
	}
	if input.Amount > inv.Outstanding {
		return nil, fmt.Errorf("ledger: payment exceeds outstanding %.2f: %w", inv.Outstanding, shared.ErrValidation)
	}

	remaining := inv.Outstanding - input.Amount
	status := InvoicePartial
	if remaining == 0 {
		status = InvoicePaid
	}
	if _, err := tx.Exec(ctx,
		`UPDATE invoices SET outstanding = $1, status = $2, updated_at = NOW() WHERE id = $3`,
		remaining, status, inv.ID); err != nil {
		return nil, err
	}

	payment := &Payment{
		CustomerID: inv.CustomerID,
		InvoiceID:  inv.ID,
		Amount:     input.Amount,
		PaidAt:     input.PaidAt,
		Method:     input.Method,
		Reference:  input.Reference,
	}
	err = tx.QueryRow(ctx, `INSERT INTO payments (customer_id, invoice_id, amount, paid_at, method, reference)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		payment.CustomerID, payment.InvoiceID, payment.Amount, payment.PaidAt, payment.Method, payment.Reference).
		Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return payment, nil
}

// PaymentsApplied sums payments against an invoice inside [from, to].
func (r *Repository) PaymentsApplied(ctx context.Context, invoiceID int64, from, to time.Time) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1 AND paid_at >= $2 AND paid_at <= $3`,
		invoiceID, from, to).Scan(&total)
	return total, err
}

// AppendActivity inserts an audit record. Activities are never updated or deleted.
func (r *Repository) AppendActivity(ctx context.Context, activity Activity) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO collection_activities
(customer_id, invoice_id, occurred_at, activity_type, result, method, notes, performed_by, assigned_to, follow_up_at, follow_up_done)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		activity.CustomerID, activity.InvoiceID, activity.At, activity.Type, activity.Result,
		activity.Method, activity.Notes, activity.PerformedBy, activity.AssignedTo,
		activity.FollowUpAt, activity.FollowUpDone).Scan(&id)
	return id, err
}

// ListRecentActivities returns a customer's activities since the given time, newest first.
func (r *Repository) ListRecentActivities(ctx context.Context, customerID int64, since time.Time) ([]Activity, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, customer_id, COALESCE(invoice_id, 0), occurred_at, activity_type,
result, method, notes, performed_by, assigned_to, follow_up_at, follow_up_done
FROM collection_activities
WHERE customer_id = $1 AND occurred_at >= $2
ORDER BY occurred_at DESC`, customerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var activities []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.InvoiceID, &a.At, &a.Type, &a.Result,
			&a.Method, &a.Notes, &a.PerformedBy, &a.AssignedTo, &a.FollowUpAt, &a.FollowUpDone); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
