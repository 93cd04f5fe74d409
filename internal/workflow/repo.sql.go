package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcollect/arcollect/internal/ledger"
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

// CreateDefinition inserts a definition and its steps in one transaction.
func (r *Repository) CreateDefinition(ctx context.Context, def *Definition) (*Definition, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO workflow_definitions
(name, min_days_past_due, min_amount, customer_type, active)
VALUES ($1, $2, $3, NULLIF($4, ''), $5) RETURNING id, created_at`,
			def.Name, def.Trigger.MinDaysPastDue, def.Trigger.MinAmount,
			string(def.Trigger.CustomerType), def.Active).
			Scan(&def.ID, &def.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("workflow: definition %q: %w", def.Name, shared.ErrDuplicate)
			}
			return err
		}
		for i := range def.Steps {
			step := &def.Steps[i]
			step.DefinitionID = def.ID
			err := tx.QueryRow(ctx, `INSERT INTO workflow_steps
(definition_id, step_order, action_type, template_id, assigned_to, delay_days)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
				def.ID, step.Order, step.Action, step.TemplateID, step.AssignedTo, step.DelayDays).
				Scan(&step.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}

const definitionColumns = `id, name, min_days_past_due, min_amount, COALESCE(customer_type, ''), active, created_at`

func scanDefinition(row pgx.Row) (*Definition, error) {
	var d Definition
	var customerType string
	err := row.Scan(&d.ID, &d.Name, &d.Trigger.MinDaysPastDue, &d.Trigger.MinAmount,
		&customerType, &d.Active, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("workflow: definition: %w", shared.ErrNotFound)
		}
		return nil, err
	}
	d.Trigger.CustomerType = ledger.CustomerType(customerType)
	return &d, nil
}

// GetDefinition fetches one definition with its steps in order.
func (r *Repository) GetDefinition(ctx context.Context, id int64) (*Definition, error) {
	def, err := scanDefinition(r.pool.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	def.Steps, err = r.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	return def, nil
}

func (r *Repository) listSteps(ctx context.Context, definitionID int64) ([]Step, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, definition_id, step_order, action_type, template_id, assigned_to, delay_days
FROM workflow_steps WHERE definition_id = $1 ORDER BY step_order`, definitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var steps []Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(&s.ID, &s.DefinitionID, &s.Order, &s.Action,
			&s.TemplateID, &s.AssignedTo, &s.DelayDays); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// ListDefinitions returns definitions with steps, oldest first.
func (r *Repository) ListDefinitions(ctx context.Context, activeOnly bool) ([]Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var defs []Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range defs {
		defs[i].Steps, err = r.listSteps(ctx, defs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return defs, nil
}

// SetDefinitionActive flips the activation flag.
func (r *Repository) SetDefinitionActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE workflow_definitions SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow: definition %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// CountActiveDefinitions returns the number of active definitions.
func (r *Repository) CountActiveDefinitions(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_definitions WHERE active`).Scan(&count)
	return count, err
}

const instanceColumns = `id, definition_id, customer_id, invoice_id, status, current_step,
scheduled_for, created_at, completed_at, last_action_at, COALESCE(failure_reason, ''), retry_count`

func scanInstance(row pgx.Row) (*Instance, error) {
	var inst Instance
	err := row.Scan(&inst.ID, &inst.DefinitionID, &inst.CustomerID, &inst.InvoiceID,
		&inst.Status, &inst.CurrentStep, &inst.ScheduledFor, &inst.CreatedAt,
		&inst.CompletedAt, &inst.LastActionAt, &inst.FailureReason, &inst.RetryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("workflow: instance: %w", shared.ErrNotFound)
		}
		return nil, err
	}
	return &inst, nil
}

// CreateInstance inserts a PENDING instance. The partial unique index on
// (definition_id, invoice_id) over non-terminal statuses resolves concurrent
// scans: the loser gets shared.ErrDuplicate.
func (r *Repository) CreateInstance(ctx context.Context, inst *Instance) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO workflow_instances
(id, definition_id, customer_id, invoice_id, status, current_step, scheduled_for, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.ID, inst.DefinitionID, inst.CustomerID, inst.InvoiceID,
		inst.Status, inst.CurrentStep, inst.ScheduledFor, inst.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workflow: instance for definition %d invoice %d: %w",
				inst.DefinitionID, inst.InvoiceID, shared.ErrDuplicate)
		}
		return err
	}
	return nil
}

// GetInstance fetches one instance.
func (r *Repository) GetInstance(ctx context.Context, id string) (*Instance, error) {
	return scanInstance(r.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id))
}

// ListDueInstances returns non-terminal instances scheduled at or before
// now, oldest schedule first. ACTIVE instances are due too: that is how a
// multi-step ladder resumes after its inter-step delay.
func (r *Repository) ListDueInstances(ctx context.Context, now time.Time) ([]Instance, error) {
	return r.listInstances(ctx, `SELECT `+instanceColumns+` FROM workflow_instances
WHERE status IN ('PENDING', 'ACTIVE') AND scheduled_for <= $1 ORDER BY scheduled_for`, now)
}

// ListUpcoming returns non-terminal instances by next schedule.
func (r *Repository) ListUpcoming(ctx context.Context, limit int) ([]Instance, error) {
	return r.listInstances(ctx, `SELECT `+instanceColumns+` FROM workflow_instances
WHERE status IN ('PENDING', 'ACTIVE') ORDER BY scheduled_for LIMIT $1`, limit)
}

func (r *Repository) listInstances(ctx context.Context, query string, args ...any) ([]Instance, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var instances []Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// CountInstancesByStatus aggregates instances per status.
func (r *Repository) CountInstancesByStatus(ctx context.Context) (map[InstanceStatus]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM workflow_instances GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[InstanceStatus]int)
	for rows.Next() {
		var status InstanceStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// AdvanceInstance moves the instance forward one step and appends the log
// entry atomically. The current_step guard in the WHERE clause is the
// compare-and-set: zero rows updated means another executor got there first.
func (r *Repository) AdvanceInstance(ctx context.Context, input AdvanceInput) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var completedAt *time.Time
		if input.Status == StatusCompleted {
			completedAt = &input.ActionAt
		}
		tag, err := tx.Exec(ctx, `UPDATE workflow_instances
SET current_step = current_step + 1, status = $1, scheduled_for = $2,
    last_action_at = $3, completed_at = $4
WHERE id = $5 AND current_step = $6 AND status IN ('PENDING', 'ACTIVE')`,
			input.Status, input.ScheduledFor, input.ActionAt, completedAt,
			input.InstanceID, input.FromStep)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("workflow: instance %s step %d: %w",
				input.InstanceID, input.FromStep, shared.ErrStaleInstance)
		}
		return insertLogEntry(ctx, tx, input.Entry)
	})
}

// FailInstance marks the instance FAILED with the reason and appends the log
// entry atomically, guarded like AdvanceInstance. The retry counter records
// the attempt; nothing re-schedules a failed instance.
func (r *Repository) FailInstance(ctx context.Context, input FailInput) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE workflow_instances
SET status = 'FAILED', failure_reason = $1, retry_count = retry_count + 1
WHERE id = $2 AND current_step = $3 AND status IN ('PENDING', 'ACTIVE')`,
			input.Reason, input.InstanceID, input.FromStep)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("workflow: instance %s step %d: %w",
				input.InstanceID, input.FromStep, shared.ErrStaleInstance)
		}
		return insertLogEntry(ctx, tx, input.Entry)
	})
}

// CancelInstance marks a non-terminal instance CANCELLED with a reason.
func (r *Repository) CancelInstance(ctx context.Context, id, reason string, at time.Time) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		inst, err := scanInstance(tx.QueryRow(ctx,
			`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return fmt.Errorf("workflow: instance %s is %s: %w", id, inst.Status, shared.ErrTerminalState)
		}
		if _, err := tx.Exec(ctx, `UPDATE workflow_instances
SET status = 'CANCELLED', failure_reason = $1, completed_at = $2 WHERE id = $3`,
			reason, at, id); err != nil {
			return err
		}
		return insertLogEntry(ctx, tx, ExecutionLogEntry{
			InstanceID: id,
			StepOrder:  inst.CurrentStep,
			ExecutedAt: at,
			Status:     LogCancelled,
			Result:     reason,
		})
	})
}

func insertLogEntry(ctx context.Context, tx pgx.Tx, entry ExecutionLogEntry) error {
	_, err := tx.Exec(ctx, `INSERT INTO workflow_execution_log
(instance_id, step_order, executed_at, status, result, error, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.InstanceID, entry.StepOrder, entry.ExecutedAt, entry.Status,
		entry.Result, entry.Error, entry.DurationMS)
	return err
}

// ListExecutionLog returns an instance's log in execution order.
func (r *Repository) ListExecutionLog(ctx context.Context, instanceID string) ([]ExecutionLogEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, instance_id, step_order, executed_at, status, result, error, duration_ms
FROM workflow_execution_log WHERE instance_id = $1 ORDER BY executed_at, id`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []ExecutionLogEntry
	for rows.Next() {
		var e ExecutionLogEntry
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.StepOrder, &e.ExecutedAt,
			&e.Status, &e.Result, &e.Error, &e.DurationMS); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
