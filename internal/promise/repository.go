package promise

import (
	"context"
	"time"
)

// StatusChange is one persisted transition. Guarded by the current status:
// the update applies only while the promise is non-terminal.
type StatusChange struct {
	PromiseID          int64
	Status             Status
	ActualAmount       float64
	ActualPaidAt       *time.Time
	EscalationRequired bool
	Notes              string
	FollowUpDone       bool
}

// RepositoryPort defines promise persistence.
type RepositoryPort interface {
	Create(ctx context.Context, p *Promise) error
	Get(ctx context.Context, id int64) (*Promise, error)

	// ListOverdueActive returns ACTIVE promises due before the cutoff.
	ListOverdueActive(ctx context.Context, cutoff time.Time) ([]Promise, error)

	// ApplyStatusChange returns shared.ErrTerminalState when the promise has
	// already reached a terminal status.
	ApplyStatusChange(ctx context.Context, change StatusChange) (*Promise, error)

	CountBrokenSince(ctx context.Context, customerID int64, since time.Time) (int, error)

	// CountOutcomesSince returns the kept and resolved promise counts across
	// all customers for promises made since the given time.
	CountOutcomesSince(ctx context.Context, since time.Time) (kept, resolved int, err error)
	ListByCustomer(ctx context.Context, customerID int64, since time.Time) ([]Promise, error)

	// ListPendingFollowUps returns ACTIVE promises with an incomplete
	// follow-up whose follow-up or due date falls inside the horizon.
	ListPendingFollowUps(ctx context.Context, horizon time.Time) ([]Promise, error)
	MarkFollowUpDone(ctx context.Context, id int64, notes string) (*Promise, error)
}
