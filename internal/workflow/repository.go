package workflow

import (
	"context"
	"time"
)

// AdvanceInput carries one atomic step advancement: the instance moves from
// FromStep to FromStep+1 (or a terminal status) and the log entry is written
// in the same transaction. FromStep is the compare-and-set guard.
type AdvanceInput struct {
	InstanceID   string
	FromStep     int
	Status       InstanceStatus
	ScheduledFor time.Time
	ActionAt     time.Time
	Entry        ExecutionLogEntry
}

// FailInput marks an instance FAILED, guarded by FromStep like AdvanceInput.
type FailInput struct {
	InstanceID string
	FromStep   int
	Reason     string
	Entry      ExecutionLogEntry
}

// RepositoryPort defines workflow persistence.
type RepositoryPort interface {
	CreateDefinition(ctx context.Context, def *Definition) (*Definition, error)
	GetDefinition(ctx context.Context, id int64) (*Definition, error)
	ListDefinitions(ctx context.Context, activeOnly bool) ([]Definition, error)
	SetDefinitionActive(ctx context.Context, id int64, active bool) error
	CountActiveDefinitions(ctx context.Context) (int, error)

	// CreateInstance returns shared.ErrDuplicate when a PENDING or ACTIVE
	// instance already exists for the (definition, invoice) pair.
	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	ListDueInstances(ctx context.Context, now time.Time) ([]Instance, error)
	ListUpcoming(ctx context.Context, limit int) ([]Instance, error)
	CountInstancesByStatus(ctx context.Context) (map[InstanceStatus]int, error)

	// AdvanceInstance and FailInstance return shared.ErrStaleInstance when
	// the compare-and-set guard does not match, meaning another executor
	// already advanced or finished the instance.
	AdvanceInstance(ctx context.Context, input AdvanceInput) error
	FailInstance(ctx context.Context, input FailInput) error

	// CancelInstance returns shared.ErrTerminalState when the instance has
	// already finished.
	CancelInstance(ctx context.Context, id, reason string, at time.Time) error

	ListExecutionLog(ctx context.Context, instanceID string) ([]ExecutionLogEntry, error)
}
