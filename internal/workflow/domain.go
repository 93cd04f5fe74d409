package workflow

import (
	"time"

	"github.com/arcollect/arcollect/internal/ledger"
)

// ActionType enumerates the collection actions a workflow step may take.
// The set is closed: the executor switches exhaustively over it and an
// unknown value fails the instance.
type ActionType string

const (
	ActionEmailReminder ActionType = "EMAIL_REMINDER"
	ActionPhoneCall     ActionType = "PHONE_CALL"
	ActionDunningLetter ActionType = "DUNNING_LETTER"
	ActionCreditHold    ActionType = "CREDIT_HOLD"
	ActionEscalation    ActionType = "ESCALATION"
	ActionLegalReferral ActionType = "LEGAL_REFERRAL"
	ActionPaymentPlan   ActionType = "PAYMENT_PLAN"
)

// ValidAction reports whether t belongs to the closed action set.
func ValidAction(t ActionType) bool {
	switch t {
	case ActionEmailReminder, ActionPhoneCall, ActionDunningLetter,
		ActionCreditHold, ActionEscalation, ActionLegalReferral, ActionPaymentPlan:
		return true
	}
	return false
}

// InstanceStatus enumerates workflow instance lifecycle states.
type InstanceStatus string

const (
	StatusPending   InstanceStatus = "PENDING"
	StatusActive    InstanceStatus = "ACTIVE"
	StatusCompleted InstanceStatus = "COMPLETED"
	StatusFailed    InstanceStatus = "FAILED"
	StatusCancelled InstanceStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s InstanceStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Trigger is the matching criteria that spawns instances from open invoices.
// CustomerType empty means any.
type Trigger struct {
	MinDaysPastDue int                 `json:"min_days_past_due"`
	MinAmount      float64             `json:"min_amount"`
	CustomerType   ledger.CustomerType `json:"customer_type,omitempty"`
}

// Step is one ordered action inside a definition. DelayDays is the wait
// before this step becomes due, counted from the previous step's execution
// (or from triggering, for the first step).
type Step struct {
	ID           int64      `json:"id"`
	DefinitionID int64      `json:"definition_id"`
	Order        int        `json:"order"`
	Action       ActionType `json:"action"`
	TemplateID   string     `json:"template_id,omitempty"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	DelayDays    int        `json:"delay_days"`
}

// Definition is a named trigger plus an ordered action ladder. Definitions
// are immutable once instances reference them, except the active flag.
type Definition struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Trigger   Trigger   `json:"trigger"`
	Active    bool      `json:"active"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// Instance is one running execution of a definition against an invoice.
// CurrentStep counts completed steps, so it indexes the next step to run.
type Instance struct {
	ID            string         `json:"id"`
	DefinitionID  int64          `json:"definition_id"`
	CustomerID    int64          `json:"customer_id"`
	InvoiceID     int64          `json:"invoice_id"`
	Status        InstanceStatus `json:"status"`
	CurrentStep   int            `json:"current_step"`
	ScheduledFor  time.Time      `json:"scheduled_for"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	LastActionAt  *time.Time     `json:"last_action_at,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	RetryCount    int            `json:"retry_count"`
}

// ExecutionLogEntry is one audit row for a step execution attempt.
type ExecutionLogEntry struct {
	ID         int64     `json:"id"`
	InstanceID string    `json:"instance_id"`
	StepOrder  int       `json:"step_order"`
	ExecutedAt time.Time `json:"executed_at"`
	Status     string    `json:"status"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Log entry statuses.
const (
	LogSuccess   = "SUCCESS"
	LogFailed    = "FAILED"
	LogCancelled = "CANCELLED"
)

// InstanceDetail is an instance with its definition name and full log.
type InstanceDetail struct {
	Instance       Instance            `json:"instance"`
	DefinitionName string              `json:"definition_name"`
	Log            []ExecutionLogEntry `json:"execution_log"`
}

// StatusSummary is the fleet-wide view of instance state.
type StatusSummary struct {
	ByStatus          map[InstanceStatus]int `json:"by_status"`
	ActiveDefinitions int                    `json:"active_definitions"`
	Upcoming          []Instance             `json:"upcoming"`
}

// ScanSummary reports one trigger scan pass.
type ScanSummary struct {
	Definitions int      `json:"definitions"`
	Triggered   int      `json:"triggered"`
	Skipped     int      `json:"skipped"`
	InstanceIDs []string `json:"instance_ids,omitempty"`
}

// ExecutionSummary reports one execution pass over due instances.
type ExecutionSummary struct {
	Executed  int `json:"executed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
}

// CreateDefinitionInput is the request payload for new definitions.
type CreateDefinitionInput struct {
	Name    string      `json:"name" validate:"required,min=3,max=120"`
	Trigger Trigger     `json:"trigger"`
	Steps   []StepInput `json:"steps" validate:"required,min=1,dive"`
}

// StepInput is one requested step; order is its position in the slice.
type StepInput struct {
	Action     ActionType `json:"action" validate:"required"`
	TemplateID string     `json:"template_id"`
	AssignedTo string     `json:"assigned_to"`
	DelayDays  int        `json:"delay_days" validate:"min=0,max=365"`
}
