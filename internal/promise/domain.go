package promise

import (
	"time"
)

// Status enumerates promise lifecycle states. KEPT, BROKEN and CANCELLED are
// terminal. PARTIALLY_KEPT is not: the customer may still settle the balance
// and move the promise to KEPT.
type Status string

const (
	StatusActive        Status = "ACTIVE"
	StatusKept          Status = "KEPT"
	StatusBroken        Status = "BROKEN"
	StatusPartiallyKept Status = "PARTIALLY_KEPT"
	StatusCancelled     Status = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusKept || s == StatusBroken || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusKept, StatusBroken, StatusPartiallyKept, StatusCancelled:
		return true
	}
	return false
}

// FollowUpPriority ranks follow-up queue entries.
type FollowUpPriority string

const (
	PriorityLow    FollowUpPriority = "LOW"
	PriorityNormal FollowUpPriority = "NORMAL"
	PriorityHigh   FollowUpPriority = "HIGH"
	PriorityUrgent FollowUpPriority = "URGENT"
)

// Promise is a customer commitment to pay an amount by a date. InvoiceID of
// zero means the promise covers the account, not one invoice.
type Promise struct {
	ID                 int64      `json:"id"`
	CustomerID         int64      `json:"customer_id"`
	InvoiceID          int64      `json:"invoice_id,omitempty"`
	PromisedAmount     float64    `json:"promised_amount"`
	MadeAt             time.Time  `json:"made_at"`
	DueAt              time.Time  `json:"due_at"`
	Status             Status     `json:"status"`
	FollowUpAt         time.Time  `json:"follow_up_at"`
	FollowUpDone       bool       `json:"follow_up_done"`
	EscalationRequired bool       `json:"escalation_required"`
	ActualAmount       float64    `json:"actual_amount,omitempty"`
	ActualPaidAt       *time.Time `json:"actual_paid_at,omitempty"`
	ContactPerson      string     `json:"contact_person,omitempty"`
	ContactMethod      string     `json:"contact_method,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	CreatedBy          string     `json:"created_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Policy holds the promise tolerance settings. All of it is configuration,
// not hard-coded constants: collection teams tune these per book of debt.
type Policy struct {
	// KeptRatio is the fraction of the promised amount that counts as kept.
	KeptRatio float64
	// PartialRatio is the fraction that still counts as partially kept.
	PartialRatio float64
	// GraceDays past the due date before an unpaid promise is reconciled.
	GraceDays int
	// PaymentWindowDays after the due date in which payments are attributed
	// to the promise.
	PaymentWindowDays int
	// EscalationThreshold is the broken-promise count inside the window that
	// flags the customer for escalation.
	EscalationThreshold int
	// EscalationWindowDays is the trailing window for counting broken
	// promises.
	EscalationWindowDays int
	// FollowUpLeadDays before the due date to schedule the follow-up.
	FollowUpLeadDays int
}

// DefaultPolicy returns the standard tolerances.
func DefaultPolicy() Policy {
	return Policy{
		KeptRatio:            0.99,
		PartialRatio:         0.90,
		GraceDays:            2,
		PaymentWindowDays:    5,
		EscalationThreshold:  3,
		EscalationWindowDays: 90,
		FollowUpLeadDays:     1,
	}
}

// CreateInput is the request payload for a new promise.
type CreateInput struct {
	CustomerID    int64     `json:"customer_id" validate:"required"`
	InvoiceID     int64     `json:"invoice_id"`
	Amount        float64   `json:"amount" validate:"required,gt=0"`
	DueAt         time.Time `json:"due_at" validate:"required"`
	ContactPerson string    `json:"contact_person"`
	ContactMethod string    `json:"contact_method"`
	Notes         string    `json:"notes"`
	CreatedBy     string    `json:"created_by"`
}

// StatusUpdateInput is the request payload for an explicit transition.
type StatusUpdateInput struct {
	Status       Status     `json:"status" validate:"required"`
	ActualAmount float64    `json:"actual_amount"`
	ActualPaidAt *time.Time `json:"actual_paid_at"`
	Notes        string     `json:"notes"`
}

// StatusUpdateResult reports the applied transition.
type StatusUpdateResult struct {
	Promise            *Promise `json:"promise"`
	PreviousStatus     Status   `json:"previous_status"`
	EscalationRequired bool     `json:"escalation_required"`
}

// ReconcileSummary reports one reconciliation pass over overdue promises.
type ReconcileSummary struct {
	Checked   int `json:"checked"`
	Kept      int `json:"kept"`
	Partial   int `json:"partial"`
	Broken    int `json:"broken"`
	Escalated int `json:"escalated"`
}

// HistorySummary aggregates a customer's promise record.
type HistorySummary struct {
	TotalPromises   int     `json:"total_promises"`
	KeptPromises    int     `json:"kept_promises"`
	BrokenPromises  int     `json:"broken_promises"`
	PartialPromises int     `json:"partial_promises"`
	ActivePromises  int     `json:"active_promises"`
	KeepRate        float64 `json:"keep_rate"`
	TotalPromised   float64 `json:"total_promised"`
	TotalReceived   float64 `json:"total_received"`
	FulfillmentRate float64 `json:"fulfillment_rate"`
}

// History is a customer's promises inside a window plus the summary.
type History struct {
	CustomerID int64          `json:"customer_id"`
	PeriodDays int            `json:"period_days"`
	Summary    HistorySummary `json:"summary"`
	Promises   []Promise      `json:"promises"`
}

// KeepRateStat is the book-wide promise outcome rate. Resolved counts
// promises that reached KEPT, PARTIALLY_KEPT or BROKEN inside the window.
type KeepRateStat struct {
	Kept     int     `json:"kept"`
	Resolved int     `json:"resolved"`
	Rate     float64 `json:"rate"`
}

// FollowUpItem is one entry of the agent work queue.
type FollowUpItem struct {
	Promise           Promise          `json:"promise"`
	CustomerName      string           `json:"customer_name"`
	DaysUntilDue      int              `json:"days_until_due"`
	Overdue           bool             `json:"overdue"`
	Priority          FollowUpPriority `json:"priority"`
	RecommendedAction string           `json:"recommended_action"`
}

// Recommended follow-up actions.
const (
	ActionImmediateEscalation = "IMMEDIATE_ESCALATION"
	ActionUrgentContact       = "URGENT_CONTACT"
	ActionConfirmPayment      = "CONFIRM_PAYMENT"
	ActionReminderCall        = "REMINDER_CALL"
	ActionCourtesyReminder    = "COURTESY_REMINDER"
)
