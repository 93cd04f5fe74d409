package ledger

import (
	"errors"
	"time"
)

// CustomerType enumerates customer segments used by collection policy.
type CustomerType string

const (
	CustomerRegular  CustomerType = "REGULAR"
	CustomerVIP      CustomerType = "VIP"
	CustomerHighRisk CustomerType = "HIGH_RISK"
	CustomerNew      CustomerType = "NEW"
)

// InvoiceStatus enumerates invoice payment states.
type InvoiceStatus string

const (
	InvoiceOpen    InvoiceStatus = "OPEN"
	InvoicePartial InvoiceStatus = "PARTIAL"
	InvoicePaid    InvoiceStatus = "PAID"
)

// AgingBucket classifies an invoice by how many days past due it is.
type AgingBucket string

const (
	BucketCurrent AgingBucket = "CURRENT"
	Bucket1To30   AgingBucket = "1-30"
	Bucket31To60  AgingBucket = "31-60"
	Bucket61To90  AgingBucket = "61-90"
	Bucket91To120 AgingBucket = "91-120"
	Bucket120Plus AgingBucket = "120+"
)

// Customer model.
type Customer struct {
	ID               int64
	Name             string
	Company          string
	Type             CustomerType
	CreditLimit      float64
	PaymentTermsDays int
	AvgDaysToPay     float64
	ReliabilityScore float64
	LifetimeSales    float64
	CustomerSince    time.Time
	Priority         string
	CreditHold       bool
	Email            string
	Phone            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Invoice model. Outstanding is never negative; days past due and the aging
// bucket are derived, not stored.
type Invoice struct {
	ID          int64
	Number      string
	CustomerID  int64
	Amount      float64
	Outstanding float64
	IssuedAt    time.Time
	DueAt       time.Time
	Status      InvoiceStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Payment model.
type Payment struct {
	ID         int64
	CustomerID int64
	InvoiceID  int64
	Amount     float64
	PaidAt     time.Time
	Method     string
	Reference  string
	CreatedAt  time.Time
}

// ActivityType enumerates collection contact channels and events.
type ActivityType string

const (
	ActivityEmail           ActivityType = "EMAIL"
	ActivityPhoneCall       ActivityType = "PHONE_CALL"
	ActivityLetter          ActivityType = "LETTER"
	ActivityEscalation      ActivityType = "ESCALATION"
	ActivityLegalReferral   ActivityType = "LEGAL_REFERRAL"
	ActivityCreditHold      ActivityType = "CREDIT_HOLD"
	ActivityPaymentPlan     ActivityType = "PAYMENT_PLAN"
	ActivityPromiseFollowUp ActivityType = "PROMISE_FOLLOW_UP"
	ActivityPromiseUpdate   ActivityType = "PROMISE_UPDATE"
)

// ActivityResult enumerates outcomes recorded against an activity.
type ActivityResult string

const (
	ResultSent             ActivityResult = "SENT"
	ResultScheduled        ActivityResult = "SCHEDULED"
	ResultNoAnswer         ActivityResult = "NO_ANSWER"
	ResultPromiseMade      ActivityResult = "PROMISE_MADE"
	ResultDisputeRaised    ActivityResult = "DISPUTE_RAISED"
	ResultEscalated        ActivityResult = "ESCALATED"
	ResultReferred         ActivityResult = "REFERRED"
	ResultApplied          ActivityResult = "APPLIED"
	ResultCompleted        ActivityResult = "COMPLETED"
	ResultPromiseKept      ActivityResult = "PROMISE_KEPT"
	ResultPromiseBroken    ActivityResult = "PROMISE_BROKEN"
	ResultPartialPayment   ActivityResult = "PARTIAL_PAYMENT"
	ResultPromiseCancelled ActivityResult = "PROMISE_CANCELLED"
)

// Activity is an append-only audit record of a collection touchpoint.
// InvoiceID of zero means the activity is not tied to a single invoice.
type Activity struct {
	ID           int64
	CustomerID   int64
	InvoiceID    int64
	At           time.Time
	Type         ActivityType
	Result       ActivityResult
	Method       string
	Notes        string
	PerformedBy  string
	AssignedTo   string
	FollowUpAt   *time.Time
	FollowUpDone bool
}

// InvoiceFilter narrows open invoice lookups for trigger scans and scoring.
type InvoiceFilter struct {
	CustomerID   int64
	MinDaysPast  int
	MinAmount    float64
	CustomerType CustomerType
	AsOf         time.Time
}

// AgingReport summarises outstanding balances per bucket.
type AgingReport struct {
	AsOf    time.Time
	Buckets map[AgingBucket]AgingLine
	Total   float64
}

// AgingLine is one bucket row of an aging report.
type AgingLine struct {
	InvoiceCount int
	Outstanding  float64
}

// ErrSettled indicates a mutation against an invoice with no remaining balance.
var ErrSettled = errors.New("ledger: invoice already settled")

// DaysPastDue returns whole days between due date and as-of date, never negative.
func DaysPastDue(due, asOf time.Time) int {
	days := int(asOf.Sub(due).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// BucketFor maps days past due onto an aging bucket. Pure function of its
// input so repeated classification of the same invoice cannot drift.
func BucketFor(days int) AgingBucket {
	switch {
	case days <= 0:
		return BucketCurrent
	case days <= 30:
		return Bucket1To30
	case days <= 60:
		return Bucket31To60
	case days <= 90:
		return Bucket61To90
	case days <= 120:
		return Bucket91To120
	default:
		return Bucket120Plus
	}
}

// DaysPastDueOf is a convenience over DaysPastDue for an invoice.
func (i Invoice) DaysPastDueOf(asOf time.Time) int {
	return DaysPastDue(i.DueAt, asOf)
}

// BucketOf classifies the invoice as of the given date.
func (i Invoice) BucketOf(asOf time.Time) AgingBucket {
	return BucketFor(i.DaysPastDueOf(asOf))
}
