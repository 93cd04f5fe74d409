package scoring

import (
	"time"
)

// RiskLevel classifies a composite score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// NextAction enumerates the recommended collection step for a score.
type NextAction string

const (
	ActionEscalateToLegal     NextAction = "ESCALATE_TO_LEGAL"
	ActionManagerIntervention NextAction = "MANAGER_INTERVENTION"
	ActionImmediatePhoneCall  NextAction = "IMMEDIATE_PHONE_CALL"
	ActionSendFormalNotice    NextAction = "SEND_FORMAL_NOTICE"
	ActionStandardFollowUp    NextAction = "STANDARD_FOLLOW_UP"
	ActionNone                NextAction = "NO_ACTION"
)

// Components holds the five weighted inputs of a priority score, each [0,100].
type Components struct {
	Amount       float64 `json:"amount"`
	Aging        float64 `json:"aging"`
	History      float64 `json:"history"`
	Relationship float64 `json:"relationship"`
	Effort       float64 `json:"effort"`
}

// PriorityScore is the computed collection urgency for one customer. It is
// derived from current ledger state plus weight configuration and is never
// authoritative: recomputing with the same inputs yields the same score.
type PriorityScore struct {
	CustomerID        int64      `json:"customer_id"`
	CustomerName      string     `json:"customer_name"`
	Composite         float64    `json:"composite"`
	Components        Components `json:"components"`
	Risk              RiskLevel  `json:"risk"`
	TotalOutstanding  float64    `json:"total_outstanding"`
	InvoiceCount      int        `json:"invoice_count"`
	OldestInvoiceDays int        `json:"oldest_invoice_days"`
	AvgInvoiceAge     float64    `json:"avg_invoice_age"`
	NextAction        NextAction `json:"next_action"`
	Recommendations   []string   `json:"recommendations"`
	ComputedAt        time.Time  `json:"computed_at"`
}

// Weights configures the component blend. Values are relative; the scorer
// normalises them before use.
type Weights struct {
	Amount       float64
	Aging        float64
	History      float64
	Relationship float64
	Effort       float64
}

// DefaultWeights mirrors the standard collection policy blend.
func DefaultWeights() Weights {
	return Weights{
		Amount:       0.25,
		Aging:        0.30,
		History:      0.20,
		Relationship: 0.15,
		Effort:       0.10,
	}
}

func (w Weights) normalised() Weights {
	sum := w.Amount + w.Aging + w.History + w.Relationship + w.Effort
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Amount:       w.Amount / sum,
		Aging:        w.Aging / sum,
		History:      w.History / sum,
		Relationship: w.Relationship / sum,
		Effort:       w.Effort / sum,
	}
}

// Thresholds configures risk classification boundaries.
type Thresholds struct {
	High   float64
	Medium float64
}

// DefaultThresholds returns the standard risk boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 75, Medium: 50}
}

// RiskFor classifies a composite score.
func (t Thresholds) RiskFor(score float64) RiskLevel {
	switch {
	case score >= t.High:
		return RiskHigh
	case score >= t.Medium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// PromiseStats aggregates a customer's recent promise outcomes.
type PromiseStats struct {
	Total  int
	Kept   int
	Broken int
	Active int
}

// NextActionFor derives the recommended step from the composite score and the
// age of the oldest unsettled invoice. Total over its inputs.
func NextActionFor(score float64, oldestDays int) NextAction {
	switch {
	case score > 80 || oldestDays > 120:
		return ActionEscalateToLegal
	case score > 70 || oldestDays > 90:
		return ActionManagerIntervention
	case score > 60 || oldestDays > 60:
		return ActionImmediatePhoneCall
	case score > 40 || oldestDays > 30:
		return ActionSendFormalNotice
	default:
		return ActionStandardFollowUp
	}
}

// PriorityLevelFor maps a composite score onto the reporting segment stored
// on the customer record.
func PriorityLevelFor(score float64) string {
	switch {
	case score > 80:
		return "CRITICAL"
	case score > 60:
		return "HIGH"
	case score > 30:
		return "NORMAL"
	default:
		return "LOW"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
