package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/arcollect/arcollect/internal/ledger"
)

const performedBy = "workflow-engine"

// performAction runs one step against fresh ledger state. Every action
// writes exactly one collection activity; CREDIT_HOLD additionally flips the
// customer flag and PAYMENT_PLAN opens a payment promise. The switch is
// exhaustive over the closed action set.
func (e *Engine) performAction(ctx context.Context, step Step, inst Instance, invoice *ledger.Invoice) (string, error) {
	customer, err := e.ledger.GetCustomer(ctx, inst.CustomerID)
	if err != nil {
		return "", fmt.Errorf("workflow: load customer %d: %w", inst.CustomerID, err)
	}
	now := e.clock()
	amount := e.printer.Sprintf("$%.2f", invoice.Outstanding)

	switch step.Action {
	case ActionEmailReminder:
		template := step.TemplateID
		if template == "" {
			template = "default"
		}
		return e.record(ctx, inst, ledger.Activity{
			Type:   ledger.ActivityEmail,
			Result: ledger.ResultSent,
			Method: "EMAIL",
			Notes: fmt.Sprintf("Automated payment reminder to %s for invoice %s (%s outstanding), template %s",
				customer.Name, invoice.Number, amount, template),
		}, now, "email sent")

	case ActionPhoneCall:
		assignee := step.AssignedTo
		if assignee == "" {
			assignee = "Collection Team"
		}
		followUp := now.AddDate(0, 0, 1)
		return e.record(ctx, inst, ledger.Activity{
			Type:       ledger.ActivityPhoneCall,
			Result:     ledger.ResultScheduled,
			Method:     "PHONE",
			AssignedTo: assignee,
			FollowUpAt: &followUp,
			Notes: fmt.Sprintf("Collection call to %s scheduled, %s outstanding on invoice %s",
				customer.Name, amount, invoice.Number),
		}, now, "call scheduled")

	case ActionDunningLetter:
		return e.record(ctx, inst, ledger.Activity{
			Type:   ledger.ActivityLetter,
			Result: ledger.ResultSent,
			Method: "MAIL",
			Notes: fmt.Sprintf("Dunning letter issued to %s demanding %s on invoice %s",
				customer.Name, amount, invoice.Number),
		}, now, "dunning letter sent")

	case ActionCreditHold:
		if err := e.ledger.SetCreditHold(ctx, inst.CustomerID, true); err != nil {
			return "", fmt.Errorf("workflow: apply credit hold: %w", err)
		}
		return e.record(ctx, inst, ledger.Activity{
			Type:   ledger.ActivityCreditHold,
			Result: ledger.ResultApplied,
			Method: "INTERNAL",
			Notes: fmt.Sprintf("Credit hold applied to %s, %s outstanding",
				customer.Name, amount),
		}, now, "credit hold applied")

	case ActionEscalation:
		assignee := step.AssignedTo
		if assignee == "" {
			assignee = "Collection Supervisor"
		}
		return e.record(ctx, inst, ledger.Activity{
			Type:       ledger.ActivityEscalation,
			Result:     ledger.ResultEscalated,
			Method:     "INTERNAL",
			AssignedTo: assignee,
			Notes: fmt.Sprintf("Case escalated to %s, %s outstanding on invoice %s",
				assignee, amount, invoice.Number),
		}, now, "case escalated")

	case ActionLegalReferral:
		return e.record(ctx, inst, ledger.Activity{
			Type:       ledger.ActivityLegalReferral,
			Result:     ledger.ResultReferred,
			Method:     "LEGAL",
			AssignedTo: "Legal Department",
			Notes: fmt.Sprintf("Invoice %s (%s) referred to legal for collection against %s",
				invoice.Number, amount, customer.Name),
		}, now, "legal referral created")

	case ActionPaymentPlan:
		if e.promises == nil {
			return "", fmt.Errorf("workflow: payment plan action requires promise service")
		}
		due := now.AddDate(0, 0, paymentPlanDays)
		if err := e.promises.CreatePlan(ctx, inst.CustomerID, inst.InvoiceID, invoice.Outstanding, due); err != nil {
			return "", fmt.Errorf("workflow: open payment plan: %w", err)
		}
		return e.record(ctx, inst, ledger.Activity{
			Type:   ledger.ActivityPaymentPlan,
			Result: ledger.ResultPromiseMade,
			Method: "INTERNAL",
			Notes: fmt.Sprintf("Payment plan opened for %s: %s due by %s",
				customer.Name, amount, due.Format("2006-01-02")),
		}, now, "payment plan opened")

	default:
		return "", fmt.Errorf("workflow: unknown action %q", step.Action)
	}
}

// paymentPlanDays is how long a workflow-opened payment plan gives the
// customer to settle.
const paymentPlanDays = 14

func (e *Engine) record(ctx context.Context, inst Instance, activity ledger.Activity, at time.Time, result string) (string, error) {
	activity.CustomerID = inst.CustomerID
	activity.InvoiceID = inst.InvoiceID
	activity.At = at
	activity.PerformedBy = performedBy
	if _, err := e.ledger.AppendActivity(ctx, activity); err != nil {
		return "", fmt.Errorf("workflow: record activity: %w", err)
	}
	return result, nil
}
