package billing

import (
	"callflow-platform/internal/calls"
)

// Billing is optimistic-charge-then-reconcile: one minute is charged up
// front at call creation (actual duration is unknown until the terminal
// callback) and the difference is settled exactly once when the call ends.
//
// The functions here are pure; money movement happens in Service.

// BillableMinutes converts an observed duration to billed minutes:
// ceil(seconds/60), never less than one minute.
func BillableMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 1
	}
	m := (durationSeconds + 59) / 60
	if m < 1 {
		m = 1
	}
	return m
}

// Outcome is the result of reconciling a terminal status against the
// optimistic up-front charge.
type Outcome struct {
	// ActualMinutes is the ceil-rounded billable duration (completed only).
	ActualMinutes int

	// AdditionalMinor is the extra debit owed beyond the up-front charge.
	AdditionalMinor int64

	// RefundMinor is the credit owed back (failed calls refund in full).
	RefundMinor int64

	// TotalMinor is the final cost of the call.
	TotalMinor int64

	BillingStatus calls.BillingStatus
}

// Reconcile computes the settlement for a terminal status.
//
//	completed          charge the minutes beyond those already charged
//	failed             refund the full optimistic charge
//	busy | no_answer | canceled
//	                   keep the optimistic charge, nothing more
func Reconcile(s calls.CallSession, terminal calls.Status, durationSeconds int) Outcome {
	switch terminal {
	case calls.StatusCompleted:
		actual := BillableMinutes(durationSeconds)
		extra := actual - s.MinutesCharged
		if extra < 0 {
			extra = 0
		}
		additional := int64(extra) * s.RatePerMinuteMinor
		return Outcome{
			ActualMinutes:   actual,
			AdditionalMinor: additional,
			TotalMinor:      s.ChargedMinor + additional,
			BillingStatus:   calls.BillingStatusCharged,
		}
	case calls.StatusFailed:
		return Outcome{
			RefundMinor:   s.ChargedMinor,
			TotalMinor:    0,
			BillingStatus: calls.BillingStatusRefunded,
		}
	default:
		// busy, no_answer, canceled: the up-front minute is kept.
		return Outcome{
			TotalMinor:    s.ChargedMinor,
			BillingStatus: calls.BillingStatusCharged,
		}
	}
}
