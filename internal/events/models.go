package events

import "time"

// Event is one immutable entry in a call session's append-only log.
//
// Invariants:
// - Events are never updated, removed, or reordered.
// - The log is the single audit source for both the call-history view and
//   the billing trail.
//
// Storage recommendation (Postgres):
// - Table call_events keyed by (call_id, created order), INSERT-only.
type Event struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	Kind Kind `json:"kind" db:"kind"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Data carries the kind-specific payload. Each Kind has a fixed field
	// set; use the New* constructors instead of building maps by hand.
	Data map[string]any `json:"data,omitempty" db:"data"`

	Time time.Time `json:"time" db:"time"`
}

// Kind is the closed set of event variants. Adding a kind means adding a
// constructor below so the payload shape stays fixed.
type Kind string

const (
	KindCallInitiated      Kind = "call_initiated"
	KindStatusChanged      Kind = "status_changed"
	KindAMDResult          Kind = "amd_result"
	KindFirstInputReceived Kind = "first_input_received"
	KindInvalidInput       Kind = "invalid_input"
	KindOTPReceived        Kind = "otp_received"
	KindOTPRetry           Kind = "otp_retry"
	KindAdminAccepted      Kind = "admin_accepted"
	KindAdminDenied        Kind = "admin_denied"
	KindHangupRequested    Kind = "hangup_requested"
	KindBillingApplied     Kind = "billing_applied"
	KindBillingRefunded    Kind = "billing_refunded"
	KindBillingSkipped     Kind = "billing_skipped"
	KindCallTerminated     Kind = "call_terminated"
	KindRecordingAvailable Kind = "recording_available"
)

func NewCallInitiated(callID, provider string) Event {
	return Event{
		CallID:  callID,
		Kind:    KindCallInitiated,
		Message: "outbound call placed",
		Data:    map[string]any{"provider": provider},
	}
}

func NewStatusChanged(callID, from, to string) Event {
	return Event{
		CallID:  callID,
		Kind:    KindStatusChanged,
		Message: "call status changed",
		Data:    map[string]any{"from": from, "to": to},
	}
}

func NewAMDResult(callID, answeredBy string) Event {
	return Event{
		CallID:  callID,
		Kind:    KindAMDResult,
		Message: "answering classification received",
		Data:    map[string]any{"answered_by": answeredBy},
	}
}

func NewFirstInputReceived(callID, digit string) Event {
	return Event{
		CallID:  callID,
		Kind:    KindFirstInputReceived,
		Message: "first menu digit received",
		Data:    map[string]any{"digit": digit},
	}
}

func NewInvalidInput(callID, digits string, retried bool) Event {
	return Event{
		CallID:  callID,
		Kind:    KindInvalidInput,
		Message: "unexpected caller input",
		Data:    map[string]any{"digits": digits, "retried": retried},
	}
}

func NewOTPReceived(callID, code string) Event {
	return Event{
		CallID:  callID,
		Kind:    KindOTPReceived,
		Message: "passcode captured",
		Data:    map[string]any{"otp": code},
	}
}

func NewOTPRetry(callID string, got, want int) Event {
	return Event{
		CallID:  callID,
		Kind:    KindOTPRetry,
		Message: "passcode length mismatch, re-prompting",
		Data:    map[string]any{"got": got, "want": want},
	}
}

func NewAdminAccepted(callID, actorUserID string) Event {
	return Event{
		CallID:  callID,
		Kind:    KindAdminAccepted,
		Message: "passcode accepted by operator",
		Data:    map[string]any{"decision": "accept", "actor_user_id": actorUserID},
	}
}

func NewAdminDenied(callID, actorUserID string) Event {
	return Event{
		CallID:  callID,
		Kind:    KindAdminDenied,
		Message: "passcode denied by operator",
		Data:    map[string]any{"decision": "deny", "actor_user_id": actorUserID},
	}
}

func NewBillingApplied(callID string, minutes int, additionalMinor, totalMinor int64) Event {
	return Event{
		CallID:  callID,
		Kind:    KindBillingApplied,
		Message: "terminal billing reconciled",
		Data: map[string]any{
			"minutes":          minutes,
			"additional_minor": additionalMinor,
			"total_minor":      totalMinor,
		},
	}
}

func NewBillingRefunded(callID string, refundMinor int64) Event {
	return Event{
		CallID:  callID,
		Kind:    KindBillingRefunded,
		Message: "optimistic charge refunded",
		Data:    map[string]any{"refund_minor": refundMinor},
	}
}

func NewBillingSkipped(callID string, wantedMinor, balanceMinor int64) Event {
	return Event{
		CallID:  callID,
		Kind:    KindBillingSkipped,
		Message: "additional charge skipped, balance too low",
		Data:    map[string]any{"wanted_minor": wantedMinor, "balance_minor": balanceMinor},
	}
}

func NewHangupRequested(callID, actorUserID string) Event {
	return Event{
		CallID:  callID,
		Kind:    KindHangupRequested,
		Message: "operator requested hangup",
		Data:    map[string]any{"actor_user_id": actorUserID},
	}
}

func NewCallTerminated(callID, finalStatus string, durationSeconds int) Event {
	return Event{
		CallID:  callID,
		Kind:    KindCallTerminated,
		Message: "call reached terminal state",
		Data:    map[string]any{"status": finalStatus, "duration_seconds": durationSeconds},
	}
}

func NewRecordingAvailable(callID, url string) Event {
	return Event{
		CallID:  callID,
		Kind:    KindRecordingAvailable,
		Message: "call recording available",
		Data:    map[string]any{"url": url},
	}
}
