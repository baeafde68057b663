package calls

import (
	"time"

	"callflow-platform/internal/events"
)

// CallSession is the durable document for one outbound interactive call.
//
// Lifecycle: created by the call-initiation path immediately before the
// outbound call is placed; mutated exclusively by flow callback handlers and
// the admin decision gate; never deleted by this service.
//
// Money invariant reminder: every billing field change must have a matching
// wallet ledger entry (external_ref = call_id).
type CallSession struct {
	CallID string `json:"call_id" db:"call_id"`
	UserID string `json:"user_id" db:"user_id"`

	FromNumber    string `json:"from_number" db:"from_number"`
	ToNumber      string `json:"to_number" db:"to_number"`
	RecipientName string `json:"recipient_name" db:"recipient_name"`
	ServiceName   string `json:"service_name" db:"service_name"`

	CallType CallType `json:"call_type" db:"call_type"`
	Status   Status   `json:"status" db:"status"`

	// ProviderCallID is the gateway's identifier, needed for operator hangup.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	// Prompts are rendered with substitution variables at creation time and
	// immutable afterwards.
	Prompts PromptSet `json:"prompts" db:"prompts"`

	// AnsweredBy is the gateway's answering-machine classification. Written
	// once on the first initial callback that carries it.
	AnsweredBy AnsweredBy `json:"answered_by,omitempty" db:"answered_by"`

	// AdminDecision is a write-once-then-cleared signal consumed by the wait
	// node. Empty means no pending decision.
	AdminDecision Decision `json:"admin_decision,omitempty" db:"admin_decision"`

	// OTPCode holds the captured digits once the gather succeeds.
	OTPCode string `json:"otp_code,omitempty" db:"otp_code"`

	Events []events.Event `json:"events" db:"-"`

	// Billing fields, minor units.
	RatePerMinuteMinor int64         `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`
	ChargedMinor       int64         `json:"charged_minor" db:"charged_minor"`
	MinutesCharged     int           `json:"minutes_charged" db:"minutes_charged"`
	AdditionalMinor    int64         `json:"additional_minor" db:"additional_minor"`
	RefundMinor        int64         `json:"refund_minor" db:"refund_minor"`
	TotalMinor         int64         `json:"total_minor" db:"total_minor"`
	BillingStatus      BillingStatus `json:"billing_status" db:"billing_status"`

	// BillingReconciled is the idempotency guard for the terminal-billing
	// transition. Set exactly once via compare-and-set; redelivered terminal
	// callbacks observe it and skip money movement.
	BillingReconciled bool `json:"billing_reconciled" db:"billing_reconciled"`

	DurationSeconds int    `json:"duration_seconds" db:"duration_seconds"`
	RecordingURL    string `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// PromptSet carries the five scripted messages plus the digit-count
// requirement for the passcode gather.
type PromptSet struct {
	Step1    string `json:"step1" yaml:"step1"`
	Step2    string `json:"step2" yaml:"step2"`
	Step3    string `json:"step3" yaml:"step3"`
	Accepted string `json:"accepted" yaml:"accepted"`
	Rejected string `json:"rejected" yaml:"rejected"`

	DigitsRequired int `json:"digits_required" yaml:"digits_required"`

	Voice    string `json:"voice,omitempty" yaml:"voice"`
	Language string `json:"language,omitempty" yaml:"language"`
}

type CallType string

const (
	CallTypeOTP    CallType = "otp"
	CallTypeCustom CallType = "custom"
	CallTypeSpoof  CallType = "spoof"
)

// Status is the call-flow lifecycle state. Transitions are driven entirely
// by gateway callbacks; handlers must tolerate out-of-order and duplicated
// delivery.
type Status string

const (
	StatusInitiated             Status = "initiated"
	StatusRinging               Status = "ringing"
	StatusAnswered              Status = "answered"
	StatusMenuPlayed            Status = "menu_played"
	StatusAwaitingFirstInput    Status = "awaiting_first_input"
	StatusAwaitingOTP           Status = "awaiting_otp"
	StatusOTPReceived           Status = "otp_received"
	StatusAwaitingAdminDecision Status = "awaiting_admin_decision"
	StatusAccepted              Status = "accepted"
	StatusDenyRetry             Status = "deny_retry"

	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "no_answer"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether s ends the session. Terminal states trigger
// billing reconciliation exactly once.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

type AnsweredBy string

const (
	AnsweredByHuman   AnsweredBy = "human"
	AnsweredByMachine AnsweredBy = "machine"
	AnsweredByFax     AnsweredBy = "fax"
	AnsweredByUnknown AnsweredBy = "unknown"
)

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionDeny   Decision = "deny"
)

func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionDeny
}

type BillingStatus string

const (
	BillingStatusPending  BillingStatus = "pending"
	BillingStatusCharged  BillingStatus = "charged"
	BillingStatusRefunded BillingStatus = "refunded"
)
