package calls

import (
	"context"
	"errors"
	"time"

	"callflow-platform/internal/events"
)

var (
	ErrNotFound        = errors.New("call not found")
	ErrAlreadyExists   = errors.New("call already exists")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Store is the durable keyed storage for call sessions and their append-only
// event logs. It is the sole source of truth; any in-memory registry of
// active calls is a derived cache and must never be relied upon for
// correctness.
//
// Mutations that back idempotency guards (SetAnsweredBy, ConsumeAdminDecision,
// MarkBilled) are compare-and-set: concurrent or redelivered callbacks observe
// a false/empty result instead of applying twice.
type Store interface {
	events.Appender

	Create(ctx context.Context, s CallSession) error
	Get(ctx context.Context, callID string) (CallSession, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]CallSession, error)
	ListAll(ctx context.Context, limit int) ([]CallSession, error)

	UpdateStatus(ctx context.Context, callID string, status Status) error
	SetProviderCallID(ctx context.Context, callID, providerCallID string) error

	// SetAnsweredBy records the AMD classification. Only the first write for
	// a call wins; returns false when a classification was already present.
	SetAnsweredBy(ctx context.Context, callID string, by AnsweredBy) (bool, error)

	SetOTP(ctx context.Context, callID, code string) error

	SetAdminDecision(ctx context.Context, callID string, d Decision) error

	// ConsumeAdminDecision atomically reads and clears the pending decision.
	// Returns "" when none is pending. A decision is consumed exactly once.
	ConsumeAdminDecision(ctx context.Context, callID string) (Decision, error)

	// MarkBilled flips the terminal-billing guard. Returns false when the
	// call was already reconciled; callers must then skip money movement.
	MarkBilled(ctx context.Context, callID string) (bool, error)

	// ApplyBillingOutcome persists the reconciliation result computed by the
	// billing ledger. Only meaningful after a successful MarkBilled.
	ApplyBillingOutcome(ctx context.Context, callID string, o BillingOutcome) error

	// SetEnded records the terminal status, observed duration and end time.
	SetEnded(ctx context.Context, callID string, status Status, durationSeconds int, endedAt time.Time) error

	SetRecordingURL(ctx context.Context, callID, url string) error
}

// BillingOutcome is the persisted shape of a terminal reconciliation.
type BillingOutcome struct {
	AdditionalMinor int64
	RefundMinor     int64
	TotalMinor      int64
	BillingStatus   BillingStatus
}
