package wallet

import "time"

// LedgerEntry is an immutable append-only money movement for one user.
//
// Money invariants:
// - Any balance change MUST have a corresponding ledger entry.
// - Entries are never updated or deleted.
// - AmountMinor is signed: credits positive, debits negative.
type LedgerEntry struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Type EntryType `json:"type" db:"type"`

	// AmountMinor is the signed amount in minor units (e.g., cents).
	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`

	// ExternalRef ties the entry to its cause: call_id, payment_id, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is required for safe retries of money-posting operations.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	// Metadata is optional JSON for audit/debug.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryType string

const (
	EntryTypeCredit EntryType = "credit" // top-up, refund
	EntryTypeDebit  EntryType = "debit"  // call charge
)

// Balance is the projection row derived from the ledger.
type Balance struct {
	UserID       string    `json:"user_id"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	UpdatedAt    time.Time `json:"updated_at"`
}
