package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Repository is the atomic persistence contract for the money ledger.
//
// Apply must, in one atomic step: check the idempotency key, enforce a
// non-negative balance for debits, insert the ledger entry, and update the
// balance projection. On an idempotency replay it returns the original entry
// with applied == false and no balance change.
type Repository interface {
	Apply(ctx context.Context, e LedgerEntry) (entry LedgerEntry, bal Balance, applied bool, err error)
	Balance(ctx context.Context, userID string) (Balance, error)
}

// Service posts money movements.
//
// Money invariants:
// - No balance update without a ledger entry.
// - The ledger is append-only.
// - Balance never goes negative: debits fail with ErrInsufficientFunds.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

type PostRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

func (s *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return s.repo.Balance(ctx, userID)
}

// Credit posts a positive movement (top-up or refund).
func (s *Service) Credit(ctx context.Context, userID string, req PostRequest) (LedgerEntry, Balance, error) {
	if err := validatePost(userID, req); err != nil {
		return LedgerEntry{}, Balance{}, err
	}
	entry := LedgerEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           EntryTypeCredit,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		CreatedAt:      s.clock().UTC(),
	}
	e, b, _, err := s.repo.Apply(ctx, entry)
	return e, b, err
}

// Debit posts a negative movement (call charge). Fails with
// ErrInsufficientFunds rather than letting the balance go negative.
func (s *Service) Debit(ctx context.Context, userID string, req PostRequest) (LedgerEntry, Balance, error) {
	if err := validatePost(userID, req); err != nil {
		return LedgerEntry{}, Balance{}, err
	}
	entry := LedgerEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           EntryTypeDebit,
		AmountMinor:    -req.AmountMinor,
		Currency:       req.Currency,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		CreatedAt:      s.clock().UTC(),
	}
	e, b, _, err := s.repo.Apply(ctx, entry)
	return e, b, err
}

func validatePost(userID string, req PostRequest) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	if req.Currency == "" {
		return ErrInvalidArgument
	}
	if req.IdempotencyKey == "" {
		return ErrInvalidArgument
	}
	if req.AmountMinor <= 0 {
		return ErrInvalidArgument
	}
	return nil
}
