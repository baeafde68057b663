package wallet

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests. Guard semantics mirror
// the Postgres implementation: idempotency replay, non-negative balance.
type MemoryRepo struct {
	mu       sync.Mutex
	balances map[string]*Balance
	entries  map[string][]LedgerEntry // by user
	byKey    map[string]LedgerEntry   // userID + "\x00" + idempotency key
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		balances: make(map[string]*Balance),
		entries:  make(map[string][]LedgerEntry),
		byKey:    make(map[string]LedgerEntry),
	}
}

// Seed sets a starting balance outside the ledger. Tests only.
func (r *MemoryRepo) Seed(userID, currency string, balanceMinor int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[userID] = &Balance{
		UserID:       userID,
		Currency:     currency,
		BalanceMinor: balanceMinor,
		UpdatedAt:    time.Now().UTC(),
	}
}

func (r *MemoryRepo) Apply(_ context.Context, e LedgerEntry) (LedgerEntry, Balance, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.balances[e.UserID]
	if !ok {
		return LedgerEntry{}, Balance{}, false, ErrNotFound
	}
	if b.Currency != e.Currency {
		return LedgerEntry{}, Balance{}, false, ErrInvalidArgument
	}

	key := e.UserID + "\x00" + e.IdempotencyKey
	if existing, ok := r.byKey[key]; ok {
		return existing, *b, false, nil
	}

	if b.BalanceMinor+e.AmountMinor < 0 {
		return LedgerEntry{}, Balance{}, false, ErrInsufficientFunds
	}

	b.BalanceMinor += e.AmountMinor
	b.UpdatedAt = e.CreatedAt
	r.entries[e.UserID] = append(r.entries[e.UserID], e)
	r.byKey[key] = e
	return e, *b, true, nil
}

func (r *MemoryRepo) Balance(_ context.Context, userID string) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.balances[userID]
	if !ok {
		return Balance{}, ErrNotFound
	}
	return *b, nil
}

// Entries returns a copy of a user's ledger, oldest first. Tests only.
func (r *MemoryRepo) Entries(userID string) []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LedgerEntry, len(r.entries[userID]))
	copy(out, r.entries[userID])
	return out
}
