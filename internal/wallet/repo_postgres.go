package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"callflow-platform/pkg/utils"
)

// PostgresRepo stores the ledger in wallet_ledger and a balance projection
// in wallet_balances. The projection row is locked FOR UPDATE so the
// idempotency check, the funds check, and the write are one atomic unit.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Apply(ctx context.Context, e LedgerEntry) (LedgerEntry, Balance, bool, error) {
	var outEntry LedgerEntry
	var outBal Balance
	var applied bool

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		bal, err := balanceForUpdate(ctx, tx, e.UserID)
		if err != nil {
			return err
		}
		if bal.Currency != e.Currency {
			return ErrInvalidArgument
		}

		existing, ok, err := findByIdempotency(ctx, tx, e.UserID, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if ok {
			outEntry = existing
			outBal = bal
			applied = false
			return nil
		}

		if bal.BalanceMinor+e.AmountMinor < 0 {
			return ErrInsufficientFunds
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO wallet_ledger (id, user_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.UserID, string(e.Type), e.AmountMinor, e.Currency,
			nullable(e.ExternalRef), e.IdempotencyKey, nullable(e.Metadata), e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE wallet_balances
			SET balance_minor = balance_minor + $2, updated_at = $3
			WHERE user_id = $1
			RETURNING balance_minor, updated_at`,
			e.UserID, e.AmountMinor, e.CreatedAt).Scan(&bal.BalanceMinor, &bal.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update balance projection: %w", err)
		}

		outEntry = e
		outBal = bal
		applied = true
		return nil
	})
	if err != nil {
		return LedgerEntry{}, Balance{}, false, err
	}
	return outEntry, outBal, applied, nil
}

func (r *PostgresRepo) Balance(ctx context.Context, userID string) (Balance, error) {
	var b Balance
	b.UserID = userID
	err := r.db.QueryRowContext(ctx, `
		SELECT currency, balance_minor, updated_at FROM wallet_balances WHERE user_id = $1`,
		userID).Scan(&b.Currency, &b.BalanceMinor, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Balance{}, ErrNotFound
	}
	if err != nil {
		return Balance{}, fmt.Errorf("query balance: %w", err)
	}
	return b, nil
}

func balanceForUpdate(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	var b Balance
	b.UserID = userID
	err := tx.QueryRowContext(ctx, `
		SELECT currency, balance_minor, updated_at FROM wallet_balances
		WHERE user_id = $1 FOR UPDATE`,
		userID).Scan(&b.Currency, &b.BalanceMinor, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Balance{}, ErrNotFound
	}
	if err != nil {
		return Balance{}, fmt.Errorf("lock balance: %w", err)
	}
	return b, nil
}

func findByIdempotency(ctx context.Context, tx *sql.Tx, userID, key string) (LedgerEntry, bool, error) {
	var e LedgerEntry
	var entryType string
	var externalRef, metadata sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
		FROM wallet_ledger WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key).Scan(&e.ID, &e.UserID, &entryType, &e.AmountMinor, &e.Currency,
		&externalRef, &e.IdempotencyKey, &metadata, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LedgerEntry{}, false, nil
	}
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("query ledger by idempotency key: %w", err)
	}
	e.Type = EntryType(entryType)
	e.ExternalRef = externalRef.String
	e.Metadata = metadata.String
	return e, true, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
