package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"callflow-platform/internal/calls"
	"callflow-platform/internal/events"
	"callflow-platform/internal/wallet"
)

var (
	ErrInsufficientBalance = errors.New("billing: insufficient balance")
	ErrAlreadyBilled       = errors.New("billing: terminal billing already applied")
)

// Service moves money for call sessions. All movements are posted through
// the wallet ledger with call-scoped idempotency keys, so gateway redelivery
// and process retries never double-charge.
type Service struct {
	store    calls.Store
	wallets  *wallet.Service
	log      *events.Log
	currency string
	logger   *slog.Logger
}

func NewService(store calls.Store, wallets *wallet.Service, log *events.Log, currency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, wallets: wallets, log: log, currency: currency, logger: logger}
}

// ChargeCreation posts the optimistic one-minute charge before the outbound
// call is placed. Returns ErrInsufficientBalance without moving money when
// the user cannot cover one minute.
func (s *Service) ChargeCreation(ctx context.Context, userID, callID string, ratePerMinuteMinor int64) error {
	bal, err := s.wallets.Balance(ctx, userID)
	if err != nil {
		return fmt.Errorf("billing: balance lookup: %w", err)
	}
	if bal.BalanceMinor < ratePerMinuteMinor {
		return ErrInsufficientBalance
	}
	_, _, err = s.wallets.Debit(ctx, userID, wallet.PostRequest{
		AmountMinor:    ratePerMinuteMinor,
		Currency:       s.currency,
		ExternalRef:    callID,
		IdempotencyKey: callID + ":initial",
	})
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		return ErrInsufficientBalance
	}
	if err != nil {
		return fmt.Errorf("billing: initial charge: %w", err)
	}
	return nil
}

// RollbackCreation refunds the optimistic charge when outbound call
// initiation itself fails. The session never rang; the caller must not pay.
func (s *Service) RollbackCreation(ctx context.Context, userID, callID string, ratePerMinuteMinor int64) error {
	_, _, err := s.wallets.Credit(ctx, userID, wallet.PostRequest{
		AmountMinor:    ratePerMinuteMinor,
		Currency:       s.currency,
		ExternalRef:    callID,
		IdempotencyKey: callID + ":initiation-refund",
	})
	if err != nil {
		return fmt.Errorf("billing: initiation rollback: %w", err)
	}
	return nil
}

// ApplyTerminal reconciles a terminal status against the up-front charge,
// exactly once per call. Redelivered terminal callbacks observe the guard
// and return ErrAlreadyBilled with no money movement.
func (s *Service) ApplyTerminal(ctx context.Context, callID string, terminal calls.Status, durationSeconds int) (Outcome, error) {
	sess, err := s.store.Get(ctx, callID)
	if err != nil {
		return Outcome{}, err
	}

	won, err := s.store.MarkBilled(ctx, callID)
	if err != nil {
		return Outcome{}, err
	}
	if !won {
		return Outcome{}, ErrAlreadyBilled
	}

	out := Reconcile(sess, terminal, durationSeconds)

	if out.RefundMinor > 0 {
		_, _, err := s.wallets.Credit(ctx, sess.UserID, wallet.PostRequest{
			AmountMinor:    out.RefundMinor,
			Currency:       s.currency,
			ExternalRef:    callID,
			IdempotencyKey: callID + ":refund",
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("billing: refund: %w", err)
		}
		s.record(ctx, sess.UserID, events.NewBillingRefunded(callID, out.RefundMinor))
	}

	if out.AdditionalMinor > 0 {
		_, _, err := s.wallets.Debit(ctx, sess.UserID, wallet.PostRequest{
			AmountMinor:    out.AdditionalMinor,
			Currency:       s.currency,
			ExternalRef:    callID,
			IdempotencyKey: callID + ":reconcile",
		})
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			// The balance is never driven negative. Keep the call at the
			// up-front charge and leave a warning in the audit trail.
			bal, balErr := s.wallets.Balance(ctx, sess.UserID)
			if balErr != nil {
				s.logger.Warn("billing: balance lookup after skipped charge failed", "call_id", callID, "err", balErr)
			}
			s.logger.Warn("billing: additional charge skipped, balance too low",
				"call_id", callID, "wanted_minor", out.AdditionalMinor, "balance_minor", bal.BalanceMinor)
			s.record(ctx, sess.UserID, events.NewBillingSkipped(callID, out.AdditionalMinor, bal.BalanceMinor))
			out.AdditionalMinor = 0
			out.TotalMinor = sess.ChargedMinor
		} else if err != nil {
			return Outcome{}, fmt.Errorf("billing: additional charge: %w", err)
		}
	}

	if err := s.store.ApplyBillingOutcome(ctx, callID, calls.BillingOutcome{
		AdditionalMinor: out.AdditionalMinor,
		RefundMinor:     out.RefundMinor,
		TotalMinor:      out.TotalMinor,
		BillingStatus:   out.BillingStatus,
	}); err != nil {
		return Outcome{}, fmt.Errorf("billing: persist outcome: %w", err)
	}

	if out.BillingStatus != calls.BillingStatusRefunded {
		s.record(ctx, sess.UserID, events.NewBillingApplied(callID, out.ActualMinutes, out.AdditionalMinor, out.TotalMinor))
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, userID string, e events.Event) {
	if s.log == nil {
		return
	}
	if err := s.log.Record(ctx, userID, e); err != nil {
		s.logger.Warn("billing: event append failed", "call_id", e.CallID, "kind", string(e.Kind), "err", err)
	}
}
