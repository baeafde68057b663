package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callflow-platform/internal/events"
)

// PostgresStore persists call sessions in two tables:
//
//	call_sessions  keyed by call_id, one row per session
//	call_events    INSERT-only child table ordered by seq
//
// Idempotency guards are plain guarded UPDATEs (UPDATE ... WHERE guard) so a
// redelivered callback observes RowsAffected == 0 instead of applying twice.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const callColumns = `call_id, user_id, from_number, to_number, recipient_name, service_name,
	call_type, status, provider_call_id, prompts, answered_by, admin_decision, otp_code,
	rate_per_minute_minor, charged_minor, minutes_charged, additional_minor, refund_minor,
	total_minor, billing_status, billing_reconciled, duration_seconds, recording_url,
	created_at, ended_at`

func (p *PostgresStore) Create(ctx context.Context, s CallSession) error {
	if s.CallID == "" {
		return ErrInvalidArgument
	}
	prompts, err := json.Marshal(s.Prompts)
	if err != nil {
		return fmt.Errorf("marshal prompts: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO call_sessions (`+callColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		s.CallID, s.UserID, s.FromNumber, s.ToNumber, s.RecipientName, s.ServiceName,
		string(s.CallType), string(s.Status), nullable(s.ProviderCallID), string(prompts),
		nullable(string(s.AnsweredBy)), nullable(string(s.AdminDecision)), nullable(s.OTPCode),
		s.RatePerMinuteMinor, s.ChargedMinor, s.MinutesCharged, s.AdditionalMinor, s.RefundMinor,
		s.TotalMinor, string(s.BillingStatus), s.BillingReconciled, s.DurationSeconds,
		nullable(s.RecordingURL), s.CreatedAt, s.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, callID string) (CallSession, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM call_sessions WHERE call_id = $1`, callID)
	s, err := scanCall(row)
	if err != nil {
		return CallSession{}, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, kind, message, data, time FROM call_events
		WHERE call_id = $1 ORDER BY seq ASC`, callID)
	if err != nil {
		return CallSession{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e events.Event
		var data sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &e.Message, &data, &e.Time); err != nil {
			return CallSession{}, fmt.Errorf("scan event: %w", err)
		}
		e.CallID = callID
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return CallSession{}, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		s.Events = append(s.Events, e)
	}
	return s, rows.Err()
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]CallSession, error) {
	return p.list(ctx, `SELECT `+callColumns+` FROM call_sessions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, listLimit(limit))
}

func (p *PostgresStore) ListAll(ctx context.Context, limit int) ([]CallSession, error) {
	return p.list(ctx, `SELECT `+callColumns+` FROM call_sessions ORDER BY created_at DESC LIMIT $1`, listLimit(limit))
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...any) ([]CallSession, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()
	var out []CallSession
	for rows.Next() {
		s, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, callID string, status Status) error {
	return p.exec(ctx, `UPDATE call_sessions SET status = $2 WHERE call_id = $1`, callID, string(status))
}

func (p *PostgresStore) SetProviderCallID(ctx context.Context, callID, providerCallID string) error {
	return p.exec(ctx, `UPDATE call_sessions SET provider_call_id = $2 WHERE call_id = $1`, callID, providerCallID)
}

func (p *PostgresStore) SetAnsweredBy(ctx context.Context, callID string, by AnsweredBy) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE call_sessions SET answered_by = $2
		WHERE call_id = $1 AND answered_by IS NULL`, callID, string(by))
	if err != nil {
		return false, fmt.Errorf("set answered_by: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish "guard lost" from "no such call".
		if _, err := p.Get(ctx, callID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) SetOTP(ctx context.Context, callID, code string) error {
	return p.exec(ctx, `UPDATE call_sessions SET otp_code = $2 WHERE call_id = $1`, callID, code)
}

func (p *PostgresStore) SetAdminDecision(ctx context.Context, callID string, d Decision) error {
	if !d.Valid() {
		return ErrInvalidArgument
	}
	return p.exec(ctx, `UPDATE call_sessions SET admin_decision = $2 WHERE call_id = $1`, callID, string(d))
}

func (p *PostgresStore) ConsumeAdminDecision(ctx context.Context, callID string) (Decision, error) {
	var d sql.NullString
	err := p.db.QueryRowContext(ctx, `
		UPDATE call_sessions c SET admin_decision = NULL
		FROM (SELECT call_id, admin_decision FROM call_sessions WHERE call_id = $1 FOR UPDATE) old
		WHERE c.call_id = old.call_id
		RETURNING old.admin_decision`, callID).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume admin decision: %w", err)
	}
	if !d.Valid {
		return "", nil
	}
	return Decision(d.String), nil
}

func (p *PostgresStore) MarkBilled(ctx context.Context, callID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE call_sessions SET billing_reconciled = TRUE
		WHERE call_id = $1 AND billing_reconciled = FALSE`, callID)
	if err != nil {
		return false, fmt.Errorf("mark billed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := p.Get(ctx, callID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) ApplyBillingOutcome(ctx context.Context, callID string, o BillingOutcome) error {
	return p.exec(ctx, `
		UPDATE call_sessions
		SET additional_minor = $2, refund_minor = $3, total_minor = $4, billing_status = $5
		WHERE call_id = $1`,
		callID, o.AdditionalMinor, o.RefundMinor, o.TotalMinor, string(o.BillingStatus))
}

func (p *PostgresStore) SetEnded(ctx context.Context, callID string, status Status, durationSeconds int, endedAt time.Time) error {
	return p.exec(ctx, `
		UPDATE call_sessions SET status = $2, duration_seconds = $3, ended_at = $4
		WHERE call_id = $1`,
		callID, string(status), durationSeconds, endedAt)
}

func (p *PostgresStore) SetRecordingURL(ctx context.Context, callID, url string) error {
	return p.exec(ctx, `UPDATE call_sessions SET recording_url = $2 WHERE call_id = $1`, callID, url)
}

func (p *PostgresStore) AppendEvent(ctx context.Context, e events.Event) error {
	var data any
	if len(e.Data) > 0 {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		data = string(b)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO call_events (id, call_id, kind, message, data, time)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.CallID, string(e.Kind), e.Message, data, e.Time)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (p *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(r rowScanner) (CallSession, error) {
	var s CallSession
	var callType, status, billingStatus string
	var providerCallID, answeredBy, adminDecision, otpCode, recordingURL sql.NullString
	var prompts string
	var endedAt sql.NullTime

	err := r.Scan(
		&s.CallID, &s.UserID, &s.FromNumber, &s.ToNumber, &s.RecipientName, &s.ServiceName,
		&callType, &status, &providerCallID, &prompts, &answeredBy, &adminDecision, &otpCode,
		&s.RatePerMinuteMinor, &s.ChargedMinor, &s.MinutesCharged, &s.AdditionalMinor, &s.RefundMinor,
		&s.TotalMinor, &billingStatus, &s.BillingReconciled, &s.DurationSeconds, &recordingURL,
		&s.CreatedAt, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, ErrNotFound
	}
	if err != nil {
		return CallSession{}, fmt.Errorf("scan call: %w", err)
	}

	s.CallType = CallType(callType)
	s.Status = Status(status)
	s.BillingStatus = BillingStatus(billingStatus)
	s.ProviderCallID = providerCallID.String
	s.AnsweredBy = AnsweredBy(answeredBy.String)
	s.AdminDecision = Decision(adminDecision.String)
	s.OTPCode = otpCode.String
	s.RecordingURL = recordingURL.String
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(prompts), &s.Prompts); err != nil {
		return CallSession{}, fmt.Errorf("unmarshal prompts: %w", err)
	}
	return s, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
