package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callflow-platform/internal/events"
	"callflow-platform/internal/telephony"
	"callflow-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrAccessDenied        = errors.New("access denied")
	ErrSpoofNotAllowed     = errors.New("spoofing not permitted for user")
	ErrTooManyActiveCalls  = errors.New("too many active calls")
	ErrInitiationFailed    = errors.New("call initiation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Biller is the subset of the billing service the creation path needs.
// Defined here so billing can depend on this package without a cycle.
type Biller interface {
	ChargeCreation(ctx context.Context, userID, callID string, ratePerMinuteMinor int64) error
	RollbackCreation(ctx context.Context, userID, callID string, ratePerMinuteMinor int64) error
}

// ServiceConfig carries the policy knobs for the call service.
type ServiceConfig struct {
	PublicBaseURL  string
	CallRateMinor  int64
	SpoofRateMinor int64

	// MaxConcurrentCalls caps in-flight calls per user; 0 disables the cap.
	MaxConcurrentCalls int

	// SlotTTL bounds leaked concurrency slots; should exceed the gateway's
	// maximum call duration.
	SlotTTL time.Duration
}

// Service owns the session lifecycle outside the webhook flow: creation,
// lookup, operator hangup, and the admin decision gate.
type Service struct {
	store    Store
	registry *Registry
	biller   Biller
	log      *events.Log
	gateway  telephony.Gateway
	rdb      *redis.Client
	cfg      ServiceConfig
	clock    func() time.Time
	logger   *slog.Logger

	// insufficientErr is the biller's sentinel for a balance too low to
	// cover the first minute.
	insufficientErr error
}

func NewService(store Store, registry *Registry, biller Biller, insufficientErr error, log *events.Log, gateway telephony.Gateway, rdb *redis.Client, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:           store,
		registry:        registry,
		biller:          biller,
		insufficientErr: insufficientErr,
		log:             log,
		gateway:         gateway,
		rdb:             rdb,
		cfg:             cfg,
		clock:           time.Now,
		logger:          logger,
	}
}

// StartRequest is a fully-resolved call creation: prompts are already
// rendered, permissions already extracted from the caller's identity.
type StartRequest struct {
	UserID       string
	SpoofAllowed bool

	FromNumber    string
	ToNumber      string
	RecipientName string
	ServiceName   string
	CallType      CallType

	Prompts PromptSet
}

// Start charges one optimistic minute, persists the session, and places the
// outbound call. The charge precedes the dial; if the dial itself fails, the
// charge is rolled back and the session is closed as failed/refunded so the
// caller sees an atomic reject-or-ringing outcome.
func (s *Service) Start(ctx context.Context, req StartRequest) (CallSession, error) {
	if err := validateStart(req); err != nil {
		return CallSession{}, err
	}
	if req.CallType == CallTypeSpoof && !req.SpoofAllowed {
		return CallSession{}, ErrSpoofNotAllowed
	}

	rate := s.cfg.CallRateMinor
	if req.CallType == CallTypeSpoof {
		rate = s.cfg.SpoofRateMinor
	}

	callID := uuid.NewString()
	now := s.clock().UTC()

	slotKey, err := s.acquireSlot(ctx, req.UserID)
	if err != nil {
		return CallSession{}, err
	}

	if err := s.biller.ChargeCreation(ctx, req.UserID, callID, rate); err != nil {
		s.releaseSlot(ctx, slotKey)
		if s.insufficientErr != nil && errors.Is(err, s.insufficientErr) {
			return CallSession{}, ErrInsufficientBalance
		}
		return CallSession{}, err
	}

	sess := CallSession{
		CallID:             callID,
		UserID:             req.UserID,
		FromNumber:         req.FromNumber,
		ToNumber:           req.ToNumber,
		RecipientName:      req.RecipientName,
		ServiceName:        req.ServiceName,
		CallType:           req.CallType,
		Status:             StatusInitiated,
		Prompts:            req.Prompts,
		RatePerMinuteMinor: rate,
		ChargedMinor:       rate,
		MinutesCharged:     1,
		TotalMinor:         rate,
		BillingStatus:      BillingStatusCharged,
		CreatedAt:          now,
	}

	if err := s.store.Create(ctx, sess); err != nil {
		s.undoCreation(ctx, sess, slotKey)
		return CallSession{}, fmt.Errorf("create call record: %w", err)
	}

	placed, err := s.gateway.PlaceCall(ctx, telephony.PlaceCallRequest{
		FromNumber:        req.FromNumber,
		ToNumber:          req.ToNumber,
		CallbackURL:       CallbackURL(s.cfg.PublicBaseURL, callID, ""),
		StatusCallbackURL: CallbackURL(s.cfg.PublicBaseURL, callID, "status"),
		Record:            true,
		MachineDetection:  true,
	})
	if err != nil {
		s.logger.Error("outbound call initiation failed", "call_id", callID, "err", err)
		s.closeFailedInitiation(ctx, sess, slotKey)
		return CallSession{}, fmt.Errorf("%w: %v", ErrInitiationFailed, err)
	}

	if err := s.store.SetProviderCallID(ctx, callID, placed.ProviderCallID); err != nil {
		s.logger.Warn("persist provider call id failed", "call_id", callID, "err", err)
	}
	sess.ProviderCallID = placed.ProviderCallID

	if s.registry != nil {
		if err := s.registry.Put(ctx, ActiveCall{
			CallID:   callID,
			UserID:   req.UserID,
			ToNumber: req.ToNumber,
			Status:   StatusInitiated,
			CallType: req.CallType,
		}); err != nil {
			s.logger.Warn("active-call registry put failed", "call_id", callID, "err", err)
		}
	}

	s.record(ctx, req.UserID, events.NewCallInitiated(callID, s.gateway.Name()))
	return sess, nil
}

// Get returns a session, enforcing owner-or-admin visibility.
func (s *Service) Get(ctx context.Context, callID, requesterID string, isAdmin bool) (CallSession, error) {
	sess, err := s.store.Get(ctx, callID)
	if err != nil {
		return CallSession{}, err
	}
	if !isAdmin && sess.UserID != requesterID {
		return CallSession{}, ErrAccessDenied
	}
	return sess, nil
}

// History lists sessions newest first. Admins see every call.
func (s *Service) History(ctx context.Context, requesterID string, isAdmin bool, limit int) ([]CallSession, error) {
	if isAdmin {
		return s.store.ListAll(ctx, limit)
	}
	return s.store.ListByUser(ctx, requesterID, limit)
}

// Hangup asks the gateway to terminate an in-flight call. The session stays
// open until the gateway's own terminal callback lands; billing happens
// there, not here.
func (s *Service) Hangup(ctx context.Context, callID, requesterID string, isAdmin bool) error {
	sess, err := s.Get(ctx, callID, requesterID, isAdmin)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return nil
	}
	if sess.ProviderCallID != "" {
		if err := s.gateway.HangupCall(ctx, sess.ProviderCallID); err != nil {
			s.logger.Warn("gateway hangup failed", "call_id", callID, "err", err)
		}
	}
	s.record(ctx, sess.UserID, events.NewHangupRequested(callID, requesterID))
	return nil
}

// Decide writes the admin decision gate. The value is consumed (and cleared)
// by the wait node's next poll; each write is acted on at most once.
func (s *Service) Decide(ctx context.Context, callID string, d Decision, actorUserID string, isAdmin bool) error {
	if !d.Valid() {
		return ErrInvalidArgument
	}
	sess, err := s.Get(ctx, callID, actorUserID, isAdmin)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return fmt.Errorf("%w: call already ended", ErrInvalidArgument)
	}
	if err := s.store.SetAdminDecision(ctx, callID, d); err != nil {
		return err
	}
	if d == DecisionAccept {
		s.record(ctx, sess.UserID, events.NewAdminAccepted(callID, actorUserID))
	} else {
		s.record(ctx, sess.UserID, events.NewAdminDenied(callID, actorUserID))
	}
	return nil
}

// ReleaseResources drops the derived registry entry and concurrency slot for
// a call that reached a terminal state. Called by the flow controller.
func (s *Service) ReleaseResources(ctx context.Context, sess CallSession) {
	if s.registry != nil {
		if err := s.registry.Remove(ctx, sess.CallID); err != nil {
			s.logger.Warn("active-call registry remove failed", "call_id", sess.CallID, "err", err)
		}
	}
	s.releaseSlot(ctx, slotKeyFor(sess.UserID))
}

func (s *Service) acquireSlot(ctx context.Context, userID string) (string, error) {
	if s.cfg.MaxConcurrentCalls <= 0 || s.rdb == nil {
		return "", nil
	}
	key := slotKeyFor(userID)
	ttl := s.cfg.SlotTTL
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	ok, err := utils.AcquireCallSlot(ctx, s.rdb, key, s.cfg.MaxConcurrentCalls, ttl)
	if err != nil {
		// The cap is a protection, not a correctness gate; fail open.
		s.logger.Warn("call slot acquire failed, proceeding", "user_id", userID, "err", err)
		return "", nil
	}
	if !ok {
		return "", ErrTooManyActiveCalls
	}
	return key, nil
}

func (s *Service) releaseSlot(ctx context.Context, key string) {
	if key == "" || s.rdb == nil || s.cfg.MaxConcurrentCalls <= 0 {
		return
	}
	if err := utils.ReleaseCallSlot(ctx, s.rdb, key); err != nil {
		s.logger.Warn("call slot release failed", "key", key, "err", err)
	}
}

func (s *Service) undoCreation(ctx context.Context, sess CallSession, slotKey string) {
	if err := s.biller.RollbackCreation(ctx, sess.UserID, sess.CallID, sess.RatePerMinuteMinor); err != nil {
		s.logger.Error("creation rollback failed", "call_id", sess.CallID, "err", err)
	}
	s.releaseSlot(ctx, slotKey)
}

// closeFailedInitiation settles a session whose outbound dial never went
// through: refund the optimistic charge and close the record so a stray
// terminal callback cannot re-bill it.
func (s *Service) closeFailedInitiation(ctx context.Context, sess CallSession, slotKey string) {
	if err := s.biller.RollbackCreation(ctx, sess.UserID, sess.CallID, sess.RatePerMinuteMinor); err != nil {
		s.logger.Error("initiation refund failed", "call_id", sess.CallID, "err", err)
	}
	if won, err := s.store.MarkBilled(ctx, sess.CallID); err != nil {
		s.logger.Error("initiation billing guard failed", "call_id", sess.CallID, "err", err)
	} else if won {
		if err := s.store.ApplyBillingOutcome(ctx, sess.CallID, BillingOutcome{
			RefundMinor:   sess.ChargedMinor,
			TotalMinor:    0,
			BillingStatus: BillingStatusRefunded,
		}); err != nil {
			s.logger.Error("initiation billing outcome failed", "call_id", sess.CallID, "err", err)
		}
	}
	if err := s.store.SetEnded(ctx, sess.CallID, StatusFailed, 0, s.clock().UTC()); err != nil {
		s.logger.Error("initiation close failed", "call_id", sess.CallID, "err", err)
	}
	s.record(ctx, sess.UserID, events.NewBillingRefunded(sess.CallID, sess.ChargedMinor))
	s.releaseSlot(ctx, slotKey)
}

func (s *Service) record(ctx context.Context, userID string, e events.Event) {
	if s.log == nil {
		return
	}
	if err := s.log.Record(ctx, userID, e); err != nil {
		s.logger.Warn("event append failed", "call_id", e.CallID, "kind", string(e.Kind), "err", err)
	}
}

func validateStart(req StartRequest) error {
	if req.UserID == "" {
		return ErrInvalidArgument
	}
	if strings.TrimSpace(req.FromNumber) == "" || strings.TrimSpace(req.ToNumber) == "" {
		return ErrInvalidArgument
	}
	switch req.CallType {
	case CallTypeOTP, CallTypeCustom, CallTypeSpoof:
	default:
		return ErrInvalidArgument
	}
	p := req.Prompts
	if p.Step1 == "" || p.Step2 == "" || p.Step3 == "" || p.Accepted == "" || p.Rejected == "" {
		return ErrInvalidArgument
	}
	if p.DigitsRequired < 1 || p.DigitsRequired > 10 {
		return ErrInvalidArgument
	}
	return nil
}

func slotKeyFor(userID string) string {
	return "call_slots:" + userID
}

// CallbackURL builds the absolute webhook URL for a flow node. An empty node
// addresses the initial callback.
func CallbackURL(baseURL, callID, node string) string {
	u := strings.TrimRight(baseURL, "/") + "/webhooks/voice/" + callID
	if node != "" {
		u += "/" + node
	}
	return u
}
