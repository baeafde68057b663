package flow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"callflow-platform/internal/billing"
	"callflow-platform/internal/calls"
	"callflow-platform/internal/events"
	"callflow-platform/internal/telephony"
	"callflow-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// lookupBackoff paces the re-reads tolerated for write/read lag between
// session creation and the gateway's first callback.
var lookupBackoff = []time.Duration{500 * time.Millisecond, time.Second, 1500 * time.Millisecond}

const (
	firstInputTimeoutSec = 10
	otpTimeoutSec        = 15

	apologyText     = "We are sorry, we could not find your session. Please hold."
	goodbyeText     = "We did not receive a valid input. Goodbye."
	otpGoodbyeText  = "The code entered was not valid. Goodbye."
	fallbackMessage = "We are sorry, an application error occurred. Goodbye."
)

// Controller drives a call through its state machine, one handler per
// gateway callback node. Handlers are idempotent: callbacks can be
// redelivered or arrive out of order, so every read-modify-write goes
// through the store's compare-and-set guards.
type Controller struct {
	store  calls.Store
	svc    *calls.Service
	biller *billing.Service
	log    *events.Log

	baseURL string
	logg    *slog.Logger

	// sleep is swapped out in tests so the lookup backoff does not wait.
	sleep func(time.Duration)
	clock func() time.Time
}

func NewController(store calls.Store, svc *calls.Service, biller *billing.Service, log *events.Log, baseURL string, logg *slog.Logger) *Controller {
	if logg == nil {
		logg = slog.Default()
	}
	return &Controller{
		store:   store,
		svc:     svc,
		biller:  biller,
		log:     log,
		baseURL: baseURL,
		logg:    logg,
		sleep:   time.Sleep,
		clock:   time.Now,
	}
}

// Recover wraps the webhook routes so a handler panic still answers the
// gateway with the apology script. An empty 500 would leave a live call with
// no document to play; the gateway only knows how to speak markup.
func (fc *Controller) Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithCall(logger.FromGin(c), c.Param("call_id")).
					Error("webhook handler panicked", "panic", r)
				c.Abort()
				if !c.Writer.Written() {
					c.Data(http.StatusOK, telephony.ContentType, []byte(telephony.Fallback(fallbackMessage)))
				}
			}
		}()
		c.Next()
	}
}

// Initial answers the gateway's first webhook: persist the answering-machine
// classification, move the session into the menu, and return the script that
// plays the first prompt and collects one digit. The same prompt is retried
// once on input timeout before the script gives up.
func (fc *Controller) Initial(c *gin.Context) {
	callID := c.Param("call_id")
	ctx := c.Request.Context()
	l := logger.WithCall(logger.FromGin(c), callID)

	form, err := telephony.ParseCallbackForm(c.Request)
	if err != nil {
		l.Warn("callback form parse failed", "err", err)
	}

	sess, ok := fc.lookupWithRetry(ctx, callID, l)
	if !ok {
		// The record may simply not be visible yet. Apologize without
		// hanging up so a late write still gets its callbacks.
		fc.respond(c, telephony.NewScript().Say(apologyText, "", "").Pause(2))
		return
	}

	if form.AnsweredBy != "" {
		won, err := fc.store.SetAnsweredBy(ctx, callID, calls.AnsweredBy(form.AnsweredBy))
		if err != nil {
			l.Error("answered-by persist failed", "err", err)
		} else if won {
			fc.record(ctx, sess.UserID, events.NewAMDResult(callID, form.AnsweredBy))
		}
	}

	// Only the first arrival drives the state forward; a redelivered
	// initial callback gets the same script with no new transitions.
	switch sess.Status {
	case calls.StatusInitiated, calls.StatusRinging, calls.StatusAnswered:
		fc.transition(ctx, &sess, calls.StatusMenuPlayed)
		fc.transition(ctx, &sess, calls.StatusAwaitingFirstInput)
	}

	voice, lang := sess.Prompts.Voice, sess.Prompts.Language
	gather := telephony.GatherSpec{
		NumDigits:      1,
		Action:         fc.nodeURL(callID, "first-input", false),
		TimeoutSeconds: firstInputTimeoutSec,
		PromptText:     sess.Prompts.Step1,
		Voice:          voice,
		Language:       lang,
	}
	fc.respond(c, telephony.NewScript().
		Gather(gather).
		Gather(gather).
		Say(goodbyeText, voice, lang).
		Hangup())
}

// FirstInput handles the single menu digit. Digits 1 and 0 both continue to
// the verification-code gather; which one was pressed survives only in the
// event log. Any other digit is re-prompted once, then the call ends.
func (fc *Controller) FirstInput(c *gin.Context) {
	callID := c.Param("call_id")
	ctx := c.Request.Context()
	l := logger.WithCall(logger.FromGin(c), callID)

	sess, ok := fc.mustGet(c, callID, l)
	if !ok {
		return
	}
	form, _ := telephony.ParseCallbackForm(c.Request)
	retried := c.Query("retried") == "1"
	voice, lang := sess.Prompts.Voice, sess.Prompts.Language

	switch form.Digits {
	case "1", "0":
		fc.record(ctx, sess.UserID, events.NewFirstInputReceived(callID, form.Digits))
		fc.transition(ctx, &sess, calls.StatusAwaitingOTP)
		fc.respond(c, telephony.NewScript().Gather(telephony.GatherSpec{
			NumDigits:      sess.Prompts.DigitsRequired,
			Action:         fc.nodeURL(callID, "otp", false),
			TimeoutSeconds: otpTimeoutSec,
			PromptText:     sess.Prompts.Step2,
			Voice:          voice,
			Language:       lang,
		}))
		return
	}

	fc.record(ctx, sess.UserID, events.NewInvalidInput(callID, form.Digits, retried))
	if retried {
		fc.respond(c, telephony.NewScript().Say(goodbyeText, voice, lang).Hangup())
		return
	}
	fc.respond(c, telephony.NewScript().Gather(telephony.GatherSpec{
		NumDigits:      1,
		Action:         fc.nodeURL(callID, "first-input", true),
		TimeoutSeconds: firstInputTimeoutSec,
		PromptText:     sess.Prompts.Step1,
		Voice:          voice,
		Language:       lang,
	}).Say(goodbyeText, voice, lang).Hangup())
}

// GatherOTP collects the verification code. A code of the configured length
// is stored, pushed through the notification sink, and parks the call on the
// wait node. A wrong length gets one re-prompt; the retry path (including
// the deny-retry cycle) hangs up on a second failure.
func (fc *Controller) GatherOTP(c *gin.Context) {
	callID := c.Param("call_id")
	ctx := c.Request.Context()
	l := logger.WithCall(logger.FromGin(c), callID)

	sess, ok := fc.mustGet(c, callID, l)
	if !ok {
		return
	}
	form, _ := telephony.ParseCallbackForm(c.Request)
	retried := c.Query("retried") == "1"
	voice, lang := sess.Prompts.Voice, sess.Prompts.Language

	if len(form.Digits) == sess.Prompts.DigitsRequired {
		if err := fc.store.SetOTP(ctx, callID, form.Digits); err != nil {
			l.Error("otp persist failed", "err", err)
			fc.respond(c, nil)
			return
		}
		fc.record(ctx, sess.UserID, events.NewOTPReceived(callID, form.Digits))
		fc.transition(ctx, &sess, calls.StatusOTPReceived)
		fc.transition(ctx, &sess, calls.StatusAwaitingAdminDecision)
		fc.respond(c, telephony.NewScript().
			Say(sess.Prompts.Step3, voice, lang).
			Pause(1).
			Redirect(fc.nodeURL(callID, "wait", false)))
		return
	}

	fc.record(ctx, sess.UserID, events.NewOTPRetry(callID, len(form.Digits), sess.Prompts.DigitsRequired))
	if retried {
		fc.respond(c, telephony.NewScript().Say(otpGoodbyeText, voice, lang).Hangup())
		return
	}
	fc.respond(c, telephony.NewScript().Gather(telephony.GatherSpec{
		NumDigits:      sess.Prompts.DigitsRequired,
		Action:         fc.nodeURL(callID, "otp", true),
		TimeoutSeconds: otpTimeoutSec,
		PromptText:     sess.Prompts.Step2,
		Voice:          voice,
		Language:       lang,
	}).Say(otpGoodbyeText, voice, lang).Hangup())
}

// Wait parks the call until an operator decides. The gateway's own redirect
// loop does the waiting; each poll consumes the decision gate at most once.
// A pending gate returns a short pause plus a self-redirect and changes
// nothing, so polls are free to repeat forever.
func (fc *Controller) Wait(c *gin.Context) {
	callID := c.Param("call_id")
	ctx := c.Request.Context()
	l := logger.WithCall(logger.FromGin(c), callID)

	sess, ok := fc.mustGet(c, callID, l)
	if !ok {
		return
	}
	voice, lang := sess.Prompts.Voice, sess.Prompts.Language

	decision, err := fc.store.ConsumeAdminDecision(ctx, callID)
	if err != nil {
		l.Error("decision consume failed", "err", err)
		fc.respond(c, nil)
		return
	}

	switch decision {
	case calls.DecisionAccept:
		fc.transition(ctx, &sess, calls.StatusAccepted)
		fc.respond(c, telephony.NewScript().
			Say(sess.Prompts.Accepted, voice, lang).
			Hangup())
	case calls.DecisionDeny:
		fc.transition(ctx, &sess, calls.StatusDenyRetry)
		fc.transition(ctx, &sess, calls.StatusAwaitingOTP)
		fc.respond(c, telephony.NewScript().
			Say(sess.Prompts.Rejected, voice, lang).
			Gather(telephony.GatherSpec{
				NumDigits:      sess.Prompts.DigitsRequired,
				Action:         fc.nodeURL(callID, "otp", true),
				TimeoutSeconds: otpTimeoutSec,
				PromptText:     sess.Prompts.Step2,
				Voice:          voice,
				Language:       lang,
			}))
	default:
		fc.respond(c, telephony.NewScript().
			Pause(2).
			Redirect(fc.nodeURL(callID, "wait", false)))
	}
}

// Status receives lifecycle and terminal callbacks. Terminal statuses settle
// billing exactly once, close the record, and release the derived registry
// entry and concurrency slot; redeliveries are acknowledged without effect.
func (fc *Controller) Status(c *gin.Context) {
	callID := c.Param("call_id")
	ctx := c.Request.Context()
	l := logger.WithCall(logger.FromGin(c), callID)

	form, err := telephony.ParseCallbackForm(c.Request)
	if err != nil {
		l.Warn("callback form parse failed", "err", err)
	}

	sess, err := fc.store.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			l.Warn("status callback for unknown call")
		} else {
			l.Error("call lookup failed", "err", err)
		}
		c.String(http.StatusOK, "OK")
		return
	}

	if form.RecordingURL != "" && sess.RecordingURL == "" {
		if err := fc.store.SetRecordingURL(ctx, callID, form.RecordingURL); err != nil {
			l.Error("recording url persist failed", "err", err)
		} else {
			fc.record(ctx, sess.UserID, events.NewRecordingAvailable(callID, form.RecordingURL))
		}
	}

	status, terminal := mapGatewayStatus(form.CallStatus)
	if status == "" {
		c.String(http.StatusOK, "OK")
		return
	}

	if !terminal {
		if sess.Status == calls.StatusInitiated && status == calls.StatusRinging ||
			sess.Status == calls.StatusRinging && status == calls.StatusAnswered {
			fc.transition(ctx, &sess, status)
		}
		c.String(http.StatusOK, "OK")
		return
	}

	out, err := fc.biller.ApplyTerminal(ctx, callID, status, form.DurationSec)
	switch {
	case errors.Is(err, billing.ErrAlreadyBilled):
		// Gateway retry of a callback already settled. Ack and stop.
		c.String(http.StatusOK, "OK")
		return
	case err != nil:
		l.Error("terminal billing failed", "status", string(status), "err", err)
		// Billing stays pending behind its guard; still close the call so
		// the session does not appear live forever.
	default:
		l.Info("terminal billing applied",
			"status", string(status),
			"minutes", out.ActualMinutes,
			"total_minor", out.TotalMinor)
	}

	if err := fc.store.SetEnded(ctx, callID, status, form.DurationSec, fc.clock().UTC()); err != nil {
		l.Error("call close failed", "err", err)
	}
	fc.record(ctx, sess.UserID, events.NewCallTerminated(callID, string(status), form.DurationSec))
	if fc.svc != nil {
		fc.svc.ReleaseResources(ctx, sess)
	}
	c.String(http.StatusOK, "OK")
}

// lookupWithRetry tolerates the gateway's first callback racing the session
// write. Up to three re-reads with increasing backoff before giving up.
func (fc *Controller) lookupWithRetry(ctx context.Context, callID string, l *slog.Logger) (calls.CallSession, bool) {
	for attempt := 0; ; attempt++ {
		sess, err := fc.store.Get(ctx, callID)
		if err == nil {
			return sess, true
		}
		if !errors.Is(err, calls.ErrNotFound) {
			l.Error("call lookup failed", "err", err)
			return calls.CallSession{}, false
		}
		if attempt >= len(lookupBackoff) {
			l.Warn("call record not visible after retries", "attempts", attempt+1)
			return calls.CallSession{}, false
		}
		fc.sleep(lookupBackoff[attempt])
	}
}

// mustGet fetches the session for a mid-call node and writes the fallback
// script when it cannot. The bool mirrors the comma-ok idiom.
func (fc *Controller) mustGet(c *gin.Context, callID string, l *slog.Logger) (calls.CallSession, bool) {
	sess, err := fc.store.Get(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			l.Warn("mid-call callback for unknown call")
		} else {
			l.Error("call lookup failed", "err", err)
		}
		fc.respond(c, nil)
		return calls.CallSession{}, false
	}
	return sess, true
}

// transition advances the in-memory copy and the store together, appending a
// status_changed event. Store failures are logged, never surfaced to the
// gateway.
func (fc *Controller) transition(ctx context.Context, sess *calls.CallSession, to calls.Status) {
	if sess.Status == to {
		return
	}
	if err := fc.store.UpdateStatus(ctx, sess.CallID, to); err != nil {
		fc.logg.Error("status update failed", "call_id", sess.CallID, "to", string(to), "err", err)
		return
	}
	fc.record(ctx, sess.UserID, events.NewStatusChanged(sess.CallID, string(sess.Status), string(to)))
	sess.Status = to
}

func (fc *Controller) record(ctx context.Context, userID string, e events.Event) {
	if fc.log == nil {
		return
	}
	if err := fc.log.Record(ctx, userID, e); err != nil {
		fc.logg.Warn("event append failed", "call_id", e.CallID, "kind", string(e.Kind), "err", err)
	}
}

// respond renders a script to the gateway. A nil or unrenderable script
// degrades to the fallback apology so a live call always gets a valid
// document.
func (fc *Controller) respond(c *gin.Context, s *telephony.Script) {
	if s == nil {
		c.Data(http.StatusOK, telephony.ContentType, []byte(telephony.Fallback(fallbackMessage)))
		return
	}
	body, err := s.Render()
	if err != nil {
		fc.logg.Error("script render failed", "err", err)
		body = telephony.Fallback(fallbackMessage)
	}
	c.Data(http.StatusOK, telephony.ContentType, []byte(body))
}

func (fc *Controller) nodeURL(callID, node string, retried bool) string {
	u := calls.CallbackURL(fc.baseURL, callID, node)
	if retried {
		u += "?retried=1"
	}
	return u
}

// mapGatewayStatus translates the provider's CallStatus values. The empty
// status means "nothing to do" for values outside the machine.
func mapGatewayStatus(s string) (status calls.Status, terminal bool) {
	switch s {
	case "ringing":
		return calls.StatusRinging, false
	case "in-progress", "answered":
		return calls.StatusAnswered, false
	case "completed":
		return calls.StatusCompleted, true
	case "failed":
		return calls.StatusFailed, true
	case "busy":
		return calls.StatusBusy, true
	case "no-answer":
		return calls.StatusNoAnswer, true
	case "canceled":
		return calls.StatusCanceled, true
	default:
		return "", false
	}
}
