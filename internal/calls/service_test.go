package calls

import (
	"context"
	"errors"
	"strings"
	"testing"

	"callflow-platform/internal/events"
	"callflow-platform/internal/telephony"
)

var errNoFunds = errors.New("no funds")

// recordingBiller tracks charges and refunds without a wallet.
type recordingBiller struct {
	failCharge bool
	charges    []string
	rollbacks  []string
}

func (b *recordingBiller) ChargeCreation(_ context.Context, _, callID string, _ int64) error {
	if b.failCharge {
		return errNoFunds
	}
	b.charges = append(b.charges, callID)
	return nil
}

func (b *recordingBiller) RollbackCreation(_ context.Context, _, callID string, _ int64) error {
	b.rollbacks = append(b.rollbacks, callID)
	return nil
}

func testPrompts() PromptSet {
	return PromptSet{
		Step1:          "Press 1 to continue.",
		Step2:          "Enter your code.",
		Step3:          "Please hold.",
		Accepted:       "Verified.",
		Rejected:       "Incorrect.",
		DigitsRequired: 6,
	}
}

func newTestCallService(biller *recordingBiller, gw telephony.Gateway) (*Service, *MemoryStore, *events.MemorySink) {
	store := NewMemoryStore()
	sink := events.NewMemorySink()
	log := events.NewLog(store, sink)
	svc := NewService(store, nil, biller, errNoFunds, log, gw, nil,
		ServiceConfig{
			PublicBaseURL:  "https://voice.example.com",
			CallRateMinor:  50,
			SpoofRateMinor: 80,
		}, nil)
	return svc, store, sink
}

func startReq() StartRequest {
	return StartRequest{
		UserID:     "u1",
		FromNumber: "+15550002222",
		ToNumber:   "+15550001111",
		CallType:   CallTypeOTP,
		Prompts:    testPrompts(),
	}
}

func TestStart_ChargesAndPlacesCall(t *testing.T) {
	biller := &recordingBiller{}
	gw := telephony.NewStubGateway()
	gw.SetNextProviderCallID("SID-42")
	svc, store, _ := newTestCallService(biller, gw)

	sess, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Status != StatusInitiated || sess.ChargedMinor != 50 || sess.MinutesCharged != 1 {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.ProviderCallID != "SID-42" {
		t.Fatalf("provider call id = %q", sess.ProviderCallID)
	}
	if len(biller.charges) != 1 {
		t.Fatalf("charges = %d, want 1", len(biller.charges))
	}

	placed := gw.Placed()
	if len(placed) != 1 {
		t.Fatalf("placed = %d, want 1", len(placed))
	}
	wantCB := "https://voice.example.com/webhooks/voice/" + sess.CallID
	if placed[0].CallbackURL != wantCB {
		t.Fatalf("callback url = %q, want %q", placed[0].CallbackURL, wantCB)
	}
	if placed[0].StatusCallbackURL != wantCB+"/status" {
		t.Fatalf("status callback url = %q", placed[0].StatusCallbackURL)
	}
	if !placed[0].Record || !placed[0].MachineDetection {
		t.Fatalf("expected recording and machine detection enabled")
	}

	stored, err := store.Get(context.Background(), sess.CallID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ProviderCallID != "SID-42" {
		t.Fatalf("stored provider call id = %q", stored.ProviderCallID)
	}
}

func TestStart_InsufficientBalanceRejectsBeforeDialing(t *testing.T) {
	biller := &recordingBiller{failCharge: true}
	gw := telephony.NewStubGateway()
	svc, store, _ := newTestCallService(biller, gw)

	_, err := svc.Start(context.Background(), startReq())
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if len(gw.Placed()) != 0 {
		t.Fatalf("no call must be placed on rejected charge")
	}
	if got, _ := store.ListAll(context.Background(), 10); len(got) != 0 {
		t.Fatalf("no session must be created on rejected charge")
	}
}

func TestStart_InitiationFailureRollsBackCharge(t *testing.T) {
	biller := &recordingBiller{}
	gw := telephony.NewStubGateway()
	gw.FailPlace = true
	svc, store, _ := newTestCallService(biller, gw)

	_, err := svc.Start(context.Background(), startReq())
	if !errors.Is(err, ErrInitiationFailed) {
		t.Fatalf("err = %v, want ErrInitiationFailed", err)
	}
	if len(biller.rollbacks) != 1 {
		t.Fatalf("rollbacks = %d, want 1", len(biller.rollbacks))
	}

	sessions, _ := store.ListAll(context.Background(), 10)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want the failed record kept", len(sessions))
	}
	s := sessions[0]
	if s.Status != StatusFailed || s.BillingStatus != BillingStatusRefunded || s.TotalMinor != 0 {
		t.Fatalf("failed session not settled: %+v", s)
	}
	if !s.BillingReconciled {
		t.Fatalf("guard must be set so a stray terminal callback cannot re-bill")
	}
}

func TestStart_SpoofRequiresPermission(t *testing.T) {
	biller := &recordingBiller{}
	svc, _, _ := newTestCallService(biller, telephony.NewStubGateway())

	req := startReq()
	req.CallType = CallTypeSpoof
	if _, err := svc.Start(context.Background(), req); !errors.Is(err, ErrSpoofNotAllowed) {
		t.Fatalf("err = %v, want ErrSpoofNotAllowed", err)
	}

	req.SpoofAllowed = true
	sess, err := svc.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start spoof: %v", err)
	}
	if sess.RatePerMinuteMinor != 80 {
		t.Fatalf("spoof rate = %d, want 80", sess.RatePerMinuteMinor)
	}
}

func TestStart_ValidatesRequest(t *testing.T) {
	svc, _, _ := newTestCallService(&recordingBiller{}, telephony.NewStubGateway())

	cases := map[string]func(*StartRequest){
		"missing user":    func(r *StartRequest) { r.UserID = "" },
		"missing to":      func(r *StartRequest) { r.ToNumber = " " },
		"missing from":    func(r *StartRequest) { r.FromNumber = "" },
		"bad call type":   func(r *StartRequest) { r.CallType = "fax" },
		"missing prompt":  func(r *StartRequest) { r.Prompts.Step3 = "" },
		"zero digits":     func(r *StartRequest) { r.Prompts.DigitsRequired = 0 },
		"too many digits": func(r *StartRequest) { r.Prompts.DigitsRequired = 11 },
	}
	for name, mutate := range cases {
		req := startReq()
		mutate(&req)
		if _, err := svc.Start(context.Background(), req); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: err = %v, want ErrInvalidArgument", name, err)
		}
	}
}

func TestGet_EnforcesOwnerOrAdmin(t *testing.T) {
	svc, _, _ := newTestCallService(&recordingBiller{}, telephony.NewStubGateway())
	sess, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.Get(context.Background(), sess.CallID, "u1", false); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := svc.Get(context.Background(), sess.CallID, "intruder", false); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
	if _, err := svc.Get(context.Background(), sess.CallID, "someone", true); err != nil {
		t.Fatalf("admin get: %v", err)
	}
}

func TestHangup_RequestsGatewayTermination(t *testing.T) {
	gw := telephony.NewStubGateway()
	gw.SetNextProviderCallID("SID-9")
	svc, _, sink := newTestCallService(&recordingBiller{}, gw)
	sess, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := svc.Hangup(context.Background(), sess.CallID, "u1", false); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if hung := gw.HungUp(); len(hung) != 1 || hung[0] != "SID-9" {
		t.Fatalf("hung up = %v, want [SID-9]", hung)
	}

	var requested bool
	for _, n := range sink.Notifications() {
		switch n.Event.Kind {
		case events.KindHangupRequested:
			requested = true
			if got := n.Event.Data["actor_user_id"]; got != "u1" {
				t.Fatalf("actor_user_id = %v, want u1", got)
			}
		case events.KindCallTerminated:
			t.Fatalf("unexpected call_terminated event before the terminal callback")
		}
	}
	if !requested {
		t.Fatalf("expected hangup_requested event")
	}
}

func TestDecide_WritesGateOnce(t *testing.T) {
	svc, store, _ := newTestCallService(&recordingBiller{}, telephony.NewStubGateway())
	sess, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := svc.Decide(context.Background(), sess.CallID, DecisionAccept, "admin", true); err != nil {
		t.Fatalf("decide: %v", err)
	}
	d, err := store.ConsumeAdminDecision(context.Background(), sess.CallID)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if d != DecisionAccept {
		t.Fatalf("decision = %q, want accept", d)
	}
	d, _ = store.ConsumeAdminDecision(context.Background(), sess.CallID)
	if d != "" {
		t.Fatalf("decision = %q, want consumed", d)
	}

	if err := svc.Decide(context.Background(), sess.CallID, "maybe", "admin", true); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestDecide_OwnerMayDecideOwnCall(t *testing.T) {
	svc, _, _ := newTestCallService(&recordingBiller{}, telephony.NewStubGateway())
	sess, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Decide(context.Background(), sess.CallID, DecisionDeny, "u1", false); err != nil {
		t.Fatalf("owner decide: %v", err)
	}
	if err := svc.Decide(context.Background(), sess.CallID, DecisionDeny, "intruder", false); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestCallbackURL(t *testing.T) {
	base := "https://voice.example.com/"
	if got := CallbackURL(base, "c1", ""); got != "https://voice.example.com/webhooks/voice/c1" {
		t.Fatalf("initial url = %q", got)
	}
	if got := CallbackURL(base, "c1", "status"); !strings.HasSuffix(got, "/webhooks/voice/c1/status") {
		t.Fatalf("status url = %q", got)
	}
}
