package telephony

import (
	"context"
	"errors"
	"sync"
)

// Gateway is the provider-agnostic boundary for outbound call control.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - The gateway delivers all subsequent progress via webhook callbacks; this
//   interface covers only the fire-and-forget control surface.
type Gateway interface {
	Name() string

	// PlaceCall dials the recipient. CallbackURL receives the voice-script
	// callbacks, StatusCallbackURL the terminal status callback.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)

	// HangupCall requests termination of an in-flight call by the provider's
	// call identifier.
	HangupCall(ctx context.Context, providerCallID string) error
}

type PlaceCallRequest struct {
	FromNumber        string
	ToNumber          string
	CallbackURL       string
	StatusCallbackURL string

	// Record asks the gateway to record the call; the recording URL arrives
	// on the terminal status callback.
	Record bool

	// MachineDetection enables AMD so the initial callback carries an
	// answering classification.
	MachineDetection bool
}

type PlaceCallResult struct {
	// ProviderCallID is the gateway's identifier for the dialed call.
	ProviderCallID string

	// InitialStatus is the gateway-reported status at creation (queued,
	// ringing).
	InitialStatus string
}

var ErrGatewayUnavailable = errors.New("telephony: gateway unavailable")

// StubGateway records placed calls and serves tests.
type StubGateway struct {
	mu sync.Mutex

	// FailPlace makes PlaceCall return an error, for initiation-failure paths.
	FailPlace bool

	placed  []PlaceCallRequest
	hungUp  []string
	nextSID string
}

func NewStubGateway() *StubGateway { return &StubGateway{} }

func (g *StubGateway) Name() string { return "stub" }

func (g *StubGateway) SetNextProviderCallID(sid string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextSID = sid
}

func (g *StubGateway) PlaceCall(_ context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailPlace {
		return PlaceCallResult{}, ErrGatewayUnavailable
	}
	g.placed = append(g.placed, req)
	sid := g.nextSID
	if sid == "" {
		sid = "stub-call-1"
	}
	return PlaceCallResult{ProviderCallID: sid, InitialStatus: "queued"}, nil
}

func (g *StubGateway) HangupCall(_ context.Context, providerCallID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hungUp = append(g.hungUp, providerCallID)
	return nil
}

func (g *StubGateway) Placed() []PlaceCallRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PlaceCallRequest, len(g.placed))
	copy(out, g.placed)
	return out
}

func (g *StubGateway) HungUp() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.hungUp))
	copy(out, g.hungUp)
	return out
}
