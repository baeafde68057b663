package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"callflow-platform/internal/config"

	twclient "github.com/twilio/twilio-go/client"
)

// LaMLGateway drives a Twilio-compatible voice gateway (a SignalWire space)
// over its LaML REST API. The twilio-go client handles auth, form encoding
// and error decoding; only the space-scoped URLs differ from stock Twilio.
type LaMLGateway struct {
	client    *twclient.Client
	spaceURL  string
	projectID string
}

func NewLaMLGateway(cfg config.GatewayConfig) *LaMLGateway {
	c := &twclient.Client{
		Credentials: twclient.NewCredentials(cfg.ProjectID, cfg.Token),
	}
	c.SetAccountSid(cfg.ProjectID)
	return &LaMLGateway{
		client:    c,
		spaceURL:  cfg.SpaceURL,
		projectID: cfg.ProjectID,
	}
}

func (g *LaMLGateway) Name() string { return "laml" }

type lamlCall struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

func (g *LaMLGateway) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	data := url.Values{}
	data.Set("From", req.FromNumber)
	data.Set("To", req.ToNumber)
	data.Set("Url", req.CallbackURL)
	data.Set("StatusCallback", req.StatusCallbackURL)
	if req.Record {
		data.Set("Record", "true")
	}
	if req.MachineDetection {
		data.Set("MachineDetection", "Enable")
	}

	resp, err := g.client.SendRequest("post", g.callsURL(""), data, nil)
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("telephony: place call: %w", err)
	}
	defer resp.Body.Close()

	var call lamlCall
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return PlaceCallResult{}, fmt.Errorf("telephony: decode place call response: %w", err)
	}
	if call.Sid == "" {
		return PlaceCallResult{}, fmt.Errorf("telephony: gateway returned no call sid")
	}
	return PlaceCallResult{ProviderCallID: call.Sid, InitialStatus: call.Status}, nil
}

func (g *LaMLGateway) HangupCall(ctx context.Context, providerCallID string) error {
	data := url.Values{}
	data.Set("Status", "completed")

	resp, err := g.client.SendRequest("post", g.callsURL(providerCallID), data, nil)
	if err != nil {
		return fmt.Errorf("telephony: hangup call: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (g *LaMLGateway) callsURL(sid string) string {
	base := fmt.Sprintf("https://%s/api/laml/2010-04-01/Accounts/%s/Calls", g.spaceURL, g.projectID)
	if sid == "" {
		return base + ".json"
	}
	return base + "/" + sid + ".json"
}
