package telephony

import (
	"net/http"
	"strconv"
	"strings"
)

// CallbackForm captures the subset of voice webhook fields the call flow
// cares about. The gateway posts application/x-www-form-urlencoded.
//
// Keep it provider-adapter-only; no flow decisions are made here.
type CallbackForm struct {
	ProviderCallID string
	CallStatus     string
	AnsweredBy     string
	Digits         string
	DurationSec    int
	RecordingURL   string
	From           string
	To             string
}

// ParseCallbackForm extracts the callback fields. Missing fields parse to
// zero values; the flow layer decides what is required per node.
func ParseCallbackForm(r *http.Request) (CallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return CallbackForm{}, err
	}
	f := CallbackForm{
		ProviderCallID: r.PostFormValue("CallSid"),
		CallStatus:     strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		AnsweredBy:     strings.ToLower(strings.TrimSpace(r.PostFormValue("AnsweredBy"))),
		Digits:         strings.TrimSpace(r.PostFormValue("Digits")),
		RecordingURL:   strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		From:           strings.TrimSpace(r.PostFormValue("From")),
		To:             strings.TrimSpace(r.PostFormValue("To")),
	}
	if v := strings.TrimSpace(r.PostFormValue("CallDuration")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.DurationSec = n
		}
	}
	return f, nil
}
