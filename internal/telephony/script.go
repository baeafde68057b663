package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Script is a declarative voice-script response rendered to LaML (the
// Twilio-compatible markup the gateway executes). The flow controller builds
// scripts; only this package knows the wire markup.
//
// Only the verbs the call flow needs are modeled.
type Script struct {
	verbs []any
}

type xmlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type xmlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type xmlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type xmlGather struct {
	XMLName   xml.Name `xml:"Gather"`
	NumDigits int      `xml:"numDigits,attr"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	Timeout   int      `xml:"timeout,attr"`
	Say       *xmlSay  `xml:"Say,omitempty"`
}

type xmlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type xmlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func NewScript() *Script { return &Script{} }

// Say queues spoken text. Voice and language may be empty for gateway
// defaults.
func (s *Script) Say(text, voice, language string) *Script {
	s.verbs = append(s.verbs, xmlSay{Text: text, Voice: voice, Language: language})
	return s
}

// Pause queues a silent wait of the given length in seconds.
func (s *Script) Pause(seconds int) *Script {
	if seconds < 1 {
		seconds = 1
	}
	s.verbs = append(s.verbs, xmlPause{Length: seconds})
	return s
}

// GatherSpec describes a digit-collection verb with an optional spoken
// prompt played while collecting.
type GatherSpec struct {
	NumDigits      int
	Action         string
	TimeoutSeconds int
	PromptText     string
	Voice          string
	Language       string
}

func (s *Script) Gather(g GatherSpec) *Script {
	v := xmlGather{
		NumDigits: g.NumDigits,
		Action:    g.Action,
		Method:    "POST",
		Timeout:   g.TimeoutSeconds,
	}
	if v.Timeout <= 0 {
		v.Timeout = 10
	}
	if g.PromptText != "" {
		v.Say = &xmlSay{Text: g.PromptText, Voice: g.Voice, Language: g.Language}
	}
	s.verbs = append(s.verbs, v)
	return s
}

func (s *Script) Redirect(url string) *Script {
	s.verbs = append(s.verbs, xmlRedirect{URL: url, Method: "POST"})
	return s
}

func (s *Script) Hangup() *Script {
	s.verbs = append(s.verbs, xmlHangup{})
	return s
}

// Render serializes the script. A live telephony session must always get a
// valid document, so rendering an empty script is an error the caller turns
// into a fallback response.
func (s *Script) Render() (string, error) {
	if len(s.verbs) == 0 {
		return "", errors.New("telephony: empty script")
	}
	r := xmlResponse{Verbs: s.verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ContentType is the media type for rendered scripts.
const ContentType = "application/xml"

// Fallback is the safe script returned when a handler fails internally:
// apologize and hang up rather than leaving the call without a response.
func Fallback(message string) string {
	if strings.TrimSpace(message) == "" {
		message = "We are sorry, an application error occurred. Goodbye."
	}
	out, err := NewScript().Say(message, "", "").Hangup().Render()
	if err != nil {
		// Renderer cannot fail on a non-empty script; keep a literal just in case.
		return xml.Header + "<Response><Say>Goodbye.</Say><Hangup></Hangup></Response>"
	}
	return out
}
