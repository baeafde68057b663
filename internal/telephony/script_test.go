package telephony

import (
	"strings"
	"testing"
)

func TestScript_RenderGatherWithPrompt(t *testing.T) {
	out, err := NewScript().Gather(GatherSpec{
		NumDigits:      1,
		Action:         "https://voice.example.com/webhooks/voice/c1/first-input",
		TimeoutSeconds: 10,
		PromptText:     "Press 1 to continue.",
		Voice:          "Aurora",
		Language:       "en-US",
	}).Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"<Response>",
		`numDigits="1"`,
		`method="POST"`,
		`timeout="10"`,
		`action="https://voice.example.com/webhooks/voice/c1/first-input"`,
		`voice="Aurora"`,
		"Press 1 to continue.",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestScript_RenderSayPauseRedirect(t *testing.T) {
	out, err := NewScript().
		Say("Please hold.", "", "").
		Pause(2).
		Redirect("https://voice.example.com/webhooks/voice/c1/wait").
		Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "<Say>Please hold.</Say>") {
		t.Fatalf("say missing in:\n%s", out)
	}
	if !strings.Contains(out, `<Pause length="2"`) {
		t.Fatalf("pause missing in:\n%s", out)
	}
	if !strings.Contains(out, `<Redirect method="POST">https://voice.example.com/webhooks/voice/c1/wait</Redirect>`) {
		t.Fatalf("redirect missing in:\n%s", out)
	}
}

func TestScript_EmptyIsAnError(t *testing.T) {
	if _, err := NewScript().Render(); err == nil {
		t.Fatalf("empty script must not render")
	}
}

func TestScript_EscapesPromptText(t *testing.T) {
	out, err := NewScript().Say(`Press "1" & wait <now>`, "", "").Hangup().Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(out, "<now>") {
		t.Fatalf("unescaped markup in:\n%s", out)
	}
	if !strings.Contains(out, "&amp;") {
		t.Fatalf("ampersand not escaped in:\n%s", out)
	}
}

func TestFallback_AlwaysYieldsHangupScript(t *testing.T) {
	out := Fallback("")
	if !strings.Contains(out, "<Say>") || !strings.Contains(out, "<Hangup") {
		t.Fatalf("fallback malformed:\n%s", out)
	}
}
