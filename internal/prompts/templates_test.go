package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"callflow-platform/internal/calls"
)

func TestRender_SubstitutesBothSpellings(t *testing.T) {
	p := calls.PromptSet{
		Step1:    "Hello {{name}}, this is {service}.",
		Step2:    "Enter the {digit} digit code.",
		Step3:    "Hold on, {name}.",
		Accepted: "Thanks {{name}}.",
		Rejected: "Try again with {{digit}} digits.",
	}
	out := Render(p, Vars{RecipientName: "Dana", ServiceName: "Acme Bank", Digits: 6})

	if out.Step1 != "Hello Dana, this is Acme Bank." {
		t.Fatalf("step1 = %q", out.Step1)
	}
	if out.Step2 != "Enter the 6 digit code." {
		t.Fatalf("step2 = %q", out.Step2)
	}
	if out.Step3 != "Hold on, Dana." {
		t.Fatalf("step3 = %q", out.Step3)
	}
	if out.Rejected != "Try again with 6 digits." {
		t.Fatalf("rejected = %q", out.Rejected)
	}
}

func TestRender_PlainTextUntouched(t *testing.T) {
	p := calls.PromptSet{Step1: "Press 1 to continue."}
	out := Render(p, Vars{RecipientName: "Dana"})
	if out.Step1 != "Press 1 to continue." {
		t.Fatalf("step1 = %q", out.Step1)
	}
}

func TestLoadCatalog_EmptyPathHasDefault(t *testing.T) {
	c, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, ok := c.Get("")
	if !ok {
		t.Fatalf("default preset missing")
	}
	if p.DigitsRequired != 6 || p.Step1 == "" {
		t.Fatalf("unexpected default: %+v", p)
	}
}

func TestLoadCatalog_ReadsPresetsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	doc := `
presets:
  bank:
    step1: "Hello {name}, press 1."
    step2: "Enter your {digit} digit code."
    step3: "Please hold."
    accepted: "Verified."
    rejected: "Wrong code."
    digits_required: 4
    voice: "Aurora"
    language: "en-GB"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, ok := c.Get("bank")
	if !ok {
		t.Fatalf("bank preset missing")
	}
	if p.DigitsRequired != 4 || p.Language != "en-GB" {
		t.Fatalf("unexpected preset: %+v", p)
	}
	if _, ok := c.Get("default"); !ok {
		t.Fatalf("built-in default must survive file load")
	}
}

func TestLoadCatalog_RejectsIncompletePreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	doc := `
presets:
  broken:
    step1: "only one message"
    digits_required: 6
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCatalog(path); err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("err = %v, want preset validation failure", err)
	}
}
