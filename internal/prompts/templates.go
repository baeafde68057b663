package prompts

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"callflow-platform/internal/calls"

	"gopkg.in/yaml.v3"
)

// Vars are the substitution variables available to prompt templates.
// Both {{name}} and {name} spellings are accepted, matching what operators
// historically typed into the call setup form.
type Vars struct {
	RecipientName string
	ServiceName   string
	Digits        int
}

// Render substitutes variables into every prompt of the set. Prompts are
// rendered exactly once, at call creation; the stored session carries the
// final text.
func Render(p calls.PromptSet, v Vars) calls.PromptSet {
	out := p
	out.Step1 = substitute(p.Step1, v)
	out.Step2 = substitute(p.Step2, v)
	out.Step3 = substitute(p.Step3, v)
	out.Accepted = substitute(p.Accepted, v)
	out.Rejected = substitute(p.Rejected, v)
	return out
}

func substitute(text string, v Vars) string {
	digits := strconv.Itoa(v.Digits)
	r := strings.NewReplacer(
		"{{name}}", v.RecipientName, "{name}", v.RecipientName,
		"{{service}}", v.ServiceName, "{service}", v.ServiceName,
		"{{digit}}", digits, "{digit}", digits,
	)
	return r.Replace(text)
}

// Catalog holds named prompt presets so operators can start from a known-good
// script instead of typing five messages per call.
type Catalog struct {
	presets map[string]calls.PromptSet
}

type catalogFile struct {
	Presets map[string]calls.PromptSet `yaml:"presets"`
}

// LoadCatalog reads a YAML preset file. An empty path returns a catalog with
// only the built-in default.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{presets: map[string]calls.PromptSet{
		"default": defaultPreset(),
	}}
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	for name, p := range f.Presets {
		if err := validatePreset(name, p); err != nil {
			return nil, err
		}
		c.presets[name] = p
	}
	return c, nil
}

// Get returns the named preset, falling back to the default when name is
// empty.
func (c *Catalog) Get(name string) (calls.PromptSet, bool) {
	if name == "" {
		name = "default"
	}
	p, ok := c.presets[name]
	return p, ok
}

func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.presets))
	for name := range c.presets {
		out = append(out, name)
	}
	return out
}

func validatePreset(name string, p calls.PromptSet) error {
	if p.Step1 == "" || p.Step2 == "" || p.Step3 == "" || p.Accepted == "" || p.Rejected == "" {
		return fmt.Errorf("prompt preset %q: all five messages are required", name)
	}
	if p.DigitsRequired < 1 || p.DigitsRequired > 10 {
		return fmt.Errorf("prompt preset %q: digits_required must be 1..10, got %d", name, p.DigitsRequired)
	}
	return nil
}

func defaultPreset() calls.PromptSet {
	return calls.PromptSet{
		Step1:          "Hello {name}, this is the {service} security team. If you made this request, press 1. Otherwise, press 0.",
		Step2:          "Please enter the {digit} digit code we just sent to your device.",
		Step3:          "Thank you. Please hold while we verify your code.",
		Accepted:       "Your code has been verified. Thank you, goodbye.",
		Rejected:       "That code did not match our records. Please enter the new code we just sent.",
		DigitsRequired: 6,
		Voice:          "Aurora",
		Language:       "en-US",
	}
}
