// Package persona loads the assistant's personality definition and renders
// system prompts from it.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona describes who the assistant is and how it should speak. Loaded
// from YAML so the personality can be edited without rebuilding.
type Persona struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Traits      []string          `yaml:"traits"`
	Style       []string          `yaml:"style"`
	Contexts    map[string]string `yaml:"contexts"`
}

// Default returns the built-in persona used when no YAML file exists.
func Default() *Persona {
	return &Persona{
		Name:        "Aria",
		Description: "a voice assistant that listens, answers, and proactively offers help",
		Traits: []string{
			"concise and direct",
			"warm but not chatty",
			"admits uncertainty instead of guessing",
		},
		Style: []string{
			"Answer in one to three short sentences suited for speech.",
			"Never use markdown, bullet lists, or emoji; your words are spoken aloud.",
			"If the user sounds unsure, offer one concrete next step.",
		},
		Contexts: map[string]string{
			"suggestion": "You are offering unprompted help. Be brief and easy to decline.",
			"confirm":    "Ask a single yes or no question and nothing else.",
		},
	}
}

// Load reads a persona from path. A missing file returns the default persona
// without error; a malformed file is an error.
func Load(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	p := &Persona{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse persona file %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = Default().Name
	}
	return p, nil
}

// SystemPrompt renders the system message for a conversation. The context
// key selects an optional addendum ("suggestion", "confirm"); unknown or
// empty keys render the base prompt alone.
func (p *Persona) SystemPrompt(context string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.", p.Name, p.Description)

	if len(p.Traits) > 0 {
		b.WriteString(" You are ")
		b.WriteString(joinNatural(p.Traits))
		b.WriteString(".")
	}
	for _, s := range p.Style {
		b.WriteString(" ")
		b.WriteString(s)
	}
	if extra, ok := p.Contexts[context]; ok && extra != "" {
		b.WriteString(" ")
		b.WriteString(extra)
	}
	return b.String()
}

// joinNatural joins items as "a, b, and c".
func joinNatural(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}
