package core

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultPersona = "default"

var builtinPersonaPrompts = map[string]string{
	DefaultPersona: "You are a helpful assistant. Answer clearly and concisely. " +
		"If you are not sure about something, say so instead of making it up.",
	"translator": "You are a professional translator. Translate the user's text, " +
		"preserving meaning, tone and formatting. Do not add commentary.",
	"coder": "You are a senior software engineer. Give correct, idiomatic code " +
		"with a short explanation. Point out bugs and edge cases you notice.",
	"editor": "You are a careful copy editor. Fix grammar, spelling and style " +
		"while keeping the author's voice. Return the edited text first.",
}

// PersonaPrompts maps persona ids to default system prompts.
type PersonaPrompts map[string]string

// DefaultPersonaPrompts returns a copy of the built-in table.
func DefaultPersonaPrompts() PersonaPrompts {
	p := make(PersonaPrompts, len(builtinPersonaPrompts))
	for k, v := range builtinPersonaPrompts {
		p[k] = v
	}
	return p
}

// LoadPersonaPrompts merges a YAML "persona: prompt" map over the built-in
// table. An empty path returns the built-ins.
func LoadPersonaPrompts(path string) (PersonaPrompts, error) {
	prompts := DefaultPersonaPrompts()
	if path == "" {
		return prompts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona prompts %s: %w", path, err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse persona prompts %s: %w", path, err)
	}
	for persona, prompt := range overrides {
		prompts[strings.TrimSpace(persona)] = prompt
	}
	if strings.TrimSpace(prompts[DefaultPersona]) == "" {
		return nil, fmt.Errorf("persona prompts %s: %q prompt must not be empty", path, DefaultPersona)
	}
	return prompts, nil
}

// Prompt returns the persona's prompt, or the default persona's prompt
// for unknown ids.
func (p PersonaPrompts) Prompt(persona string) string {
	if prompt, ok := p[persona]; ok {
		return prompt
	}
	return p[DefaultPersona]
}
