package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePrompts(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPersonaPrompts_NoFile(t *testing.T) {
	prompts, err := LoadPersonaPrompts("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPersonaPrompts(), prompts)
}

func TestLoadPersonaPrompts_MergesOverrides(t *testing.T) {
	path := writePrompts(t, `
default: "You are ezBot."
pirate: |
  Talk like a pirate.
`)

	prompts, err := LoadPersonaPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, "You are ezBot.", prompts.Prompt(DefaultPersona))
	assert.Equal(t, "Talk like a pirate.\n", prompts.Prompt("pirate"))
	assert.Equal(t, DefaultPersonaPrompts()["coder"], prompts.Prompt("coder"))
	assert.Equal(t, "You are ezBot.", prompts.Prompt("nobody"))
}

func TestLoadPersonaPrompts_Errors(t *testing.T) {
	_, err := LoadPersonaPrompts(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadPersonaPrompts(writePrompts(t, "default: [not, a, string]"))
	assert.Error(t, err)

	_, err = LoadPersonaPrompts(writePrompts(t, `default: "  "`))
	assert.ErrorContains(t, err, "must not be empty")
}

func TestDefaultPersonaPrompts_IsACopy(t *testing.T) {
	p := DefaultPersonaPrompts()
	p[DefaultPersona] = "changed"
	assert.NotEqual(t, "changed", DefaultPersonaPrompts()[DefaultPersona])
}
