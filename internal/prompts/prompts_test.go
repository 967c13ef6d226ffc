package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cofounder/internal/workspace"
)

func TestBuildSystemPrompt(t *testing.T) {
	bc := BusinessContext{
		ProjectName:  "ShiftSwap",
		ProblemBrief: "Nurses cannot trade shifts without calling a manager.",
		Interview: []QA{
			{Question: "Who pays?", Answer: "Hospitals, per ward."},
			{Question: "Mobile or web?", Answer: ""},
		},
		BuildPlan: "1. Auth 2. Shift board 3. Swap requests",
	}
	got, err := BuildSystemPrompt(bc, workspace.Lookup(workspace.ProjectTypeNode))
	require.NoError(t, err)

	assert.Contains(t, got, "technical co-founder of ShiftSwap")
	assert.Contains(t, got, "Nurses cannot trade shifts")
	assert.Contains(t, got, "1. Q: Who pays?\n   A: Hospitals, per ward.")
	assert.Contains(t, got, "2. Q: Mobile or web?\n   A: (not provided)")
	assert.Contains(t, got, "[MVP SCOPE]\n(not provided)")
	assert.Contains(t, got, "- Test: npm test")
	assert.NotContains(t, got, "{{")
}

func TestBuildSystemPrompt_UnknownStack(t *testing.T) {
	got, err := BuildSystemPrompt(BusinessContext{}, workspace.Unknown)
	require.NoError(t, err)
	assert.Contains(t, got, "co-founder of this startup")
	assert.Contains(t, got, "not recognised yet")
}

func TestPromptBuilder_MissingVariable(t *testing.T) {
	r := NewPromptRegistry()
	r.Register(&Prompt{ID: "p", Version: PromptV1, Content: "Hello {{name}} from {{ place }}"})

	b, err := NewPromptBuilder(r, "p", PromptV1)
	require.NoError(t, err)
	_, err = b.SetVariable("name", "Ada").Build()
	assert.ErrorContains(t, err, "unset variables: place")

	out, err := b.SetVariable("place", "{{name}}").Build()
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada from {{name}}", out, "values are not re-expanded")
}

func TestRegistry_GetLatestOrdersVersionsNumerically(t *testing.T) {
	r := NewPromptRegistry()
	r.Register(&Prompt{ID: "p", Version: "2.0.0", Content: "two"})
	r.Register(&Prompt{ID: "p", Version: "10.0.0", Content: "ten"})
	r.Register(&Prompt{ID: "p", Version: "9.1", Content: "nine"})

	p, err := r.GetLatest("p")
	require.NoError(t, err)
	assert.Equal(t, "ten", p.Content)

	r.Register(&Prompt{ID: "p", Version: "10.0.0", Content: "ten again", Deprecated: true})
	p, err = r.GetLatest("p")
	require.NoError(t, err)
	assert.Equal(t, "nine", p.Content, "re-registering replaces the version")
}

func TestPromptVersion_Compare(t *testing.T) {
	tests := []struct {
		a, b PromptVersion
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0", "1.0.0", 0},
		{"10.0.0", "2.0.0", 1},
		{"1.2.0", "1.10.0", -1},
		{"1.0.0-beta", "1.0.0-alpha", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.a.Compare(tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestRegistry_GetLatest(t *testing.T) {
	r := NewPromptRegistry()
	r.Register(&Prompt{ID: "p", Version: "1.0.0", Content: "old"})
	r.Register(&Prompt{ID: "p", Version: "2.0.0", Content: "new", Deprecated: true})

	p, err := r.GetLatest("p")
	require.NoError(t, err)
	assert.Equal(t, "old", p.Content)

	_, err = r.GetLatest("missing")
	assert.Error(t, err)
	_, err = r.Get("p", "3.0.0")
	assert.True(t, strings.Contains(err.Error(), "version 3.0.0"))
}

func TestWithRules(t *testing.T) {
	assert.Equal(t, "base", WithRules("base", "  \n"))
	assert.Equal(t, "base\n\n[FOUNDER RULES]\nThese override anything above.\nNo paid APIs.", WithRules("base", "No paid APIs.\n"))
}
