package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterationGuard_Cap(t *testing.T) {
	g := NewIterationGuard(2)
	require.NoError(t, g.CheckIterationCap())
	g.Increment()
	require.NoError(t, g.CheckIterationCap())
	g.Increment()

	err := g.CheckIterationCap()
	var capErr *IterationCapError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Max)
}

func TestIterationGuard_DefaultCap(t *testing.T) {
	assert.Equal(t, DefaultMaxToolCalls, NewIterationGuard(0).Max())
}

func TestIterationGuard_RestoreNeverMovesBack(t *testing.T) {
	g := NewIterationGuard(10)
	g.Restore(5)
	g.Restore(3)
	assert.Equal(t, 5, g.Count())
}

func TestIterationGuard_Repetition(t *testing.T) {
	tests := []struct {
		name    string
		calls   []map[string]any
		wantErr bool
	}{
		{
			name:    "three identical",
			calls:   []map[string]any{{"path": "a"}, {"path": "a"}, {"path": "a"}},
			wantErr: true,
		},
		{
			name:    "two identical",
			calls:   []map[string]any{{"path": "a"}, {"path": "a"}},
			wantErr: false,
		},
		{
			name:    "interrupted run",
			calls:   []map[string]any{{"path": "a"}, {"path": "a"}, {"path": "b"}, {"path": "a"}},
			wantErr: false,
		},
		{
			name:    "key order does not matter",
			calls:   []map[string]any{{"x": 1, "y": 2}, {"y": 2, "x": 1}, {"x": 1, "y": 2}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewIterationGuard(0)
			var err error
			for _, in := range tt.calls {
				err = g.CheckRepetition("read_file", in)
			}
			if tt.wantErr {
				var rep *RepetitionError
				assert.ErrorAs(t, err, &rep)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIterationGuard_DifferentToolsDoNotRepeat(t *testing.T) {
	g := NewIterationGuard(0)
	in := map[string]any{"path": "a"}
	assert.NoError(t, g.CheckRepetition("read_file", in))
	assert.NoError(t, g.CheckRepetition("read_file", in))
	assert.NoError(t, g.CheckRepetition("delete_file", in))
}

func TestIterationGuard_ClearWindow(t *testing.T) {
	g := NewIterationGuard(0)
	in := map[string]any{"q": "x"}
	_ = g.CheckRepetition("grep", in)
	_ = g.CheckRepetition("grep", in)
	g.ClearWindow()
	assert.NoError(t, g.CheckRepetition("grep", in))
	assert.NoError(t, g.CheckRepetition("grep", in))
	assert.Error(t, g.CheckRepetition("grep", in))
}

func TestTruncateToolResult(t *testing.T) {
	short := strings.Repeat("w ", 100)
	assert.Equal(t, short, TruncateToolResult(short))

	words := make([]string, 2500)
	for i := range words {
		words[i] = "w"
	}
	words[0] = "FIRST"
	words[len(words)-1] = "LAST"
	got := TruncateToolResult(strings.Join(words, " "))

	assert.True(t, strings.HasPrefix(got, "FIRST"))
	assert.True(t, strings.HasSuffix(got, "LAST"))
	assert.Contains(t, got, "[... 500 words omitted ...]")
}
