package execution

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/sandbox"
)

// fakeSandbox records Exec calls and returns a canned result.
type fakeSandbox struct {
	sandbox.Sandbox
	res      sandbox.ExecResult
	err      error
	commands []string
	timeouts []time.Duration
}

func (f *fakeSandbox) Exec(_ context.Context, command string, timeout time.Duration) (sandbox.ExecResult, error) {
	f.commands = append(f.commands, command)
	f.timeouts = append(f.timeouts, timeout)
	return f.res, f.err
}

func TestProgramNames(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"npm install", []string{"npm"}},
		{"npm install && npm run build", []string{"npm", "npm"}},
		{"cat package.json | jq '.scripts'", []string{"cat", "jq"}},
		{"NODE_ENV=test npm test", []string{"npm"}},
		{`echo "a; rm -rf /" ; ls`, []string{"echo", "ls"}},
		{"(cd web && npm ci)", []string{"cd", "npm"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, programNames(tt.in))
		})
	}
}

func TestPolicy_Check(t *testing.T) {
	p := DefaultPolicy()
	assert.NoError(t, p.Check("npm install && npm run build"))

	err := p.Check("npm test; sudo reboot")
	require.Error(t, err)
	assert.Equal(t, engine.ErrTypeCommandNotAllowed, engine.ErrorTypeName(err))
	assert.Contains(t, err.Error(), `"sudo"`)

	assert.Error(t, p.Check("   "))
}

func TestRunCommand_Success(t *testing.T) {
	sb := &fakeSandbox{res: sandbox.ExecResult{Stdout: "built\n", Duration: 1500 * time.Millisecond}}
	tool := NewRunCommandTool(sb, DefaultPolicy())

	args := map[string]any{"command": "npm run build", "timeout_seconds": 1.0}
	require.NoError(t, tool.ValidateArgs(map[string]any{"command": "npm run build"}))
	out, err := tool.Fn(context.Background(), args)
	require.NoError(t, err)

	var res ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(out.Text), &res))
	assert.Equal(t, "built", res.Stdout)
	assert.Equal(t, "ok", res.Status)
	assert.EqualValues(t, 1500, res.DurationMs)
	assert.Equal(t, []time.Duration{minTimeout}, sb.timeouts, "timeouts are clamped")
}

func TestRunCommand_Failures(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		res      sandbox.ExecResult
		err      error
		wantType string
		wantMsg  string
		execs    int
	}{
		{name: "not allowed", command: "sudo ls", wantType: engine.ErrTypeCommandNotAllowed, execs: 0},
		{name: "non-zero exit", command: "npm test", res: sandbox.ExecResult{ExitCode: 1, Stderr: "FAIL src/app.test.ts\n"}, wantType: "CommandError", wantMsg: "FAIL src/app.test.ts", execs: 1},
		{name: "timeout", command: "npm run dev", res: sandbox.ExecResult{ExitCode: 137, TimedOut: true}, wantType: engine.ErrTypeTimeout, execs: 1},
		{name: "sandbox down", command: "ls", err: errors.New("container not running"), wantType: engine.ErrTypeSandbox, execs: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &fakeSandbox{res: tt.res, err: tt.err}
			_, err := runCommand(context.Background(), sb, DefaultPolicy(), tt.command, time.Minute, defaultMaxLines)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, engine.ErrorTypeName(err))
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			assert.Len(t, sb.commands, tt.execs)
		})
	}
}

func TestRunCommand_NotFoundIsEnvironmentError(t *testing.T) {
	sb := &fakeSandbox{res: sandbox.ExecResult{ExitCode: 127, Stderr: "sh: pnpm: command not found"}}
	_, err := runCommand(context.Background(), sb, DefaultPolicy(), "pnpm i", time.Minute, defaultMaxLines)
	require.Error(t, err)
	assert.Equal(t, engine.CategoryEnv, engine.Categorize(engine.ErrorTypeName(err), err.Error()))
}

func TestTruncateOutput(t *testing.T) {
	out, truncated := truncateOutput("1\n2\n3\n4\n", 2)
	assert.True(t, truncated)
	assert.Equal(t, "3\n4", out)

	out, truncated = truncateOutput(strings.Repeat("x", maxOutputChars+10), 10)
	assert.True(t, truncated)
	assert.Len(t, out, maxOutputChars)

	out, truncated = truncateOutput("", 10)
	assert.False(t, truncated)
	assert.Empty(t, out)
}
