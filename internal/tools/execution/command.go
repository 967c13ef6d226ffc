// Package execution provides the run_command tool.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/sandbox"
)

const (
	defaultTimeout  = 2 * time.Minute
	minTimeout      = 5 * time.Second
	maxTimeout      = 10 * time.Minute
	defaultMaxLines = 60
	maxOutputLines  = 300
	maxOutputChars  = 8000
)

// AllowedCommands are the programs a command line may invoke.
var AllowedCommands = []string{
	// Build tools
	"npm", "npx", "yarn", "pnpm", "bun", "node", "tsc",
	"python", "python3", "pip", "pip3", "pytest", "uv",
	"go", "gofmt", "cargo", "make",

	// Linters & formatters
	"eslint", "prettier", "biome", "ruff", "black",

	// File operations
	"mkdir", "touch", "rm", "cp", "mv", "ln", "chmod",
	"cat", "head", "tail", "ls", "find", "tree",
	"wc", "grep", "awk", "sed", "sort", "uniq", "diff",

	// Version control
	"git",

	// Network
	"curl", "wget",

	// Utilities
	"echo", "printf", "date", "which", "env", "cd", "pwd", "test", "true", "false",
	"tar", "zip", "unzip", "gzip", "jq", "sleep", "timeout", "xargs",
}

// ExecutionResult is the JSON the model sees for a finished command.
type ExecutionResult struct {
	Command         string `json:"command"`
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`
	TimedOut        bool   `json:"timed_out,omitempty"`
	DurationMs      int64  `json:"duration_ms"`
	Status          string `json:"status"`
}

// Policy decides which command lines may run.
type Policy struct {
	Allowed []string
}

// DefaultPolicy allows AllowedCommands.
func DefaultPolicy() Policy { return Policy{Allowed: AllowedCommands} }

// Check returns a CommandNotAllowed error naming the first program in the
// command line that the policy does not allow.
func (p Policy) Check(command string) error {
	names := programNames(command)
	if len(names) == 0 {
		return engine.NewToolError("ValueError", "empty command")
	}
	for _, name := range names {
		if !slices.Contains(p.Allowed, name) {
			return engine.NewToolError(engine.ErrTypeCommandNotAllowed,
				"command %q is not allowed. Allowed commands: %s", name, strings.Join(p.Allowed, ", "))
		}
	}
	return nil
}

// programNames returns the program of every pipeline segment in a shell
// command line. Quoted text is skipped; leading VAR=value assignments are
// ignored.
func programNames(command string) []string {
	var (
		names    []string
		segment  strings.Builder
		quote    rune
		segments []string
	)
	flush := func() {
		segments = append(segments, segment.String())
		segment.Reset()
	}
	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			segment.WriteRune(' ')
		case c == '\'' || c == '"':
			quote = c
			segment.WriteRune(' ')
		case c == ';' || c == '|' || c == '&' || c == '\n' || c == '(' || c == ')':
			flush()
		default:
			segment.WriteRune(c)
		}
	}
	flush()

	for _, s := range segments {
		for _, f := range strings.Fields(s) {
			if strings.Contains(f, "=") && !strings.HasPrefix(f, "=") {
				continue
			}
			names = append(names, f)
			break
		}
	}
	return names
}

// NewRunCommandTool creates the run_command tool over a sandbox.
func NewRunCommandTool(sb sandbox.Sandbox, policy Policy) engine.Tool {
	return engine.Tool{
		Name: "run_command",
		Description: "Runs a shell command in the project sandbox (working directory is the project root). " +
			"Use it to install dependencies, build, run tests and start checks. Only allowlisted programs may be used: " +
			"package managers (npm, npx, pnpm, pip), runtimes (node, python, go), file utilities, git and curl. " +
			"A non-zero exit code is reported as an error with the command output.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"command": {"type":"string","minLength":1,"description":"Shell command line, e.g. \"npm install && npm run build\""},
				"timeout_seconds": {"type":"integer","minimum":5,"maximum":600,"description":"Maximum seconds to allow (default: 120)"},
				"max_output_lines": {"type":"integer","minimum":5,"maximum":300,"description":"Maximum stdout/stderr lines to return (default: 60)"}
			},
			"required": ["command"]
		}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			command, _ := args["command"].(string)
			return runCommand(ctx, sb, policy, command, timeoutArg(args["timeout_seconds"]), maxLinesArg(args["max_output_lines"]))
		},
	}
}

func runCommand(ctx context.Context, sb sandbox.Sandbox, policy Policy, command string, timeout time.Duration, maxLines int) (engine.ToolOutput, error) {
	if err := policy.Check(command); err != nil {
		return engine.ToolOutput{}, err
	}

	res, err := sb.Exec(ctx, command, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return engine.ToolOutput{}, ctx.Err()
		}
		return engine.ToolOutput{}, &engine.ToolError{Type: engine.ErrTypeSandbox, Message: fmt.Sprintf("sandbox failed to run %q: %v", command, err), Err: err}
	}

	stdout, stdoutTruncated := truncateOutput(res.Stdout, maxLines)
	stderr, stderrTruncated := truncateOutput(res.Stderr, maxLines)
	result := ExecutionResult{
		Command:         command,
		ExitCode:        res.ExitCode,
		Stdout:          stdout,
		Stderr:          stderr,
		StdoutTruncated: stdoutTruncated,
		StderrTruncated: stderrTruncated,
		TimedOut:        res.TimedOut,
		DurationMs:      res.Duration.Milliseconds(),
		Status:          "ok",
	}

	switch {
	case res.TimedOut:
		return engine.ToolOutput{}, engine.NewToolError(engine.ErrTypeTimeout,
			"command %q timed out after %s\n%s", command, timeout, tailOf(stdout, stderr))
	case res.ExitCode != 0:
		return engine.ToolOutput{}, engine.NewToolError("CommandError",
			"command %q exited with code %d\n%s", command, res.ExitCode, tailOf(stdout, stderr))
	}

	b, err := json.Marshal(result)
	if err != nil {
		return engine.ToolOutput{}, err
	}
	return engine.TextOutput(string(b)), nil
}

// tailOf keeps the end of the output, where build and test failures report.
func tailOf(stdout, stderr string) string {
	out := strings.TrimSpace(stderr)
	if out == "" {
		out = strings.TrimSpace(stdout)
	}
	const keep = 1500
	if len(out) > keep {
		out = "..." + out[len(out)-keep:]
	}
	return out
}

func timeoutArg(value any) time.Duration {
	seconds, ok := value.(float64)
	if !ok || seconds <= 0 {
		return defaultTimeout
	}
	timeout := time.Duration(seconds) * time.Second
	return min(max(timeout, minTimeout), maxTimeout)
}

func maxLinesArg(value any) int {
	lines, ok := value.(float64)
	if !ok || lines <= 0 {
		return defaultMaxLines
	}
	return min(max(int(lines), 5), maxOutputLines)
}

// truncateOutput keeps the last maxLines lines and at most maxOutputChars.
func truncateOutput(output string, maxLines int) (string, bool) {
	if output == "" {
		return "", false
	}
	truncated := false
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
		truncated = true
	}
	joined := strings.Join(lines, "\n")
	if len(joined) > maxOutputChars {
		joined = joined[len(joined)-maxOutputChars:]
		truncated = true
	}
	return joined, truncated
}
