package tools

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/sandbox"
	"github.com/ChamsBouzaiene/cofounder/internal/tools/execution"
	"github.com/ChamsBouzaiene/cofounder/internal/tools/filesystem"
	"github.com/ChamsBouzaiene/cofounder/internal/tools/search"
)

// Dispatcher routes tool calls to the tool registry. It implements
// engine.Dispatcher.
type Dispatcher struct {
	tools    map[Op]engine.Tool
	sb       sandbox.Sandbox
	index    *search.Index
	logger   *log.Logger
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithPolicy replaces the run_command allowlist.
func WithPolicy(p execution.Policy) Option {
	return func(d *Dispatcher) {
		d.tools[OpRunCommand] = execution.NewRunCommandTool(d.sb, p)
	}
}

// WithoutOps removes ops from the registry, e.g. run_command for a
// read-only review session.
func WithoutOps(ops ...Op) Option {
	return func(d *Dispatcher) {
		for _, op := range ops {
			delete(d.tools, op)
		}
	}
}

// NewDispatcher registers every Op over sb. idx may be nil, in which case
// search_code is not offered.
func NewDispatcher(sb sandbox.Sandbox, idx *search.Index, logger *log.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	d := &Dispatcher{
		tools: map[Op]engine.Tool{
			OpReadFile:   filesystem.NewReadFileTool(sb),
			OpWriteFile:  filesystem.NewWriteFileTool(sb),
			OpEditFile:   filesystem.NewEditFileTool(sb),
			OpDeleteFile: filesystem.NewDeleteFileTool(sb),
			OpListFiles:  filesystem.NewListFilesTool(sb),
			OpRunCommand: execution.NewRunCommandTool(sb, execution.DefaultPolicy()),
			OpGrep:       search.NewGrepTool(sb),
			OpViewImage:  filesystem.NewViewImageTool(sb),
		},
		sb:     sb,
		index:  idx,
		logger: logger,
	}
	if idx != nil {
		d.tools[OpSearchCode] = search.NewSearchCodeTool(idx)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates the call's arguments and runs the tool. Unknown tools
// produce a text result rather than an error so the model can correct
// itself without it counting as a failure.
func (d *Dispatcher) Dispatch(ctx context.Context, call engine.ToolCall) (engine.ToolOutput, error) {
	op, err := ParseOp(call.Name)
	tool, ok := d.tools[op]
	if err != nil || !ok {
		d.logger.Printf("⚠️  model called unknown tool %q", call.Name)
		return engine.TextOutput(fmt.Sprintf("Unknown tool: %s", call.Name)), nil
	}
	if err := tool.ValidateArgs(call.Args); err != nil {
		return engine.ToolOutput{}, err
	}

	start := time.Now()
	out, err := tool.Fn(ctx, call.Args)
	if err != nil {
		d.logger.Printf("🔧 %s failed after %s: %v", call.Name, time.Since(start).Round(time.Millisecond), err)
		return engine.ToolOutput{}, err
	}

	switch op {
	case OpWriteFile, OpEditFile, OpDeleteFile:
		d.reindex(ctx, call.Args)
	case OpRunCommand:
		// the watcher picks up files a command touched
	}
	return out, nil
}

func (d *Dispatcher) reindex(ctx context.Context, args map[string]any) {
	if d.index == nil {
		return
	}
	p, ok := args["path"].(string)
	if !ok {
		return
	}
	if _, err := d.index.Update(ctx, []string{p}); err != nil {
		d.logger.Printf("⚠️  failed to reindex %s: %v", p, err)
	}
}

// Schemas returns the schemas of every registered tool.
func (d *Dispatcher) Schemas() []engine.ToolSchema {
	reg := make(engine.ToolRegistry, len(d.tools))
	for op, t := range d.tools {
		reg[string(op)] = t
	}
	return reg.Schemas()
}

// Has reports whether the tool is registered.
func (d *Dispatcher) Has(op Op) bool {
	_, ok := d.tools[op]
	return ok
}
