// engine/hooks.go
package engine

import (
	"context"
	"time"
)

// RunState is the read-only view of a run handed to hooks.
type RunState struct {
	SessionID   string
	JobID       string
	Model       string
	Iteration   int
	Phase       Phase
	SessionCost int64
	DailyBudget int64
}

type Hook interface {
	OnTurnStart(ctx context.Context, st *RunState)
	OnAfterLLM(ctx context.Context, st *RunState, resp LLMResponse, cost int64)
	OnNarration(ctx context.Context, st *RunState, sentence string)
	OnToolResult(ctx context.Context, st *RunState, call ToolCall, summary string, err error)
	OnSteering(ctx context.Context, st *RunState, call ToolCall)
	OnEscalation(ctx context.Context, st *RunState, esc Escalation)
	OnRetryAttempt(ctx context.Context, st *RunState, attempt int, delay time.Duration, err error)
	OnSleep(ctx context.Context, st *RunState, wakeAt time.Time)
	OnWake(ctx context.Context, st *RunState)
	OnCheckpoint(ctx context.Context, st *RunState, err error)
	OnDone(ctx context.Context, st *RunState, res RunResult)
}

// NopHook lets you implement any hook you need.
type NopHook struct{}

func (NopHook) OnTurnStart(context.Context, *RunState)                                 {}
func (NopHook) OnAfterLLM(context.Context, *RunState, LLMResponse, int64)              {}
func (NopHook) OnNarration(context.Context, *RunState, string)                         {}
func (NopHook) OnToolResult(context.Context, *RunState, ToolCall, string, error)       {}
func (NopHook) OnSteering(context.Context, *RunState, ToolCall)                        {}
func (NopHook) OnEscalation(context.Context, *RunState, Escalation)                    {}
func (NopHook) OnRetryAttempt(context.Context, *RunState, int, time.Duration, error)   {}
func (NopHook) OnSleep(context.Context, *RunState, time.Time)                          {}
func (NopHook) OnWake(context.Context, *RunState)                                      {}
func (NopHook) OnCheckpoint(context.Context, *RunState, error)                         {}
func (NopHook) OnDone(context.Context, *RunState, RunResult)                           {}
