package engine

import (
	"context"
	"time"
)

type Hooks []Hook

func (hs Hooks) OnTurnStart(ctx context.Context, st *RunState) {
	for _, h := range hs {
		h.OnTurnStart(ctx, st)
	}
}
func (hs Hooks) OnAfterLLM(ctx context.Context, st *RunState, r LLMResponse, cost int64) {
	for _, h := range hs {
		h.OnAfterLLM(ctx, st, r, cost)
	}
}
func (hs Hooks) OnNarration(ctx context.Context, st *RunState, s string) {
	for _, h := range hs {
		h.OnNarration(ctx, st, s)
	}
}
func (hs Hooks) OnToolResult(ctx context.Context, st *RunState, c ToolCall, s string, e error) {
	for _, h := range hs {
		h.OnToolResult(ctx, st, c, s, e)
	}
}
func (hs Hooks) OnSteering(ctx context.Context, st *RunState, c ToolCall) {
	for _, h := range hs {
		h.OnSteering(ctx, st, c)
	}
}
func (hs Hooks) OnEscalation(ctx context.Context, st *RunState, esc Escalation) {
	for _, h := range hs {
		h.OnEscalation(ctx, st, esc)
	}
}
func (hs Hooks) OnRetryAttempt(ctx context.Context, st *RunState, attempt int, delay time.Duration, err error) {
	for _, h := range hs {
		h.OnRetryAttempt(ctx, st, attempt, delay, err)
	}
}
func (hs Hooks) OnSleep(ctx context.Context, st *RunState, wakeAt time.Time) {
	for _, h := range hs {
		h.OnSleep(ctx, st, wakeAt)
	}
}
func (hs Hooks) OnWake(ctx context.Context, st *RunState) {
	for _, h := range hs {
		h.OnWake(ctx, st)
	}
}
func (hs Hooks) OnCheckpoint(ctx context.Context, st *RunState, err error) {
	for _, h := range hs {
		h.OnCheckpoint(ctx, st, err)
	}
}
func (hs Hooks) OnDone(ctx context.Context, st *RunState, res RunResult) {
	for _, h := range hs {
		h.OnDone(ctx, st, res)
	}
}
