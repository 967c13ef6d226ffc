// engine/hook_logger.go
package engine

import (
	"context"
	"log"
	"time"
)

type LoggerHook struct{ L *log.Logger }

func (h LoggerHook) OnTurnStart(_ context.Context, st *RunState) {
	h.L.Printf("session=%s iteration=%d phase=%s", st.SessionID, st.Iteration, st.Phase)
}
func (h LoggerHook) OnAfterLLM(_ context.Context, st *RunState, r LLMResponse, cost int64) {
	h.L.Printf("stop=%s tool_calls=%d tokens: in=%d out=%d | 💰 cost=%dµ$ session=%dµ$ budget=%dµ$",
		r.StopReason, len(r.ToolCalls), r.Usage.InputTokens, r.Usage.OutputTokens, cost, st.SessionCost, st.DailyBudget)
}
func (h LoggerHook) OnNarration(_ context.Context, _ *RunState, s string) {
	h.L.Printf("💬 %s", s)
}
func (h LoggerHook) OnToolResult(_ context.Context, _ *RunState, c ToolCall, summary string, err error) {
	if err != nil {
		h.L.Printf("tool %s error: %v", c.Name, err)
		return
	}
	h.L.Printf("tool %s result: %s", c.Name, summary)
}
func (h LoggerHook) OnSteering(_ context.Context, st *RunState, c ToolCall) {
	h.L.Printf("⚠️  repetition detected on %s at iteration=%d, steering injected", c.Name, st.Iteration)
}
func (h LoggerHook) OnEscalation(_ context.Context, _ *RunState, esc Escalation) {
	h.L.Printf("⚠️  escalated %s (%s) after %d attempt(s): %s", esc.ErrorType, esc.Category, esc.Attempts, esc.ErrorMessage)
}
func (h LoggerHook) OnRetryAttempt(_ context.Context, _ *RunState, attempt int, delay time.Duration, err error) {
	h.L.Printf("retry attempt=%d delay=%v error=%v", attempt, delay, err)
}
func (h LoggerHook) OnSleep(_ context.Context, st *RunState, wakeAt time.Time) {
	h.L.Printf("😴 session=%s at %dµ$ of %dµ$, sleeping until %s", st.SessionID, st.SessionCost, st.DailyBudget, wakeAt.Format(time.RFC3339))
}
func (h LoggerHook) OnWake(_ context.Context, st *RunState) {
	h.L.Printf("session=%s woke with budget=%dµ$", st.SessionID, st.DailyBudget)
}
func (h LoggerHook) OnCheckpoint(_ context.Context, st *RunState, err error) {
	if err != nil {
		h.L.Printf("⚠️  checkpoint failed at iteration=%d: %v", st.Iteration, err)
	}
}
func (h LoggerHook) OnDone(_ context.Context, st *RunState, res RunResult) {
	h.L.Printf("done: status=%s iterations=%d cost=%dµ$", res.Status, res.Iterations, st.SessionCost)
}
