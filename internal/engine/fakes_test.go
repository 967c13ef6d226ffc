package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// scriptedLLM answers each turn with the next func in script; the last
// entry repeats once the script runs out.
type scriptedLLM struct {
	script   []func(turn int, req TurnRequest) (LLMResponse, error)
	requests []TurnRequest
}

func (s *scriptedLLM) StreamTurn(_ context.Context, req TurnRequest, onText func(string)) (LLMResponse, error) {
	turn := len(s.requests)
	msgs := make([]ChatMessage, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	s.requests = append(s.requests, req)

	i := turn
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	resp, err := s.script[i](turn, req)
	if err != nil {
		return LLMResponse{}, err
	}
	// stream the text in small chunks like a provider would
	for text := resp.Text; text != ""; {
		n := min(4, len(text))
		onText(text[:n])
		text = text[n:]
	}
	return resp, nil
}

func endTurn(text string) func(int, TurnRequest) (LLMResponse, error) {
	return func(int, TurnRequest) (LLMResponse, error) {
		return LLMResponse{Text: text, StopReason: StopEndTurn, Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
	}
}

func toolTurn(calls ...ToolCall) func(int, TurnRequest) (LLMResponse, error) {
	return func(int, TurnRequest) (LLMResponse, error) {
		return LLMResponse{ToolCalls: calls, StopReason: StopToolUse, Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
	}
}

// freshCallEveryTurn requests a different command each turn so repetition
// detection never fires.
func freshCallEveryTurn(turn int, _ TurnRequest) (LLMResponse, error) {
	return LLMResponse{
		StopReason: StopToolUse,
		ToolCalls: []ToolCall{{
			ID:   fmt.Sprintf("call_%d", turn),
			Name: "run_command",
			Args: map[string]any{"command": fmt.Sprintf("echo %d", turn)},
		}},
		Usage: Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

type fakeDispatcher struct {
	fn    func(call ToolCall) (ToolOutput, error)
	calls []ToolCall
}

func (d *fakeDispatcher) Dispatch(_ context.Context, call ToolCall) (ToolOutput, error) {
	d.calls = append(d.calls, call)
	if d.fn == nil {
		return TextOutput("ok"), nil
	}
	return d.fn(call)
}

func (d *fakeDispatcher) Schemas() []ToolSchema {
	return []ToolSchema{{Name: "run_command", Description: "run", JSONSchema: `{"type":"object"}`}}
}

type memCheckpoints struct {
	saved    []Snapshot
	restore  *Snapshot
	sleeping map[string]time.Time
	syncs    int
}

func (m *memCheckpoints) Save(_ context.Context, snap Snapshot) error {
	m.saved = append(m.saved, snap)
	return nil
}

func (m *memCheckpoints) Restore(_ context.Context, _ string) (*Snapshot, error) {
	return m.restore, nil
}

func (m *memCheckpoints) MarkSleeping(_ context.Context, sessionID string, wakeAt time.Time) error {
	if m.sleeping == nil {
		m.sleeping = make(map[string]time.Time)
	}
	m.sleeping[sessionID] = wakeAt
	return nil
}

func (m *memCheckpoints) Sync(context.Context) error {
	m.syncs++
	return nil
}

func (m *memCheckpoints) last() Snapshot { return m.saved[len(m.saved)-1] }

type memCostStore struct {
	mu      sync.Mutex
	vals    map[string]int64
	deleted []string
	failAll bool
}

func newMemCostStore() *memCostStore { return &memCostStore{vals: make(map[string]int64)} }

func (m *memCostStore) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return 0, fmt.Errorf("store down")
	}
	m.vals[key] += delta
	return m.vals[key], nil
}

func (m *memCostStore) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return 0, fmt.Errorf("store down")
	}
	return m.vals[key], nil
}

func (m *memCostStore) Expire(context.Context, string, time.Duration) error { return nil }

func (m *memCostStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	m.deleted = append(m.deleted, key)
	return nil
}

type staticSubs struct{ sub Subscription }

func (s staticSubs) Subscription(context.Context, string) (Subscription, error) { return s.sub, nil }

// instantWake is already set; blockingWake waits for the context.
type instantWake struct{ waits, clears int }

func (w *instantWake) Wait(context.Context) error { w.waits++; return nil }
func (w *instantWake) Clear()                     { w.clears++ }

type blockingWake struct{}

func (blockingWake) Wait(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (blockingWake) Clear()                         {}

type recordingPublisher struct{ events []Event }

func (p *recordingPublisher) Publish(_ context.Context, _ string, ev Event) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type memEscalations struct {
	recorded []Escalation
	err      error
}

func (m *memEscalations) RecordEscalation(_ context.Context, esc Escalation) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.recorded = append(m.recorded, esc)
	return fmt.Sprintf("esc-%d", len(m.recorded)), nil
}

// toolResults flattens every tool result in history, in order.
func toolResults(history []ChatMessage) []ToolResult {
	var out []ToolResult
	for _, m := range history {
		out = append(out, m.ToolResults...)
	}
	return out
}

func containsResult(results []ToolResult, substr string) bool {
	for _, r := range results {
		if strings.Contains(r.Content, substr) {
			return true
		}
	}
	return false
}

func noRetry() RetryPolicy { return RetryPolicy{MaxRetries: 0} }
