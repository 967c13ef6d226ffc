package session

import (
	"context"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

// mockLLM answers every turn with a fixed text and records the request.
type mockLLM struct {
	response string
	last     engine.TurnRequest
}

func (m *mockLLM) StreamTurn(_ context.Context, req engine.TurnRequest, _ func(string)) (engine.LLMResponse, error) {
	m.last = req
	return engine.LLMResponse{
		Text:       "  " + m.response + "\n",
		StopReason: engine.StopEndTurn,
		Usage:      engine.Usage{InputTokens: 300, OutputTokens: 12},
	}, nil
}

func TestSummarizer_GenerateTitle(t *testing.T) {
	mock := &mockLLM{response: "Shift Swap Board"}
	summarizer := NewSummarizer(mock, "test-model")

	history := []engine.ChatMessage{
		{Role: engine.RoleUser, Content: "Build the shift swap MVP"},
	}

	title, usage, err := summarizer.GenerateTitle(context.Background(), history)
	if err != nil {
		t.Fatalf("GenerateTitle failed: %v", err)
	}
	if title != "Shift Swap Board" {
		t.Errorf("Expected title 'Shift Swap Board', got '%s'", title)
	}
	if usage.InputTokens != 300 {
		t.Errorf("Expected usage to be reported, got %+v", usage)
	}
	if mock.last.Model != "test-model" || len(mock.last.Tools) != 0 {
		t.Errorf("Unexpected request: %+v", mock.last)
	}
}

func TestSummarizer_GenerateHandoff(t *testing.T) {
	mock := &mockLLM{response: "- Login works\n- Stripe key needed"}
	summarizer := NewSummarizer(mock, "test-model")

	history := []engine.ChatMessage{
		{Role: engine.RoleUser, Content: "Build the MVP"},
		{Role: engine.RoleAssistant, Content: "Adding login.", ToolCalls: []engine.ToolCall{{ID: "1", Name: "write_file", Args: map[string]any{"path": "login.ts"}}}},
		{Role: engine.RoleUser, ToolResults: []engine.ToolResult{{ToolCallID: "1", ToolName: "write_file", Content: "ok"}}},
	}

	summary, _, err := summarizer.GenerateHandoff(context.Background(), history, engine.StatusEscalationThreshold)
	if err != nil {
		t.Fatalf("GenerateHandoff failed: %v", err)
	}
	if summary != "- Login works\n- Stripe key needed" {
		t.Errorf("Expected summary match, got '%s'", summary)
	}
	prompt := mock.last.Messages[0].Content
	if !strings.Contains(prompt, `status "escalation_threshold_exceeded"`) || !strings.Contains(prompt, "write_file result: ok") {
		t.Errorf("Prompt is missing session details:\n%s", prompt)
	}
}

func TestSummarizer_EmptyHistory(t *testing.T) {
	summarizer := NewSummarizer(&mockLLM{}, "test-model")
	summary, _, err := summarizer.GenerateHandoff(context.Background(), nil, engine.StatusCompleted)
	if err != nil || summary != "" {
		t.Errorf("Expected empty summary without error, got %q, %v", summary, err)
	}
}

func TestRender_DropsOldestTurns(t *testing.T) {
	var history []engine.ChatMessage
	for i := 0; i < 200; i++ {
		history = append(history, engine.ChatMessage{Role: engine.RoleAssistant, Content: strings.Repeat("x", 300)})
	}
	out := Render(history)
	if len(out) > maxRenderedChars+64 {
		t.Errorf("Render output too long: %d", len(out))
	}
	if !strings.HasPrefix(out, "[") || !strings.Contains(out, "earlier turns omitted") {
		t.Errorf("Expected an omission marker, got prefix %q", out[:40])
	}
}
