// Package session writes the founder-facing summaries of a build session.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

const (
	maxRenderedChars = 24000
	maxPartChars     = 400
)

// Summarizer handles LLM-based summaries of build sessions.
type Summarizer struct {
	llm   engine.LLMClient
	model string
}

// NewSummarizer creates a new session summarizer.
func NewSummarizer(llm engine.LLMClient, model string) *Summarizer {
	return &Summarizer{
		llm:   llm,
		model: model,
	}
}

// GenerateTitle generates a short 3-5 word title for the session.
func (s *Summarizer) GenerateTitle(ctx context.Context, history []engine.ChatMessage) (string, engine.Usage, error) {
	if len(history) == 0 {
		return "New build", engine.Usage{}, nil
	}
	system := "Generate a short, concise title (3-5 words) for this build session based on what is being built. Do not use quotes or punctuation."
	limit := min(len(history), 10)
	return s.ask(ctx, system, fmt.Sprintf("History:\n%s\n\nGenerate Title:", Render(history[:limit])), 20)
}

// GenerateHandoff writes what the founder needs to know when a session
// stops: what was built, what is blocked and what happens next.
func (s *Summarizer) GenerateHandoff(ctx context.Context, history []engine.ChatMessage, status engine.Status) (string, engine.Usage, error) {
	if len(history) == 0 {
		return "", engine.Usage{}, nil
	}
	system := "You are the technical co-founder reporting to a non-technical founder. Summarize this build session in plain language. " +
		"Cover: what now works, files and features added, anything blocked waiting on the founder, and the next steps. Be concise, at most 8 bullet points."
	user := fmt.Sprintf("The session stopped with status %q.\n\nSession:\n%s", status, Render(history))
	return s.ask(ctx, system, user, 500)
}

func (s *Summarizer) ask(ctx context.Context, system, user string, maxTokens int) (string, engine.Usage, error) {
	resp, err := s.llm.StreamTurn(ctx, engine.TurnRequest{
		Model:           s.model,
		System:          system,
		Messages:        []engine.ChatMessage{{Role: engine.RoleUser, Content: user}},
		MaxOutputTokens: maxTokens,
		Temperature:     0.1,
	}, nil)
	if err != nil {
		return "", engine.Usage{}, fmt.Errorf("failed to generate summary: %w", err)
	}
	return strings.TrimSpace(resp.Text), resp.Usage, nil
}

// Render flattens history into plain text for a summary prompt. The oldest
// turns are dropped first when it gets too long.
func Render(history []engine.ChatMessage) string {
	parts := make([]string, 0, len(history))
	for _, m := range history {
		var b strings.Builder
		if text := strings.TrimSpace(m.Content); text != "" {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, clip(text))
		}
		for _, c := range m.ToolCalls {
			fmt.Fprintf(&b, "assistant called %s %v\n", c.Name, c.Args)
		}
		for _, r := range m.ToolResults {
			label := "result"
			if r.IsError {
				label = "error"
			}
			fmt.Fprintf(&b, "%s %s: %s\n", r.ToolName, label, clip(r.Content))
		}
		if b.Len() > 0 {
			parts = append(parts, b.String())
		}
	}

	total := 0
	start := len(parts)
	for start > 0 && total+len(parts[start-1]) <= maxRenderedChars {
		start--
		total += len(parts[start])
	}
	out := strings.Join(parts[start:], "")
	if start > 0 {
		out = fmt.Sprintf("[%d earlier turns omitted]\n", start) + out
	}
	return strings.TrimSpace(out)
}

func clip(s string) string {
	if len(s) <= maxPartChars {
		return s
	}
	return s[:maxPartChars] + "..."
}
