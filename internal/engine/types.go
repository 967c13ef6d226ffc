package engine

import (
	"context"
	"fmt"
)

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ContentBlock is one part of a multimodal tool result.
type ContentBlock struct {
	Type      string `json:"type"` // "text" | "image"
	Text      string `json:"text,omitempty"`
	MediaType string `json:"media_type,omitempty"` // e.g. image/png
	Data      string `json:"data,omitempty"`       // base64 payload for images
}

// ToolResult answers exactly one ToolCall of the preceding assistant turn.
type ToolResult struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Content    string         `json:"content,omitempty"`
	Blocks     []ContentBlock `json:"blocks,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
}

// ChatMessage is the provider-agnostic message we pass around.
// A user turn either carries free text or the results of every tool call
// requested by the assistant turn right before it.
type ChatMessage struct {
	Role        MessageRole  `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// Validate checks if the ChatMessage is valid.
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if m.Role == RoleAssistant && len(m.ToolResults) > 0 {
		return fmt.Errorf("assistant messages cannot carry tool results")
	}
	if m.Role == RoleUser && len(m.ToolCalls) > 0 {
		return fmt.Errorf("user messages cannot carry tool calls")
	}
	for _, r := range m.ToolResults {
		if r.ToolCallID == "" {
			return fmt.Errorf("tool result for %s has no tool call id", r.ToolName)
		}
	}
	return nil
}

// Usage holds token accounting returned by providers.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolCall represents a function/tool the assistant requested.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// StopReason is the provider's reason for ending a turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// LLMResponse is the normalized final message of one streamed turn.
type LLMResponse struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      Usage
	Model      string
}

// Message converts the response into the assistant turn appended to history.
func (r LLMResponse) Message() ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: r.Text, ToolCalls: r.ToolCalls}
}

// TurnRequest is everything a provider needs for one streamed turn.
type TurnRequest struct {
	Model           string
	System          string
	Messages        []ChatMessage
	Tools           []ToolSchema
	MaxOutputTokens int
	Temperature     float32
}

// LLMClient abstracts the model provider SDK (Anthropic, OpenAI-compatible).
// onText receives text deltas in order as they arrive; the returned response
// is the complete final message of the turn.
type LLMClient interface {
	StreamTurn(ctx context.Context, req TurnRequest, onText func(string)) (LLMResponse, error)
}

// ToolSchema is the JSON schema the provider expects for function calling.
type ToolSchema struct {
	Name        string
	Description string
	JSONSchema  string // raw JSON
}

// ToolOutput is what a tool returns: plain text, or multimodal blocks.
type ToolOutput struct {
	Text   string
	Blocks []ContentBlock
}

// IsMultimodal reports whether the output carries structured content blocks.
func (o ToolOutput) IsMultimodal() bool { return len(o.Blocks) > 0 }

// TextOutput is a convenience constructor for plain-text results.
func TextOutput(s string) ToolOutput { return ToolOutput{Text: s} }
