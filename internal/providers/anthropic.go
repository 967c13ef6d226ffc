package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicClient implements engine.LLMClient over the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a client. baseURL is optional.
func NewAnthropicClient(apiKey, baseURL string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(apiKey, opts...)}, nil
}

// StreamTurn streams one assistant turn, forwarding text deltas to onText.
func (c *AnthropicClient) StreamTurn(ctx context.Context, req engine.TurnRequest, onText func(string)) (engine.LLMResponse, error) {
	msgs, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return engine.LLMResponse{}, err
	}
	tools, err := toAnthropicTools(req.Tools)
	if err != nil {
		return engine.LLMResponse{}, err
	}

	maxTokens := 4096
	if req.MaxOutputTokens > 0 {
		maxTokens = req.MaxOutputTokens
	}
	temperature := req.Temperature

	sreq := anthropic.MessagesStreamRequest{
		MessagesRequest: anthropic.MessagesRequest{
			Model:       anthropic.Model(req.Model),
			Messages:    msgs,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		},
	}
	if req.System != "" {
		sreq.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: req.System}}
	}
	if len(tools) > 0 {
		sreq.Tools = tools
	}

	var (
		text      strings.Builder
		toolCalls []engine.ToolCall
		streamErr error
	)
	sreq.OnError = func(errResp anthropic.ErrorResponse) {
		streamErr = fmt.Errorf("anthropic streaming error: %s", errResp.Error.Message)
	}
	sreq.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
		if delta.Delta.Type == "text_delta" && delta.Delta.Text != nil {
			text.WriteString(*delta.Delta.Text)
			if onText != nil {
				onText(*delta.Delta.Text)
			}
		}
	}
	sreq.OnContentBlockStop = func(_ anthropic.MessagesEventContentBlockStopData, content anthropic.MessageContent) {
		if content.Type != "tool_use" || content.MessageContentToolUse == nil {
			return
		}
		tu := content.MessageContentToolUse
		toolCalls = append(toolCalls, engine.ToolCall{ID: tu.ID, Name: tu.Name, Args: decodeArgs(tu.Input)})
	}

	resp, err := c.client.CreateMessagesStream(ctx, sreq)
	if err != nil {
		httpStatus, retryAfter := extractErrorMetadata(err)
		return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus, retryAfter)
	}
	if streamErr != nil {
		httpStatus, retryAfter := extractErrorMetadata(streamErr)
		return engine.LLMResponse{}, engine.WrapLLMError(streamErr, httpStatus, retryAfter)
	}

	return engine.LLMResponse{
		Text:       text.String(),
		ToolCalls:  toolCalls,
		StopReason: anthropicStopReason(string(resp.StopReason), len(toolCalls) > 0),
		Usage: engine.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		Model: req.Model,
	}, nil
}

func anthropicStopReason(reason string, hasTools bool) engine.StopReason {
	switch {
	case hasTools || reason == "tool_use":
		return engine.StopToolUse
	case reason == "max_tokens":
		return engine.StopMaxTokens
	default:
		return engine.StopEndTurn
	}
}

func toAnthropicMessages(messages []engine.ChatMessage) ([]anthropic.Message, error) {
	out := make([]anthropic.Message, 0, len(messages))
	for _, msg := range messages {
		if err := msg.Validate(); err != nil {
			return nil, err
		}
		switch msg.Role {
		case engine.RoleUser:
			var content []anthropic.MessageContent
			for _, r := range msg.ToolResults {
				content = append(content, anthropicToolResult(r))
			}
			if msg.Content != "" {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			if len(content) == 0 {
				continue
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleUser, Content: content})
		case engine.RoleAssistant:
			var content []anthropic.MessageContent
			if strings.TrimSpace(msg.Content) != "" {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				argsJSON, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, fmt.Errorf("marshal args for %s: %w", tc.Name, err)
				}
				content = append(content, anthropic.NewToolUseMessageContent(tc.ID, tc.Name, json.RawMessage(argsJSON)))
			}
			if len(content) == 0 {
				continue
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
		}
	}
	return out, nil
}

// anthropicToolResult keeps image blocks inside the tool_result so the model
// sees them next to the call that produced them.
func anthropicToolResult(r engine.ToolResult) anthropic.MessageContent {
	text := r.Content
	if text == "" && len(r.Blocks) == 0 {
		text = "{}"
	}
	mc := anthropic.NewToolResultMessageContent(r.ToolCallID, text, r.IsError)
	if len(r.Blocks) == 0 {
		return mc
	}

	blocks := make([]anthropic.MessageContent, 0, len(r.Blocks)+1)
	if r.Content != "" {
		blocks = append(blocks, anthropic.NewTextMessageContent(r.Content))
	}
	for _, b := range r.Blocks {
		switch b.Type {
		case "image":
			blocks = append(blocks, anthropic.NewImageMessageContent(
				anthropic.NewMessageContentSource(anthropic.MessagesContentSourceTypeBase64, b.MediaType, b.Data),
			))
		default:
			blocks = append(blocks, anthropic.NewTextMessageContent(b.Text))
		}
	}
	mc.MessageContentToolResult.Content = blocks
	return mc
}

func toAnthropicTools(schemas []engine.ToolSchema) ([]anthropic.ToolDefinition, error) {
	defs := make([]anthropic.ToolDefinition, 0, len(schemas))
	for _, ts := range schemas {
		var schemaObj map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schemaObj); err != nil {
			return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		defs = append(defs, anthropic.ToolDefinition{
			Name:        ts.Name,
			Description: ts.Description,
			InputSchema: schemaObj,
		})
	}
	return defs, nil
}

func decodeArgs(raw []byte) map[string]any {
	args := make(map[string]any)
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return make(map[string]any)
	}
	return args
}
