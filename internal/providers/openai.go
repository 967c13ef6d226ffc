package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIClient implements engine.LLMClient for OpenAI and compatible APIs.
type OpenAIClient struct {
	client *openai.Client
	logger *log.Logger
}

// NewOpenAIClient creates a client. baseURL is optional.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config), logger: log.Default()}, nil
}

// StreamTurn streams one assistant turn, forwarding text deltas to onText.
func (c *OpenAIClient) StreamTurn(ctx context.Context, req engine.TurnRequest, onText func(string)) (engine.LLMResponse, error) {
	msgs, err := toOpenAIMessages(req.System, req.Messages)
	if err != nil {
		return engine.LLMResponse{}, err
	}
	tools, err := toOpenAITools(req.Tools)
	if err != nil {
		return engine.LLMResponse{}, err
	}

	oreq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if len(tools) > 0 {
		oreq.Tools = tools
		oreq.ToolChoice = "auto"
	}
	if req.MaxOutputTokens > 0 {
		oreq.MaxTokens = req.MaxOutputTokens
	}
	if req.Temperature > 0 {
		temperature := req.Temperature
		oreq.Temperature = &temperature
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		httpStatus, retryAfter := extractErrorMetadata(err)
		return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus, retryAfter)
	}
	defer stream.Close()

	// OpenAI sends tool call fields as deltas keyed by index
	type accumulator struct {
		id, name string
		args     strings.Builder
	}
	accum := make(map[int]*accumulator)
	var (
		text   strings.Builder
		usage  engine.Usage
		finish openai.FinishReason
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			httpStatus, retryAfter := extractErrorMetadata(err)
			return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus, retryAfter)
		}

		// The usage chunk arrives last and carries no choices
		if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
			usage = engine.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if onText != nil {
				onText(choice.Delta.Content)
			}
		}
		for _, d := range choice.Delta.ToolCalls {
			idx := len(accum)
			if d.Index != nil {
				idx = *d.Index
			}
			acc, ok := accum[idx]
			if !ok {
				acc = &accumulator{}
				accum[idx] = acc
			}
			if d.ID != "" {
				acc.id = d.ID
			}
			if d.Function.Name != "" {
				acc.name = d.Function.Name
			}
			acc.args.WriteString(d.Function.Arguments)
		}
	}

	indexes := make([]int, 0, len(accum))
	for i := range accum {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var toolCalls []engine.ToolCall
	for _, i := range indexes {
		acc := accum[i]
		if acc.name == "" {
			continue
		}
		args := decodeArgs([]byte(acc.args.String()))
		if acc.args.Len() > 0 && len(args) == 0 {
			c.logger.Printf("⚠️  tool call %s (%s) sent unparseable arguments (%d bytes)", acc.name, acc.id, acc.args.Len())
		}
		toolCalls = append(toolCalls, engine.ToolCall{ID: acc.id, Name: acc.name, Args: args})
	}

	return engine.LLMResponse{
		Text:       text.String(),
		ToolCalls:  toolCalls,
		StopReason: openAIStopReason(finish, len(toolCalls) > 0),
		Usage:      usage,
		Model:      req.Model,
	}, nil
}

func openAIStopReason(reason openai.FinishReason, hasTools bool) engine.StopReason {
	switch {
	case hasTools || reason == openai.FinishReasonToolCalls:
		return engine.StopToolUse
	case reason == openai.FinishReasonLength:
		return engine.StopMaxTokens
	default:
		return engine.StopEndTurn
	}
}

// toOpenAIMessages flattens tool results into tool-role messages. Images
// cannot ride in a tool message, so they follow as a user message.
func toOpenAIMessages(system string, messages []engine.ChatMessage) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		if err := msg.Validate(); err != nil {
			return nil, err
		}
		switch msg.Role {
		case engine.RoleUser:
			var images []openai.ChatMessagePart
			for _, r := range msg.ToolResults {
				content := r.Content
				if content == "" {
					content = "{}"
				}
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: r.ToolCallID,
					Content:    content,
				})
				for _, b := range r.Blocks {
					if b.Type != "image" {
						continue
					}
					images = append(images, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: "data:" + b.MediaType + ";base64," + b.Data},
					})
				}
			}
			if len(images) > 0 {
				parts := append([]openai.ChatMessagePart{{
					Type: openai.ChatMessagePartTypeText,
					Text: "Images returned by the tool calls above:",
				}}, images...)
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
			}
			if msg.Content != "" {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
			}
		case engine.RoleAssistant:
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				argsJSON, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, fmt.Errorf("marshal args for %s: %w", tc.Name, err)
				}
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func toOpenAITools(schemas []engine.ToolSchema) ([]openai.Tool, error) {
	tools := make([]openai.Tool, 0, len(schemas))
	for _, ts := range schemas {
		var params map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &params); err != nil {
			return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

// extractErrorMetadata pulls the HTTP status and Retry-After value out of an
// SDK error, falling back to scanning the message.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	var httpStatus int
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		httpStatus = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		httpStatus = reqErr.HTTPStatusCode
	}

	errStr := err.Error()
	if httpStatus == 0 {
		for _, code := range []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
			529, // anthropic overloaded
			http.StatusUnauthorized,
			http.StatusPaymentRequired,
			http.StatusForbidden,
			http.StatusBadRequest,
		} {
			if strings.Contains(errStr, fmt.Sprint(code)) {
				httpStatus = code
				break
			}
		}
	}

	var retryAfter string
	lower := strings.ToLower(errStr)
	for _, marker := range []string{"retry-after:", "retry-after", "retry after"} {
		if idx := strings.Index(lower, marker); idx != -1 {
			if parts := strings.Fields(errStr[idx+len(marker):]); len(parts) > 0 {
				retryAfter = strings.Trim(parts[0], ":,;")
			}
			break
		}
	}

	return httpStatus, retryAfter
}
