package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

var history = []engine.ChatMessage{
	{Role: engine.RoleUser, Content: "Show me the logo."},
	{Role: engine.RoleAssistant, Content: "Looking.", ToolCalls: []engine.ToolCall{
		{ID: "call_1", Name: "view_image", Args: map[string]any{"path": "logo.png"}},
		{ID: "call_2", Name: "read_file", Args: map[string]any{"path": "README.md"}},
	}},
	{Role: engine.RoleUser, ToolResults: []engine.ToolResult{
		{ToolCallID: "call_1", ToolName: "view_image", Blocks: []engine.ContentBlock{
			{Type: "image", MediaType: "image/png", Data: "aGVsbG8="},
		}},
		{ToolCallID: "call_2", ToolName: "read_file", Content: "# Demo"},
	}},
}

func TestToOpenAIMessages_ToolResultsAndImages(t *testing.T) {
	msgs, err := toOpenAIMessages("be helpful", history)
	require.NoError(t, err)

	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	assert.Equal(t, []string{"system", "user", "assistant", "tool", "tool", "user"}, roles)

	assert.Len(t, msgs[2].ToolCalls, 2)
	assert.JSONEq(t, `{"path":"logo.png"}`, msgs[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.Equal(t, "{}", msgs[3].Content, "empty tool content is never sent")
	assert.Equal(t, "# Demo", msgs[4].Content)

	require.Len(t, msgs[5].MultiContent, 2)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", msgs[5].MultiContent[1].ImageURL.URL)
}

func TestToAnthropicMessages_KeepsImagesInToolResult(t *testing.T) {
	msgs, err := toAnthropicMessages(history)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	results := msgs[2].Content
	require.Len(t, results, 2)
	require.NotNil(t, results[0].MessageContentToolResult)
	assert.Equal(t, "call_1", *results[0].MessageContentToolResult.ToolUseID)
	require.Len(t, results[0].MessageContentToolResult.Content, 1)
	assert.NotNil(t, results[0].MessageContentToolResult.Content[0].Source)
}

func TestToMessages_RejectsInvalidHistory(t *testing.T) {
	bad := []engine.ChatMessage{{Role: engine.RoleAssistant, ToolResults: []engine.ToolResult{{ToolCallID: "x"}}}}
	_, err := toOpenAIMessages("", bad)
	assert.Error(t, err)
	_, err = toAnthropicMessages(bad)
	assert.Error(t, err)
}

func TestToolSchemas_InvalidJSON(t *testing.T) {
	_, err := toOpenAITools([]engine.ToolSchema{{Name: "x", JSONSchema: "{"}})
	assert.ErrorContains(t, err, "invalid tool schema JSON for x")
	_, err = toAnthropicTools([]engine.ToolSchema{{Name: "x", JSONSchema: "{"}})
	assert.Error(t, err)
}

func sseServer(t *testing.T, status int, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_StreamTurn(t *testing.T) {
	srv := sseServer(t, http.StatusOK,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Reading the "}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"file."}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_9","type":"function","function":{"name":"read_file","arguments":"{\"path\":"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"main.go\"}"}}]},"finish_reason":"tool_calls"}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":120,"completion_tokens":30,"total_tokens":150}}`,
	)
	client, err := NewOpenAIClient("test-key", srv.URL)
	require.NoError(t, err)

	var deltas []string
	resp, err := client.StreamTurn(context.Background(), engine.TurnRequest{
		Model:    "gpt-4o",
		System:   "sys",
		Messages: []engine.ChatMessage{{Role: engine.RoleUser, Content: "go"}},
	}, func(s string) { deltas = append(deltas, s) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Reading the ", "file."}, deltas)
	assert.Equal(t, "Reading the file.", resp.Text)
	assert.Equal(t, engine.StopToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.Equal(t, "main.go", resp.ToolCalls[0].Args["path"])
	assert.Equal(t, engine.Usage{InputTokens: 120, OutputTokens: 30}, resp.Usage)
}

func TestOpenAIClient_StreamTurnRateLimited(t *testing.T) {
	srv := sseServer(t, http.StatusTooManyRequests)
	client, err := NewOpenAIClient("test-key", srv.URL)
	require.NoError(t, err)

	_, err = client.StreamTurn(context.Background(), engine.TurnRequest{
		Model:    "gpt-4o",
		Messages: []engine.ChatMessage{{Role: engine.RoleUser, Content: "go"}},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, engine.RetryClassRetryable, engine.ClassifyLLMError(err))
}

func TestExtractErrorMetadata(t *testing.T) {
	status, after := extractErrorMetadata(errors.New("status code 429: too many requests, retry-after: 12"))
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "12", after)

	status, after = extractErrorMetadata(&openai.APIError{HTTPStatusCode: 503, Message: "overloaded"})
	assert.Equal(t, 503, status)
	assert.Empty(t, after)

	status, _ = extractErrorMetadata(nil)
	assert.Zero(t, status)
}

func TestNewLLMClient(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, _, err := NewLLMClient(Config{Provider: "anthropic"})
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	client, model, err := NewLLMClient(Config{Provider: "Anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, client)
	assert.Equal(t, "claude-sonnet-4-20250514", model)

	client, model, err = NewLLMClient(Config{Provider: "ollama", Model: "qwen2.5-coder"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, client)
	assert.Equal(t, "qwen2.5-coder", model)

	_, _, err = NewLLMClient(Config{Provider: "nope"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "supported: anthropic"))
}
