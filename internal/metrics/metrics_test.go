package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

var _ engine.Hook = (*Hook)(nil)

func TestHook_RecordsRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHook(reg)
	ctx := context.Background()
	st := &engine.RunState{SessionID: "s1", Model: "claude-sonnet-4-20250514", SessionCost: 4200}

	h.OnAfterLLM(ctx, st, engine.LLMResponse{Usage: engine.Usage{InputTokens: 1000, OutputTokens: 200}}, 4200)
	h.OnToolResult(ctx, st, engine.ToolCall{Name: "read_file"}, "ok", nil)
	h.OnToolResult(ctx, st, engine.ToolCall{Name: "run_command"}, "", errors.New("exit 1"))
	h.OnToolResult(ctx, st, engine.ToolCall{Name: "run_command"}, "", errors.New("exit 1"))
	h.OnEscalation(ctx, st, engine.Escalation{Category: engine.CategoryEnv})
	h.OnRetryAttempt(ctx, st, 1, time.Second, errors.New("429"))

	assert.Equal(t, 1000.0, testutil.ToFloat64(h.tokens.WithLabelValues("claude-sonnet-4-20250514", "input")))
	assert.Equal(t, 200.0, testutil.ToFloat64(h.tokens.WithLabelValues("claude-sonnet-4-20250514", "output")))
	assert.Equal(t, 4200.0, testutil.ToFloat64(h.sessionCost.WithLabelValues("s1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.toolCalls.WithLabelValues("read_file", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.toolCalls.WithLabelValues("run_command", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.escalations.WithLabelValues("ENV_ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.retries))

	h.OnDone(ctx, st, engine.RunResult{Status: engine.StatusCompleted, Iterations: 3})
	assert.Equal(t, 1.0, testutil.ToFloat64(h.runs.WithLabelValues("completed")))
	assert.Equal(t, 0, testutil.CollectAndCount(h.sessionCost), "finished sessions drop their gauge")
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHook(reg)
	h.OnSleep(context.Background(), &engine.RunState{}, time.Now())

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	expected := `
# HELP cofounder_agent_budget_sleeps_total Sessions put to sleep until the daily budget renews
# TYPE cofounder_agent_budget_sleeps_total counter
cofounder_agent_budget_sleeps_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cofounder_agent_budget_sleeps_total"))
}
