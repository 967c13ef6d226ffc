// Package metrics exports build-agent activity to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

const namespace = "cofounder"

// Hook is an engine.Hook that records run activity.
type Hook struct {
	engine.NopHook

	runs        *prometheus.CounterVec
	iterations  prometheus.Histogram
	toolCalls   *prometheus.CounterVec
	steering    prometheus.Counter
	escalations *prometheus.CounterVec
	tokens      *prometheus.CounterVec
	spend       *prometheus.CounterVec
	retries     prometheus.Counter
	sleeps      prometheus.Counter
	sessionCost *prometheus.GaugeVec
}

// NewHook registers the collectors on reg.
func NewHook(reg prometheus.Registerer) *Hook {
	f := promauto.With(reg)
	return &Hook{
		// runs counts finished runs.
		// Labels: status (completed, iteration_limit_reached, budget_exceeded, ...)
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Finished agent runs by terminal status",
		}, []string{"status"}),
		iterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "run_iterations",
			Help:      "Tool dispatches per finished run",
			Buckets:   []float64{1, 5, 10, 25, 50, 75, 100, 150},
		}),
		// toolCalls counts dispatched tool calls.
		// Labels: tool, outcome (ok, error)
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool calls by tool and outcome",
		}, []string{"tool", "outcome"}),
		steering: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "steering_total",
			Help:      "Repetitive tool calls answered with a steering message",
		}),
		escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "escalations_total",
			Help:      "Problems escalated to the founder by error category",
		}, []string{"category"}),
		// tokens counts model tokens.
		// Labels: model, direction (input, output)
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Model tokens by direction",
		}, []string{"model", "direction"}),
		spend: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "spend_micros_total",
			Help:      "Model spend in micro-dollars",
		}, []string{"model"}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Retried model calls",
		}),
		sleeps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "budget_sleeps_total",
			Help:      "Sessions put to sleep until the daily budget renews",
		}),
		sessionCost: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "session_cost_micros",
			Help:      "Spend of each running session in micro-dollars",
		}, []string{"session_id"}),
	}
}

func (h *Hook) OnAfterLLM(_ context.Context, st *engine.RunState, resp engine.LLMResponse, cost int64) {
	model := resp.Model
	if model == "" {
		model = st.Model
	}
	h.tokens.WithLabelValues(model, "input").Add(float64(resp.Usage.InputTokens))
	h.tokens.WithLabelValues(model, "output").Add(float64(resp.Usage.OutputTokens))
	h.spend.WithLabelValues(model).Add(float64(cost))
	h.sessionCost.WithLabelValues(st.SessionID).Set(float64(st.SessionCost))
}

func (h *Hook) OnToolResult(_ context.Context, _ *engine.RunState, call engine.ToolCall, _ string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.toolCalls.WithLabelValues(call.Name, outcome).Inc()
}

func (h *Hook) OnSteering(context.Context, *engine.RunState, engine.ToolCall) {
	h.steering.Inc()
}

func (h *Hook) OnEscalation(_ context.Context, _ *engine.RunState, esc engine.Escalation) {
	h.escalations.WithLabelValues(string(esc.Category)).Inc()
}

func (h *Hook) OnRetryAttempt(context.Context, *engine.RunState, int, time.Duration, error) {
	h.retries.Inc()
}

func (h *Hook) OnSleep(context.Context, *engine.RunState, time.Time) {
	h.sleeps.Inc()
}

func (h *Hook) OnDone(_ context.Context, st *engine.RunState, res engine.RunResult) {
	h.runs.WithLabelValues(string(res.Status)).Inc()
	h.iterations.Observe(float64(res.Iterations))
	h.sessionCost.DeleteLabelValues(st.SessionID)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
