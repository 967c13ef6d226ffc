package engine

import (
	"errors"
	"log"
)

// RunnerBuilder helps construct a Runner with a fluent API.
type RunnerBuilder struct {
	r *Runner
}

// NewRunnerBuilder creates a builder with default configuration.
func NewRunnerBuilder() *RunnerBuilder {
	return &RunnerBuilder{r: &Runner{cfg: DefaultRunnerConfig(), logger: log.Default()}}
}

// WithConfig replaces the whole loop configuration.
func (b *RunnerBuilder) WithConfig(cfg RunnerConfig) *RunnerBuilder {
	b.r.cfg = cfg
	return b
}

// WithModel sets the model name.
func (b *RunnerBuilder) WithModel(model string) *RunnerBuilder {
	b.r.cfg.Model = model
	return b
}

// WithMaxToolCalls sets the tool-call cap.
func (b *RunnerBuilder) WithMaxToolCalls(n int) *RunnerBuilder {
	b.r.cfg.MaxToolCalls = n
	return b
}

// WithLLMRetry sets the provider retry policy.
func (b *RunnerBuilder) WithLLMRetry(p RetryPolicy) *RunnerBuilder {
	b.r.cfg.LLMRetry = p
	return b
}

// WithLLM sets the model client.
func (b *RunnerBuilder) WithLLM(llm LLMClient) *RunnerBuilder {
	b.r.llm = llm
	return b
}

// WithDispatcher sets the tool dispatcher.
func (b *RunnerBuilder) WithDispatcher(d Dispatcher) *RunnerBuilder {
	b.r.tools = d
	return b
}

// WithCheckpoints sets where snapshots are saved and restored from.
func (b *RunnerBuilder) WithCheckpoints(s CheckpointStore) *RunnerBuilder {
	b.r.checkpoints = s
	return b
}

// WithBudget enables spend tracking and the graceful-sleep path.
func (b *RunnerBuilder) WithBudget(bt *BudgetTracker) *RunnerBuilder {
	b.r.budget = bt
	return b
}

// WithErrorTracker enables retry guidance and escalations. Without it tool
// failures are reported as plain error text.
func (b *RunnerBuilder) WithErrorTracker(t *ErrorTracker) *RunnerBuilder {
	b.r.tracker = t
	return b
}

// WithWake sets the signal a sleeping run waits on.
func (b *RunnerBuilder) WithWake(w WakeSignal) *RunnerBuilder {
	b.r.wake = w
	return b
}

// WithPublisher sets the observability sink.
func (b *RunnerBuilder) WithPublisher(p Publisher) *RunnerBuilder {
	b.r.publisher = p
	return b
}

// WithSessionRecorder sets where final session records go.
func (b *RunnerBuilder) WithSessionRecorder(s SessionRecorder) *RunnerBuilder {
	b.r.sessions = s
	return b
}

// WithHooks sets custom hooks.
func (b *RunnerBuilder) WithHooks(hooks Hooks) *RunnerBuilder {
	b.r.hooks = hooks
	return b
}

// WithLogger sets the logger used for non-fatal collaborator failures.
func (b *RunnerBuilder) WithLogger(l *log.Logger) *RunnerBuilder {
	if l != nil {
		b.r.logger = l
	}
	return b
}

// Build validates and returns the Runner.
func (b *RunnerBuilder) Build() (*Runner, error) {
	if b.r.llm == nil {
		return nil, errors.New("runner: LLM client is required")
	}
	if b.r.tools == nil {
		return nil, errors.New("runner: tool dispatcher is required")
	}
	if b.r.cfg.Model == "" {
		return nil, errors.New("runner: model is required")
	}
	if b.r.budget != nil && b.r.wake == nil {
		return nil, errors.New("runner: a wake signal is required when budget tracking is enabled")
	}
	if b.r.tracker != nil {
		b.r.tracker.logger = b.r.logger
	}
	if b.r.budget != nil {
		b.r.budget.logger = b.r.logger
	}
	r := b.r
	b.r = &Runner{cfg: r.cfg, logger: r.logger}
	return r, nil
}
