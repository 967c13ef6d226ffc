package engine

import "time"

// RunnerConfig holds all loop tuning knobs.
type RunnerConfig struct {
	Model           string
	MaxToolCalls    int // tool dispatches per run (default: 150)
	MaxOutputTokens int
	Temperature     float32
	LLMRetry        RetryPolicy
	SummaryLimit    int // max characters of an event summary (default: 200)
}

// DefaultRunnerConfig returns sensible defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Model:           "claude-sonnet-4-20250514",
		MaxToolCalls:    DefaultMaxToolCalls,
		MaxOutputTokens: 8192,
		Temperature:     0.2,
		LLMRetry:        DefaultLLMRetryPolicy(),
		SummaryLimit:    200,
	}
}

// DefaultLLMRetryPolicy retries transient provider failures.
func DefaultLLMRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}
