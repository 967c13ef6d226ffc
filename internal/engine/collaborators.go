package engine

import (
	"context"
	"time"
)

// Lifecycle is the persisted state of a build session.
type Lifecycle string

const (
	LifecycleRunning   Lifecycle = "running"
	LifecycleSleeping  Lifecycle = "sleeping"
	LifecycleCompleted Lifecycle = "completed"
	LifecycleStopped   Lifecycle = "stopped"
)

// Snapshot is everything needed to resume a session.
type Snapshot struct {
	SessionID   string        `json:"session_id"`
	JobID       string        `json:"job_id"`
	UserID      string        `json:"user_id,omitempty"`
	ProjectID   string        `json:"project_id,omitempty"`
	History     []ChatMessage `json:"history"`
	Iteration   int           `json:"iteration"`
	SandboxID   string        `json:"sandbox_id"`
	Phase       Phase         `json:"phase"`
	RetryCounts *RetryCounts  `json:"retry_counts"`
	SessionCost int64         `json:"session_cost"`
	DailyBudget int64         `json:"daily_budget"`
	Lifecycle   Lifecycle     `json:"lifecycle"`
	CreatedAt   time.Time     `json:"created_at"`
}

// CheckpointStore persists snapshots. Restore returns (nil, nil) when the
// session has none.
type CheckpointStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Restore(ctx context.Context, sessionID string) (*Snapshot, error)
}

// SleepRecorder records when a sleeping session expects to wake.
type SleepRecorder interface {
	MarkSleeping(ctx context.Context, sessionID string, wakeAt time.Time) error
}

// Syncer forces buffered state to durable storage.
type Syncer interface {
	Sync(ctx context.Context) error
}

// WakeSignal blocks a sleeping run until it is set.
type WakeSignal interface {
	Wait(ctx context.Context) error
	Clear()
}

// CostStore is the shared counter store for session spend.
type CostStore interface {
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Subscription is the billing window the daily budget is derived from.
type Subscription struct {
	UserID          string
	RemainingMicros int64
	RenewalDate     time.Time // zero when unknown
}

// SubscriptionSource loads a user's subscription.
type SubscriptionSource interface {
	Subscription(ctx context.Context, userID string) (Subscription, error)
}

// EscalationRecorder persists escalations and returns their id.
type EscalationRecorder interface {
	RecordEscalation(ctx context.Context, esc Escalation) (string, error)
}

// EventType names observability events.
type EventType string

const (
	EventNarration   EventType = "narration"
	EventToolResult  EventType = "tool_result"
	EventSteering    EventType = "steering"
	EventEscalation  EventType = "escalation"
	EventBuildPaused EventType = "build_paused"
	EventSleeping    EventType = "sleeping"
	EventWoke        EventType = "woke"
	EventDone        EventType = "done"
)

// Event is published to the external observability sink.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Label     string         `json:"label,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Publisher sends events for a job to whoever is watching.
type Publisher interface {
	Publish(ctx context.Context, jobID string, ev Event) error
}

// SessionRecord is the final summary of one run.
type SessionRecord struct {
	SessionID   string
	JobID       string
	UserID      string
	ProjectID   string
	Status      Status
	StopMessage string
	Iterations  int
	SessionCost int64
	StartedAt   time.Time
	FinishedAt  time.Time
}

// SessionRecorder persists SessionRecords.
type SessionRecorder interface {
	RecordSession(ctx context.Context, rec SessionRecord) error
}

// Dispatcher executes tool calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, call ToolCall) (ToolOutput, error)
	Schemas() []ToolSchema
}
