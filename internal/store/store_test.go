package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

var (
	_ engine.CheckpointStore    = (*DB)(nil)
	_ engine.SleepRecorder      = (*DB)(nil)
	_ engine.Syncer             = (*DB)(nil)
	_ engine.EscalationRecorder = (*DB)(nil)
	_ engine.SubscriptionSource = (*DB)(nil)
	_ engine.SessionRecorder    = (*DB)(nil)
)

func openTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "cofounder.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCheckpoint_SaveRestoreLatest(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	snap, err := db.Restore(ctx, "sess")
	require.NoError(t, err)
	assert.Nil(t, snap, "no snapshot yet")

	counts := engine.NewRetryCounts()
	counts.Replace(map[string]int{"SyntaxError:abcd": 2})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		require.NoError(t, db.Save(ctx, engine.Snapshot{
			SessionID: "sess",
			JobID:     "job",
			History: []engine.ChatMessage{
				{Role: engine.RoleUser, Content: "build it"},
				{Role: engine.RoleAssistant, Content: "on it"},
			},
			Iteration:   i,
			SandboxID:   "sb-1",
			Phase:       engine.PhaseBuild,
			RetryCounts: counts,
			SessionCost: int64(i * 1000),
			DailyBudget: 50_000,
			Lifecycle:   engine.LifecycleRunning,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := db.Restore(ctx, "sess")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Iteration)
	assert.EqualValues(t, 3000, got.SessionCost)
	assert.Equal(t, engine.PhaseBuild, got.Phase)
	assert.Len(t, got.History, 2)
	require.NotNil(t, got.RetryCounts)
	assert.Equal(t, 2, got.RetryCounts.Get("SyntaxError:abcd"))

	other, err := db.Restore(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestCheckpoint_PrunesToKeep(t *testing.T) {
	db := openTestDB(t, WithKeepCheckpoints(2))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		require.NoError(t, db.Save(ctx, engine.Snapshot{
			SessionID: "sess",
			Iteration: i,
			Lifecycle: engine.LifecycleRunning,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	metas, err := db.ListCheckpoints(ctx, "sess", 0)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, 5, metas[0].Iteration)
	assert.Equal(t, 4, metas[1].Iteration)
}

func TestSleepMarkers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	wake := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.MarkSleeping(ctx, "a", wake))
	require.NoError(t, db.MarkSleeping(ctx, "b", wake.Add(time.Hour)))

	due, err := db.DueSleepers(ctx, wake)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].SessionID)
	assert.True(t, due[0].WakeAt.Equal(wake))

	require.NoError(t, db.ClearSleeping(ctx, "a"))
	due, err = db.DueSleepers(ctx, wake.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "b", due[0].SessionID)
}

func TestEscalations_RecordListResolve(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	esc := engine.Escalation{
		ProjectID:         "proj",
		SessionID:         "sess",
		JobID:             "job",
		ErrorType:         "PermissionError",
		ErrorMessage:      "permission denied: /etc/hosts",
		Category:          engine.CategoryNeverRetry,
		Attempts:          1,
		ProblemSummary:    "I can't write to a protected file.",
		RecommendedAction: "skip",
		Options:           engine.EscalationOptions(engine.CategoryNeverRetry),
	}
	id, err := db.RecordEscalation(ctx, esc)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	pending, err := db.ListEscalations(ctx, "proj", EscalationPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, engine.CategoryNeverRetry, pending[0].Category)
	assert.Len(t, pending[0].Options, 2)

	assert.Error(t, db.ResolveEscalation(ctx, id, "not-an-option"))
	require.NoError(t, db.ResolveEscalation(ctx, id, pending[0].Options[0].Value))

	pending, err = db.ListEscalations(ctx, "proj", EscalationPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := db.GetEscalation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, EscalationResolved, got.Status)
	assert.Equal(t, got.Options[0].Value, got.Resolution)
	assert.False(t, got.ResolvedAt.IsZero())

	_, err = db.GetEscalation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Subscription(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	renewal := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.UpsertSubscription(ctx, engine.Subscription{UserID: "u1", RemainingMicros: 5_000_000, RenewalDate: renewal}))
	sub, err := db.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 5_000_000, sub.RemainingMicros)
	assert.True(t, sub.RenewalDate.Equal(renewal))

	require.NoError(t, db.UpsertSubscription(ctx, engine.Subscription{UserID: "u1", RemainingMicros: 1}))
	sub, err = db.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, sub.RemainingMicros)
	assert.True(t, sub.RenewalDate.IsZero())
}

func TestSessions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, db.RecordSession(ctx, engine.SessionRecord{
		SessionID: "s", JobID: "j1", Status: engine.StatusBudgetExceeded,
		StopMessage: "paused", Iterations: 12, SessionCost: 900,
		StartedAt: start, FinishedAt: start.Add(time.Hour),
	}))
	require.NoError(t, db.RecordSession(ctx, engine.SessionRecord{
		SessionID: "s", JobID: "j2", Status: engine.StatusCompleted,
		Iterations: 20, StartedAt: start.Add(2 * time.Hour), FinishedAt: start.Add(3 * time.Hour),
	}))

	recs, err := db.ListSessions(ctx, "s")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, engine.StatusCompleted, recs[0].Status)
	assert.Equal(t, "j1", recs[1].JobID)
	assert.Equal(t, 12, recs[1].Iterations)
}

func TestSync(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Sync(context.Background()))
}
