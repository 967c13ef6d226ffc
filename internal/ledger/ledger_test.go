package ledger

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/testutil/redistest"
)

var testRedis *redistest.Server

func TestMain(m *testing.M) {
	ctx := context.Background()
	srv, err := redistest.Start(ctx)
	if err != nil {
		fmt.Printf("Docker not available, redis tests will be skipped: %v\n", err)
	}
	testRedis = srv
	code := m.Run()
	testRedis.Close(ctx)
	os.Exit(code)
}

func stores(t *testing.T) map[string]engine.CostStore {
	out := map[string]engine.CostStore{"memory": NewMemoryStore()}
	if testRedis != nil {
		rs, err := NewRedisStore(testRedis.Client)
		require.NoError(t, err)
		out["redis"] = rs
	}
	return out
}

func TestCostStore_Counter(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "test:counter:" + t.Name()
			t.Cleanup(func() { _ = s.Del(ctx, key) })

			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Zero(t, got, "missing key reads as zero")

			n, err := s.IncrBy(ctx, key, 1500)
			require.NoError(t, err)
			assert.EqualValues(t, 1500, n)
			n, err = s.IncrBy(ctx, key, 500)
			require.NoError(t, err)
			assert.EqualValues(t, 2000, n)

			require.NoError(t, s.Expire(ctx, key, time.Hour))
			got, err = s.Get(ctx, key)
			require.NoError(t, err)
			assert.EqualValues(t, 2000, got)

			require.NoError(t, s.Del(ctx, key))
			got, err = s.Get(ctx, key)
			require.NoError(t, err)
			assert.Zero(t, got)
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = s.IncrBy(ctx, "k", 10)
	require.NoError(t, s.Expire(ctx, "k", time.Minute))

	now = now.Add(59 * time.Second)
	got, _ := s.Get(ctx, "k")
	assert.EqualValues(t, 10, got)

	now = now.Add(time.Second)
	got, _ = s.Get(ctx, "k")
	assert.Zero(t, got)
}

func TestBudgetTrackerOverRedis(t *testing.T) {
	if testRedis == nil {
		t.Skip("redis not available")
	}
	rs, err := NewRedisStore(testRedis.Client)
	require.NoError(t, err)
	bt := engine.NewBudgetTracker(rs, nil)
	ctx := context.Background()
	t.Cleanup(func() { _ = bt.ResetSessionCost(ctx, "sess", "user") })

	total := bt.RecordCallCost(ctx, "sess", "user", "claude-sonnet-4-20250514", 1000, 1000)
	assert.EqualValues(t, 18_000, total)

	ttl, err := testRedis.Client.TTL(ctx, bt.CostKey("sess", "user")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 24*time.Hour)
}
