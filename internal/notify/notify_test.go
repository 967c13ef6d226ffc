package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
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

func TestNewRedisPublisher_RequiresClient(t *testing.T) {
	_, err := NewRedisPublisher(Options{})
	assert.Error(t, err)
}

func TestRedisPublisher_LiveAndHistory(t *testing.T) {
	if testRedis == nil {
		t.Skip("redis not available")
	}
	ctx := context.Background()
	pub, err := NewRedisPublisher(Options{Redis: testRedis.Client, HistoryLen: 10})
	require.NoError(t, err)

	sub := testRedis.Client.Subscribe(ctx, Channel("job-1"))
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	ev := engine.Event{Type: engine.EventToolResult, SessionID: "s", Label: "run_command", Summary: "ok", At: time.Now().UTC()}
	require.NoError(t, pub.Publish(ctx, "job-1", ev))

	select {
	case msg := <-sub.Channel():
		var got engine.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, ev.Summary, got.Summary)
		assert.Equal(t, ev.Type, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no live event received")
	}

	require.NoError(t, pub.Publish(ctx, "job-1", engine.Event{Type: engine.EventDone, Summary: "completed"}))
	hist, err := pub.History(ctx, "job-1", 5)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, engine.EventToolResult, hist[0].Type)
	assert.Equal(t, engine.EventDone, hist[1].Type)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := LogPublisher{L: log.New(&buf, "", 0)}
	require.NoError(t, p.Publish(context.Background(), "job-9", engine.Event{Type: engine.EventNarration, Summary: "Setting up the project."}))
	assert.Contains(t, buf.String(), "[job-9] narration: Setting up the project.")
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, engine.Event) error {
	return errors.New("sink down")
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	m := Multi{failingPublisher{}, LogPublisher{L: log.New(&buf, "", 0)}}
	err := m.Publish(context.Background(), "j", engine.Event{Type: engine.EventDone, Summary: "completed"})
	assert.ErrorContains(t, err, "sink down")
	assert.Contains(t, buf.String(), "completed")
}
