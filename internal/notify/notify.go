// Package notify delivers loop events to whoever is watching a build.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

const defaultHistoryLen = 1000

// Channel is the live pub/sub channel for a job's events.
func Channel(jobID string) string { return fmt.Sprintf("cofounder:jobs:%s:events", jobID) }

// StreamKey is the capped stream late subscribers replay from.
func StreamKey(jobID string) string { return fmt.Sprintf("cofounder:jobs:%s:log", jobID) }

// RedisPublisher publishes each event live and appends it to a capped
// stream in one pipeline.
type RedisPublisher struct {
	rdb        redis.UniversalClient
	historyLen int64
}

// Options configures a RedisPublisher.
type Options struct {
	Redis redis.UniversalClient
	// HistoryLen caps the replay stream (default 1000 entries).
	HistoryLen int64
}

func NewRedisPublisher(opts Options) (*RedisPublisher, error) {
	if opts.Redis == nil {
		return nil, errors.New("notify: redis client is required")
	}
	if opts.HistoryLen <= 0 {
		opts.HistoryLen = defaultHistoryLen
	}
	return &RedisPublisher{rdb: opts.Redis, historyLen: opts.HistoryLen}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, jobID string, ev engine.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, Channel(jobID), payload)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: StreamKey(jobID),
			MaxLen: p.historyLen,
			Approx: true,
			Values: map[string]any{"type": string(ev.Type), "event": payload},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s event for job %s: %w", ev.Type, jobID, err)
	}
	return nil
}

// History returns up to count of the most recent events for a job, oldest first.
func (p *RedisPublisher) History(ctx context.Context, jobID string, count int64) ([]engine.Event, error) {
	msgs, err := p.rdb.XRevRangeN(ctx, StreamKey(jobID), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read event history for job %s: %w", jobID, err)
	}
	out := make([]engine.Event, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		raw, ok := msgs[i].Values["event"].(string)
		if !ok {
			continue
		}
		var ev engine.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// LogPublisher writes events to a logger, for local runs without Redis.
type LogPublisher struct{ L *log.Logger }

func (p LogPublisher) Publish(_ context.Context, jobID string, ev engine.Event) error {
	switch {
	case ev.Label != "":
		p.L.Printf("[%s] %s %s: %s", jobID, ev.Type, ev.Label, ev.Summary)
	default:
		p.L.Printf("[%s] %s: %s", jobID, ev.Type, ev.Summary)
	}
	return nil
}

// Multi fans an event out to several publishers and joins their errors.
type Multi []engine.Publisher

func (m Multi) Publish(ctx context.Context, jobID string, ev engine.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, jobID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
