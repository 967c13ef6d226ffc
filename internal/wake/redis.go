package wake

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "cofounder:wake:"

// Channel is the pub/sub channel a session's wake message is sent on.
func Channel(sessionID string) string { return channelPrefix + sessionID }

// Publish asks whichever process runs the session to wake it. It returns
// the number of listeners that received the message.
func Publish(ctx context.Context, rdb redis.UniversalClient, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, errors.New("wake: session id is required")
	}
	return rdb.Publish(ctx, Channel(sessionID), "wake").Result()
}

// RedisListener sets local gates when wake messages arrive.
type RedisListener struct {
	rdb    redis.UniversalClient
	reg    *Registry
	logger *log.Logger
}

func NewRedisListener(rdb redis.UniversalClient, reg *Registry) *RedisListener {
	return &RedisListener{rdb: rdb, reg: reg, logger: log.Default()}
}

// Run subscribes and dispatches until ctx is done. ready, if non-nil, is
// closed once the subscription is confirmed.
func (l *RedisListener) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := l.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			session := strings.TrimPrefix(msg.Channel, channelPrefix)
			if l.reg.Wake(session) {
				l.logger.Printf("wake signal received for session=%s", session)
			}
		}
	}
}
