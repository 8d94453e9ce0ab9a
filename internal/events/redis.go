package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher appends events to a capped Redis list and announces them on a
// pub/sub channel of the same name.
type RedisPublisher struct {
	client redis.UniversalClient
	key    string
	maxLen int64
}

// NewRedisPublisher creates a publisher writing to key. maxLen <= 0 keeps the list uncapped.
func NewRedisPublisher(client redis.UniversalClient, key string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, key: key, maxLen: maxLen}
}

// Publish appends the event and trims the list in one round trip.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, p.key, payload)
		if p.maxLen > 0 {
			pipe.LTrim(ctx, p.key, -p.maxLen, -1)
		}
		pipe.Publish(ctx, p.key, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close is a no-op; the client is closed by its owner.
func (p *RedisPublisher) Close() error {
	return nil
}

var _ Publisher = (*RedisPublisher)(nil)
