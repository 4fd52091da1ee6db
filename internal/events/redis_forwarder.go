package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisForwarder republishes bus events on a Redis pub/sub channel.
type RedisForwarder struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

func NewRedisForwarder(client *redis.Client, channel string) *RedisForwarder {
	return &RedisForwarder{client: client, channel: channel, timeout: 2 * time.Second}
}

// Handle is an EventHandler.
func (f *RedisForwarder) Handle(event *Event) error {
	if f.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.client.Publish(ctx, f.channel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}
	return nil
}
