package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "suivour:updates:"

// RedisHub fans out through Redis pub/sub so that a write accepted by one
// syncd replica reaches subscribers connected to any other replica.
type RedisHub struct {
	client *redis.Client
}

func NewRedisHub(redisURL string) (*RedisHub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisHubWithClient(redis.NewClient(opts)), nil
}

func NewRedisHubWithClient(client *redis.Client) *RedisHub {
	return &RedisHub{client: client}
}

func (h *RedisHub) Publish(ctx context.Context, accountID string, update Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	if err := h.client.Publish(ctx, channelPrefix+accountID, payload).Err(); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, accountID string) (<-chan Update, func(), error) {
	sub := h.client.Subscribe(ctx, channelPrefix+accountID)
	// Wait for the subscription to be confirmed so a publish immediately
	// after Subscribe returns cannot be missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", accountID, err)
	}

	out := make(chan Update, 8)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var update Update
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				continue
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

func (h *RedisHub) Close() error {
	return h.client.Close()
}
