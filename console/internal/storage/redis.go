package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Key prefix for stored values
	redisKeyPrefix = "edos:console:kv:"

	// Pub/sub channel carrying Change messages
	redisChangeChannel = "edos:console:changes"
)

// Redis stores values in Redis and broadcasts changes over pub/sub, so that
// every console attached to the same Redis observes the same session.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Redis{
		client: client,
		logger: logger,
	}, nil
}

// Get returns the value for key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores value under key and publishes the change.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return err
	}
	r.publish(ctx, Change{Key: key, Value: value})
	return nil
}

// Delete removes key and publishes the change.
func (r *Redis) Delete(ctx context.Context, key string) error {
	n, err := r.client.Del(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		r.publish(ctx, Change{Key: key, Deleted: true})
	}
	return nil
}

// Watch subscribes to the change channel.
func (r *Redis) Watch(ctx context.Context) (<-chan Change, error) {
	sub := r.client.Subscribe(ctx, redisChangeChannel)

	// Wait for the subscription confirmation so no change is missed after return.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", redisChangeChannel, err)
	}

	out := make(chan Change, watchBuffer)
	msgs := sub.Channel()

	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					r.logger.Debug("ignoring malformed change message", "error", err)
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) publish(ctx context.Context, c Change) {
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, redisChangeChannel, payload).Err(); err != nil {
		r.logger.Warn("failed to publish storage change", "key", c.Key, "error", err)
	}
}
