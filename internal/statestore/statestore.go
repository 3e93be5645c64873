// Package statestore implements the sole coordination substrate for
// cross-process invariants: atomic set-if-absent-with-TTL, integer
// counters, TTL management, and a fire-and-forget pub/sub channel set. It
// is backed by Redis (github.com/redis/go-redis/v9), the same client the
// ManuGH-xg2g example wires for its cache layer.
package statestore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAbsent names the key-already-set condition. SetIfAbsent does not
// return it: it reports an existing key as (false, nil).
var ErrNotAbsent = errors.New("statestore: key already set")

// Store is the State Store contract spec.md §4.A describes.
type Store interface {
	// SetIfAbsent atomically sets key to value with the given TTL only if
	// key does not already exist. Returns true if the set happened.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)

	// Publish is fire-and-forget: a slow or absent subscriber set never
	// blocks or errors the publisher.
	Publish(ctx context.Context, channel, payload string)
	// Subscribe returns a channel of payloads published to channel after
	// subscription and before the returned cancel func is called. No
	// message persistence: a publish that arrives before Subscribe
	// returns is lost, matching spec.md §4.A.
	Subscribe(ctx context.Context, channel string) (<-chan string, func())
}

// RedisStore is a Store backed by a go-redis client (a connection pool to
// one Redis instance).
type RedisStore struct {
	client *redis.Client
}

// New dials a Redis instance at the given connection URL
// (e.g. redis://127.0.0.1:6379/0).
func New(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an already-constructed *redis.Client. Used by tests
// to point the store at a miniredis instance.
func NewFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	return s.client.Decr(ctx, key).Result()
}

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) {
	// Errors are logged here, never propagated back to whatever triggered
	// the publish — spec.md §4.E: "publishers are never blocked by slow
	// subscribers; the bus is fire-and-forget."
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		slog.Warn("statestore: publish failed", "channel", channel, "error", err)
	}
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan string, func()) {
	pubsub := s.client.Subscribe(ctx, channel)
	out := make(chan string, 64)

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cancel := func() {
		_ = pubsub.Close()
	}
	return out, cancel
}

// Client exposes the underlying redis.Client for components (like a
// lease-renewal loop) that need raw access beyond the Store interface.
func (s *RedisStore) Client() *redis.Client { return s.client }
