// Package redis provides a Redis-backed key-value store for deployments
// where several kiosk clients share one profile (identity cache and replay
// markers live server-side instead of on the box).
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type KV struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewKV wraps client. ttl bounds how long values live; zero means no expiry.
func NewKV(client *redis.Client, prefix string, ttl time.Duration) *KV {
	return &KV{client: client, prefix: prefix, ttl: ttl}
}

func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *KV) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.key(key), value, s.ttl).Err()
}

func (s *KV) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *KV) key(key string) string {
	return s.prefix + key
}
