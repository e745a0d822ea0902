package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "companion:cache:"

// Redis is a Cache backed by Redis string keys with expiry. It lets several
// server processes share research results for the same project.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, namespace, key string) (json.RawMessage, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+cacheKey(namespace, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return json.RawMessage(val), true, nil
}

func (r *Redis) Set(ctx context.Context, namespace, key string, value json.RawMessage) error {
	if err := r.client.Set(ctx, r.prefix+cacheKey(namespace, key), []byte(value), r.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
