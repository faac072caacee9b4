package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a shared dedupe store for multi-instance deployments,
// used when REDIS_URL is configured (spec.md §6).
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds a RedisStore from a redis:// URL.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("dedupe: parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl, prefix: "bridge:dedupe:"}, nil
}

func (r *RedisStore) SeenRecently(ctx context.Context, taskID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+taskID).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) MarkSeen(ctx context.Context, taskID string) error {
	if err := r.client.Set(ctx, r.prefix+taskID, "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe: redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
