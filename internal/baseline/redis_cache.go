package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RemoteCache is the shared baseline tier consulted after the local cache.
// Get returns the profile with its remaining lifetime, or a nil profile on a
// miss. A remaining lifetime <= 0 means the entry has no expiry.
type RemoteCache interface {
	Get(ctx context.Context, userID string) (*Profile, time.Duration, error)
	Set(ctx context.Context, p *Profile, ttl time.Duration) error
}

// RedisCache stores profiles as JSON under baseline:{user_id}.
type RedisCache struct {
	client redis.Cmdable
}

var _ RemoteCache = (*RedisCache)(nil)

// NewRedisCache wraps an existing client.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisClient parses a redis:// URL and returns a connected client.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func redisKey(userID string) string {
	return "baseline:" + userID
}

func (c *RedisCache) Get(ctx context.Context, userID string) (*Profile, time.Duration, error) {
	key := redisKey(userID)
	var (
		getCmd *redis.StringCmd
		ttlCmd *redis.DurationCmd
	)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, key)
		ttlCmd = pipe.PTTL(ctx, key)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("redis get baseline: %w", err)
	}

	data, err := getCmd.Bytes()
	if err != nil {
		return nil, 0, fmt.Errorf("redis get baseline: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, 0, fmt.Errorf("decode cached baseline: %w", err)
	}
	if p.CommonMerchants == nil {
		p.CommonMerchants = []string{}
	}
	// PTTL reports -1 for a key without expiry.
	remaining := ttlCmd.Val()
	if remaining < 0 {
		remaining = 0
	}
	return &p, remaining, nil
}

func (c *RedisCache) Set(ctx context.Context, p *Profile, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	if err := c.client.Set(ctx, redisKey(p.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set baseline: %w", err)
	}
	return nil
}

// PingContext lets the cache serve as a health.Pinger.
func (c *RedisCache) PingContext(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
