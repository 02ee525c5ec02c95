package quiz

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	usageKeyPrefix = "funstudy:usage:"
	// DefaultUsageTTL bounds how long an idle session's usage set is kept.
	DefaultUsageTTL = 24 * time.Hour
)

// RedisUsageCache stores each session's served ids as a Redis set so several
// server instances share one view. Sets expire after the TTL instead of
// being bounded by a session count.
type RedisUsageCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ UsageCache = (*RedisUsageCache)(nil)

// NewRedisUsageCache returns a cache backed by client. A ttl of 0 uses
// DefaultUsageTTL.
func NewRedisUsageCache(client redis.Cmdable, ttl time.Duration) *RedisUsageCache {
	if ttl <= 0 {
		ttl = DefaultUsageTTL
	}
	return &RedisUsageCache{client: client, ttl: ttl}
}

func usageKey(sessionID string) string {
	return usageKeyPrefix + sessionID
}

func (c *RedisUsageCache) Used(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	members, err := c.client.SMembers(ctx, usageKey(sessionID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reading usage set: %w", err)
	}
	out := make(map[string]struct{}, len(members))
	for _, id := range members {
		out[id] = struct{}{}
	}
	return out, nil
}

func (c *RedisUsageCache) Record(ctx context.Context, sessionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	key := usageKey(sessionID)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, members...)
		p.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}
	return nil
}

func (c *RedisUsageCache) Reset(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, usageKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("resetting usage set: %w", err)
	}
	return nil
}
