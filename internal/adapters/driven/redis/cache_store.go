package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CacheStore = (*CacheStore)(nil)

// CacheStore keeps each entry as a JSON string under <prefix>cache:<stage>:<fp>
// and tracks access times in the sorted set <prefix>cache:access.
type CacheStore struct {
	client redis.UniversalClient
	prefix string
}

// NewCacheStore creates a cache store whose keys live under <prefix>cache:.
func NewCacheStore(client redis.UniversalClient, prefix string) *CacheStore {
	return &CacheStore{client: client, prefix: prefix + "cache:"}
}

func (c *CacheStore) member(stage string, fp domain.Fingerprint) string {
	return stage + ":" + fp.String()
}

func (c *CacheStore) key(member string) string {
	return c.prefix + member
}

func (c *CacheStore) accessKey() string {
	return c.prefix + "access"
}

func (c *CacheStore) Get(ctx context.Context, stage string, fp domain.Fingerprint) (*domain.CacheEntry, error) {
	member := c.member(stage, fp)
	data, err := c.client.Get(ctx, c.key(member)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, domain.ErrCacheMiss
	}

	now := time.Now().UTC()
	if err := c.client.ZAdd(ctx, c.accessKey(), redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return nil, fmt.Errorf("failed to touch cache entry: %w", err)
	}
	entry.AccessedAt = now
	return &entry, nil
}

func (c *CacheStore) Put(ctx context.Context, entry *domain.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	member := c.member(entry.Stage, entry.Fingerprint)
	accessed := entry.AccessedAt
	if accessed.IsZero() {
		accessed = time.Now()
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(member), data, 0)
		pipe.ZAdd(ctx, c.accessKey(), redis.Z{Score: float64(accessed.UnixNano()), Member: member})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (c *CacheStore) Delete(ctx context.Context, stage string, fp domain.Fingerprint) error {
	member := c.member(stage, fp)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key(member))
		pipe.ZRem(ctx, c.accessKey(), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (c *CacheStore) Count(ctx context.Context) (int, error) {
	n, err := c.client.ZCard(ctx, c.accessKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return int(n), nil
}

func (c *CacheStore) Purge(ctx context.Context, maxEntries int) (int, error) {
	total, err := c.Count(ctx)
	if err != nil {
		return 0, err
	}
	excess := total - maxEntries
	if excess <= 0 {
		return 0, nil
	}

	members, err := c.client.ZRange(ctx, c.accessKey(), 0, int64(excess-1)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, len(members))
	zmembers := make([]interface{}, len(members))
	for i, m := range members {
		keys[i] = c.key(m)
		zmembers[i] = m
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, c.accessKey(), zmembers...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to evict cache entries: %w", err)
	}
	return len(members), nil
}
