package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DedupStore implements domain.DedupStore on Redis. Keys are written with
// SET NX and a TTL, giving atomic first-writer-wins semantics across bot
// instances and a bounded retention window.
type DedupStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDedupStore creates a DedupStore retaining keys for ttl.
func NewDedupStore(c *Client, ttl time.Duration) *DedupStore {
	return &DedupStore{rdb: c.Underlying(), ttl: ttl}
}

func dedupKey(key string) string {
	return "dedup:" + key
}

// MarkSeen records key and reports whether it was new within the retention
// window.
func (s *DedupStore) MarkSeen(ctx context.Context, key string) (bool, error) {
	fresh, err := s.rdb.SetNX(ctx, dedupKey(key), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark seen %s: %w", key, err)
	}
	return fresh, nil
}

var _ domain.DedupStore = (*DedupStore)(nil)
