package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const balanceKey = "balance:usd"

// BalanceCache decorates a domain.BalanceProvider with a short-lived Redis
// cache, so a burst of trade events does not issue one RPC balance lookup
// per event. Cache errors fall through to the underlying provider.
type BalanceCache struct {
	rdb  *redis.Client
	next domain.BalanceProvider
	ttl  time.Duration
}

// NewBalanceCache wraps next with a cache of the given ttl.
func NewBalanceCache(c *Client, next domain.BalanceProvider, ttl time.Duration) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying(), next: next, ttl: ttl}
}

// BalanceUSD returns the cached balance when fresh, otherwise queries the
// underlying provider and caches the result.
func (b *BalanceCache) BalanceUSD(ctx context.Context) (float64, error) {
	val, err := b.rdb.Get(ctx, balanceKey).Result()
	if err == nil {
		if bal, perr := strconv.ParseFloat(val, 64); perr == nil {
			return bal, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis: get balance: %w", err)
	}

	bal, err := b.next.BalanceUSD(ctx)
	if err != nil {
		return 0, err
	}
	if err := b.rdb.Set(ctx, balanceKey, strconv.FormatFloat(bal, 'f', -1, 64), b.ttl).Err(); err != nil {
		return bal, nil // cache write failure is not a lookup failure
	}
	return bal, nil
}

// Invalidate drops the cached balance, forcing the next lookup through to
// the provider. Called after fills change the collateral balance.
func (b *BalanceCache) Invalidate(ctx context.Context) {
	_ = b.rdb.Del(ctx, balanceKey).Err()
}

var _ domain.BalanceProvider = (*BalanceCache)(nil)
