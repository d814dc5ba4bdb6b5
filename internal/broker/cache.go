package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"nse-trading-bot/internal/clock"
)

// AccountCache caches funds and position snapshots in front of the gateway.
// Funds/positions are polled by several subsystems on overlapping cadences;
// the cache keeps them from hammering the broker. Entries expire after the
// TTL and can be invalidated explicitly after any order action.
type AccountCache struct {
	gateway Gateway
	clk     clock.Clock
	ttl     time.Duration
	rdb     *redis.Client // Optional cross-process mirror

	mu          sync.Mutex
	funds       *Funds
	fundsAt     time.Time
	positions   []BrokerPosition
	positionsAt time.Time

	hits, misses int64
}

// NewAccountCache wraps a gateway with a TTL cache. rdb may be nil.
func NewAccountCache(gateway Gateway, clk clock.Clock, ttl time.Duration, rdb *redis.Client) *AccountCache {
	return &AccountCache{gateway: gateway, clk: clk, ttl: ttl, rdb: rdb}
}

// Funds returns the cached funds snapshot, refreshing when stale
func (c *AccountCache) Funds(ctx context.Context) (*Funds, error) {
	c.mu.Lock()
	if c.funds != nil && c.clk.Now().Sub(c.fundsAt) < c.ttl {
		f := *c.funds
		c.hits++
		c.mu.Unlock()
		return &f, nil
	}
	c.misses++
	c.mu.Unlock()

	f, err := c.gateway.Funds(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.funds = f
	c.fundsAt = c.clk.Now()
	c.mu.Unlock()

	c.mirror(ctx, "broker:funds", f)
	out := *f
	return &out, nil
}

// Positions returns the cached position rows, refreshing when stale
func (c *AccountCache) Positions(ctx context.Context) ([]BrokerPosition, error) {
	c.mu.Lock()
	if c.positions != nil && c.clk.Now().Sub(c.positionsAt) < c.ttl {
		out := make([]BrokerPosition, len(c.positions))
		copy(out, c.positions)
		c.hits++
		c.mu.Unlock()
		return out, nil
	}
	c.misses++
	c.mu.Unlock()

	positions, err := c.gateway.Positions(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.positions = positions
	c.positionsAt = c.clk.Now()
	c.mu.Unlock()

	c.mirror(ctx, "broker:positions", positions)
	out := make([]BrokerPosition, len(positions))
	copy(out, positions)
	return out, nil
}

// Invalidate drops cached snapshots. Call after any order action so the
// next read reflects the new broker state.
func (c *AccountCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funds = nil
	c.positions = nil
}

// Stats returns hit/miss counters
func (c *AccountCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// mirror writes the latest snapshot to Redis, best effort. The mirror lets
// operator tooling read live state without its own broker session.
func (c *AccountCache) mirror(ctx context.Context, key string, v interface{}) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, key, data, c.ttl)
}
