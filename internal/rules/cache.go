// Package rules caches per-(venue, symbol) trading rules with a freshness
// window and stale-value fallback.
//
// The precision gate consults these rules on every order, so a rules fetch
// that times out must not take the order down with it: if a refresh fails
// and a previous value exists, the stale value is returned with a warning.
// Only a failure with no prior value propagates the error.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradecore/pkg/types"
)

// DefaultTTL is the freshness window for cached rules.
const DefaultTTL = 30 * time.Minute

// FetchFunc retrieves the authoritative rules for a symbol on a venue.
// The engine supplies a closure over its venue adapters.
type FetchFunc func(ctx context.Context, venue, symbol string) (*types.SymbolInfo, error)

type cacheKey struct {
	venue  string
	symbol string
}

type entry struct {
	info      types.SymbolInfo
	fetchedAt time.Time
}

// Cache is a TTL cache of SymbolInfo keyed by (venue, symbol).
type Cache struct {
	fetch  FetchFunc
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	entries map[cacheKey]entry

	now func() time.Time // injected in tests
}

// NewCache creates a cache with the given TTL; zero means DefaultTTL.
func NewCache(fetch FetchFunc, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		fetch:   fetch,
		ttl:     ttl,
		logger:  logger.With("component", "rules"),
		entries: make(map[cacheKey]entry),
		now:     time.Now,
	}
}

// Get returns the rules for (venue, symbol), refreshing them when older
// than the TTL. On refresh failure the previous value is returned stale;
// with no previous value the error propagates.
func (c *Cache) Get(ctx context.Context, venue, symbol string) (types.SymbolInfo, error) {
	key := cacheKey{venue: venue, symbol: symbol}

	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()

	if ok && c.now().Sub(cached.fetchedAt) < c.ttl {
		return cached.info, nil
	}

	info, err := c.fetch(ctx, venue, symbol)
	if err != nil {
		if ok {
			c.logger.Warn("rules refresh failed, serving stale value",
				"venue", venue, "symbol", symbol,
				"age", c.now().Sub(cached.fetchedAt), "error", err)
			return cached.info, nil
		}
		return types.SymbolInfo{}, fmt.Errorf("fetch rules for %s on %s: %w", symbol, venue, err)
	}

	c.mu.Lock()
	c.entries[key] = entry{info: *info, fetchedAt: c.now()}
	c.mu.Unlock()

	return *info, nil
}

// Invalidate drops the cached value for (venue, symbol).
func (c *Cache) Invalidate(venue, symbol string) {
	c.mu.Lock()
	delete(c.entries, cacheKey{venue: venue, symbol: symbol})
	c.mu.Unlock()
}
