package feeds

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE CACHE - Thread-safe top-of-book store
// ═══════════════════════════════════════════════════════════════════════════════
//
// Written by the push listener and the poll fetcher, read by the tick loop.
// Every entry is freshness-stamped; consumers must treat entries older than
// their threshold as absent.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PriceCache stores the latest top-of-book sample per token
type PriceCache struct {
	mu     sync.RWMutex
	points map[string]types.PricePoint
}

// NewPriceCache creates an empty cache
func NewPriceCache() *PriceCache {
	return &PriceCache{
		points: make(map[string]types.PricePoint),
	}
}

// Put overwrites the sample for a token
func (c *PriceCache) Put(tokenID string, bid, ask decimal.Decimal, origin types.PriceOrigin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points[tokenID] = types.PricePoint{
		TokenID:   tokenID,
		BestBid:   bid,
		BestAsk:   ask,
		Origin:    origin,
		Timestamp: time.Now(),
	}
}

// Get returns the latest sample for a token regardless of age
func (c *PriceCache) Get(tokenID string) (types.PricePoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.points[tokenID]
	return p, ok
}

// GetFresh returns the sample only if it is no older than maxAge
func (c *PriceCache) GetFresh(tokenID string, maxAge time.Duration) (types.PricePoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.points[tokenID]
	if !ok || time.Since(p.Timestamp) > maxAge {
		return types.PricePoint{}, false
	}
	return p, true
}

// NewestAge returns the age of the freshest entry across the given tokens.
// ok is false when none of the tokens have any sample at all.
func (c *PriceCache) NewestAge(tokenIDs []string, now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var newest time.Time
	for _, id := range tokenIDs {
		if p, ok := c.points[id]; ok && p.Timestamp.After(newest) {
			newest = p.Timestamp
		}
	}
	if newest.IsZero() {
		return 0, false
	}
	return now.Sub(newest), true
}

// Snapshot returns a copy of all entries
func (c *PriceCache) Snapshot() map[string]types.PricePoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]types.PricePoint, len(c.points))
	for k, v := range c.points {
		out[k] = v
	}
	return out
}

// Len returns the number of tracked tokens
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.points)
}
