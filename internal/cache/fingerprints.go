// Package cache holds the in-process fingerprint cache. Fingerprints change
// rarely relative to scan frequency, so the orchestrator reads through this
// cache instead of hitting the fingerprint source on every hunt.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gavelhound/sourcing-cli/internal/model"
)

// Fingerprints is a concurrent-safe LRU cache with TTL expiration, keyed by
// fingerprint id. The clock is injected so expiry is testable without sleeps.
type Fingerprints struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	nowFunc    func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type entry struct {
	fp        model.Fingerprint
	createdAt time.Time
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewFingerprints creates a cache with the given capacity and TTL.
func NewFingerprints(maxEntries int, ttl time.Duration) *Fingerprints {
	return &Fingerprints{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		nowFunc:    time.Now,
	}
}

// WithClock overrides the cache's clock. Test hook.
func (c *Fingerprints) WithClock(now func() time.Time) *Fingerprints {
	c.nowFunc = now
	return c
}

// Get returns the cached fingerprint for the id, or false on miss or expiry.
func (c *Fingerprints) Get(id string) (model.Fingerprint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		c.misses.Add(1)
		return model.Fingerprint{}, false
	}

	if c.nowFunc().Sub(e.createdAt) > c.ttl {
		delete(c.entries, id)
		c.removeFromOrder(id)
		c.misses.Add(1)
		return model.Fingerprint{}, false
	}

	// Move to back (most recently used).
	c.removeFromOrder(id)
	c.order = append(c.order, id)
	c.hits.Add(1)
	return e.fp, true
}

// Put stores a fingerprint, evicting the oldest entry if at capacity.
func (c *Fingerprints) Put(fp model.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[fp.ID]; ok {
		c.entries[fp.ID] = &entry{fp: fp, createdAt: c.nowFunc()}
		c.removeFromOrder(fp.ID)
		c.order = append(c.order, fp.ID)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[fp.ID] = &entry{fp: fp, createdAt: c.nowFunc()}
	c.order = append(c.order, fp.ID)
}

// Invalidate removes one fingerprint from the cache.
func (c *Fingerprints) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.removeFromOrder(id)
}

// Stats returns cache performance statistics.
func (c *Fingerprints) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	maxEntries := c.maxEntries
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:    entries,
		MaxEntries: maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *Fingerprints) removeFromOrder(id string) {
	for i, k := range c.order {
		if k == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
