// Package cache provides the in-memory rule projection read by the
// dispatcher. It stores whole per-channel snapshots, so a reader always gets
// a complete rule set as last committed by the backend.
package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// Loader reads a channel's rules from durable storage.
type Loader func(ctx context.Context, channelID string) ([]types.Rule, error)

// Stats reports cache counters.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
	Channels      int   `json:"channels"`
}

// RuleCache is a read-through cache of channel snapshots.
//
// Each channel carries a generation that Invalidate bumps. A load started
// before an invalidation is keyed by the old generation and is not stored,
// so a stale snapshot can never overwrite a newer write.
type RuleCache struct {
	load  Loader
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string][]types.Rule
	gens    map[string]uint64
	epoch   uint64

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// New creates a cache that reads through load.
func New(load Loader) *RuleCache {
	return &RuleCache{
		load:    load,
		entries: make(map[string][]types.Rule),
		gens:    make(map[string]uint64),
	}
}

// Get returns a copy of the channel's snapshot, loading it on a miss.
// Concurrent misses for the same channel share one load.
func (c *RuleCache) Get(ctx context.Context, channelID string) ([]types.Rule, error) {
	c.mu.RLock()
	rules, ok := c.entries[channelID]
	gen, epoch := c.gens[channelID], c.epoch
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		return slices.Clone(rules), nil
	}
	c.misses.Add(1)

	key := fmt.Sprintf("%d/%d/%s", epoch, gen, channelID)
	v, err, _ := c.group.Do(key, func() (any, error) {
		loaded, err := c.load(ctx, channelID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[channelID] == gen && c.epoch == epoch {
			c.entries[channelID] = loaded
		}
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]types.Rule)), nil
}

// Invalidate drops the channel's snapshot.
func (c *RuleCache) Invalidate(channelID string) {
	c.mu.Lock()
	delete(c.entries, channelID)
	c.gens[channelID]++
	c.mu.Unlock()
	c.invalidations.Add(1)
}

// InvalidateAll drops every snapshot.
func (c *RuleCache) InvalidateAll() {
	c.mu.Lock()
	clear(c.entries)
	c.epoch++
	c.mu.Unlock()
	c.invalidations.Add(1)
}

// Stats returns current counters.
func (c *RuleCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Channels:      n,
	}
}
