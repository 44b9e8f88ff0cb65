package storage

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/carbon-marketplace/internal/models"
)

// PropertyLoader fetches a property from the backing store
type PropertyLoader func(ctx context.Context, id string) (*models.Property, error)

// PropertyCache is the process-lifetime detail cache keyed by property id.
//
// Entries are write-once: the first successful load wins and is never replaced,
// evicted or expired. Concurrent misses for the same id share one load.
type PropertyCache struct {
	mu      sync.RWMutex
	entries map[string]*models.Property

	hits   atomic.Int64
	misses atomic.Int64

	inflightMu sync.Mutex
	inflight   map[string]*inflightLoad
}

type inflightLoad struct {
	done chan struct{}
	prop *models.Property
	err  error
}

// NewPropertyCache creates an empty cache
func NewPropertyCache() *PropertyCache {
	return &PropertyCache{
		entries:  make(map[string]*models.Property),
		inflight: make(map[string]*inflightLoad),
	}
}

// Get returns a cached copy
func (c *PropertyCache) Get(id string) (*models.Property, bool) {
	c.mu.RLock()
	p, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Put stores p unless an entry already exists; it reports whether p was stored
func (c *PropertyCache) Put(p *models.Property) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[p.ID]; exists {
		return false
	}
	cp := *p
	c.entries[p.ID] = &cp
	return true
}

// GetOrLoad returns the cached entry or loads, stores and returns it.
// A failed load is not cached. A caller whose context ends while waiting
// on another caller's load gets ctx.Err().
func (c *PropertyCache) GetOrLoad(ctx context.Context, id string, load PropertyLoader) (*models.Property, error) {
	if p, ok := c.Get(id); ok {
		c.hits.Add(1)
		return p, nil
	}
	c.misses.Add(1)

	c.inflightMu.Lock()
	if fl, ok := c.inflight[id]; ok {
		c.inflightMu.Unlock()
		select {
		case <-fl.done:
			if fl.err != nil {
				return nil, fl.err
			}
			return c.mustGet(id, fl.prop), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fl := &inflightLoad{done: make(chan struct{})}
	c.inflight[id] = fl
	c.inflightMu.Unlock()

	fl.prop, fl.err = load(ctx, id)
	if fl.err == nil {
		c.Put(fl.prop)
	}

	c.inflightMu.Lock()
	delete(c.inflight, id)
	c.inflightMu.Unlock()
	close(fl.done)

	if fl.err != nil {
		return nil, fl.err
	}
	return c.mustGet(id, fl.prop), nil
}

// mustGet reads the winning entry, falling back to the loaded value
func (c *PropertyCache) mustGet(id string, loaded *models.Property) *models.Property {
	if p, ok := c.Get(id); ok {
		return p
	}
	cp := *loaded
	return &cp
}

// PropertyCacheStats reports cache effectiveness
type PropertyCacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Stats returns current counters
func (c *PropertyCache) Stats() PropertyCacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return PropertyCacheStats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
}
