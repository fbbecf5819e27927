// Package cache provides the bounded result cache.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/jobrunner/cuenca/internal/ports/output"
)

// Default cache settings.
const (
	DefaultCapacity = 512
)

// Config holds cache configuration.
type Config struct {
	Name     string        // label used in logs
	Capacity uint64        // max in-memory entries, least recently used evicted first
	TTL      time.Duration // 0 keeps entries until evicted
}

// Cache is an in-memory LRU with an optional persistent second tier.
type Cache struct {
	name  string
	mem   *ttlcache.Cache[string, []byte]
	store output.ResultStore
	group singleflight.Group
	log   *slog.Logger
}

// New creates a cache. store may be nil.
func New(cfg Config, store output.ResultStore, logger *slog.Logger) *Cache {
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	mem := ttlcache.New(
		ttlcache.WithTTL[string, []byte](cfg.TTL),
		ttlcache.WithCapacity[string, []byte](cfg.Capacity),
	)
	return &Cache{
		name:  cfg.Name,
		mem:   mem,
		store: store,
		log:   logger,
	}
}

// Start runs the expiry loop until Stop is called. Only needed with a TTL.
func (c *Cache) Start() {
	c.mem.Start()
}

// Stop ends the expiry loop and closes the persistent store.
func (c *Cache) Stop() {
	c.mem.Stop()
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.log.Warn("closing result store", "cache", c.name, "error", err)
		}
	}
}

// Do implements output.ResultCache. The shared computation runs detached
// from the caller that started it, so a cancelled caller only abandons its
// own wait; callers still waiting receive the result.
func (c *Cache) Do(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if item := c.mem.Get(key); item != nil {
		return item.Value(), true, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(shared, key, compute)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(result)
		return r.value, r.hit, nil
	}
}

type result struct {
	value []byte
	hit   bool
}

// load resolves key from memory, then the persistent store, then compute.
func (c *Cache) load(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) (result, error) {
	// Another caller may have filled the entry while we waited.
	if item := c.mem.Get(key); item != nil {
		return result{item.Value(), true}, nil
	}

	if c.store != nil {
		value, ok, err := c.store.Get(ctx, key)
		if err != nil {
			c.log.Warn("result store read failed", "cache", c.name, "key", key, "error", err)
		} else if ok {
			c.mem.Set(key, value, ttlcache.DefaultTTL)
			return result{value, true}, nil
		}
	}

	value, err := compute(ctx)
	if err != nil {
		return result{}, err
	}
	c.mem.Set(key, value, ttlcache.DefaultTTL)

	if c.store != nil {
		if err := c.store.Put(ctx, key, value); err != nil {
			c.log.Warn("result store write failed", "cache", c.name, "key", key, "error", err)
		}
	}
	return result{value, false}, nil
}

// Len implements output.ResultCache.
func (c *Cache) Len() int {
	return c.mem.Len()
}

// Purge implements output.ResultCache. The persistent store is kept.
func (c *Cache) Purge() {
	c.mem.DeleteAll()
}

// Stats returns the in-memory hit, miss and eviction counters.
func (c *Cache) Stats() ttlcache.Metrics {
	return c.mem.Metrics()
}
