// Package cache memoizes pack compositions keyed by catalog and quantity.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eugenenazirov/packs-optimizer/internal/calculator"
)

// Supported backend names.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Cache stores computed compositions. Implementations are safe for
// concurrent use; a failed lookup is reported as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (calculator.Composition, bool)
	Set(ctx context.Context, key string, value calculator.Composition)
	Stats() Stats
	Close() error
}

// Stats holds cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

type counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

func (c *counters) snapshot(size int) Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

// Key identifies a composition by the exact catalog it was computed against,
// so a catalog replace never serves stale results.
func Key(sizes []int, quantity int) string {
	var b strings.Builder
	b.WriteString("packs:")
	for i, size := range sizes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(size))
	}
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(quantity))
	return b.String()
}

type entry struct {
	value      calculator.Composition
	expiration time.Time
}

func (e *entry) isExpired(now time.Time) bool {
	return now.After(e.expiration)
}

// Memory is an in-process TTL cache bounded by a maximum entry count.
type Memory struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	stats   counters

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMemory creates a memory cache. A positive cleanupInterval starts a
// janitor goroutine that removes expired entries until Close is called.
// maxEntries <= 0 leaves the cache unbounded.
func NewMemory(ttl, cleanupInterval time.Duration, maxEntries int) *Memory {
	c := &Memory{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*entry),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	} else {
		close(c.done)
	}
	return c
}

// Get returns a copy of the cached composition.
func (c *Memory) Get(_ context.Context, key string) (calculator.Composition, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if !found || e.isExpired(c.now()) {
		c.stats.misses.Add(1)
		return nil, false
	}

	c.stats.hits.Add(1)
	return e.value.Clone(), true
}

// Set stores a copy of value, evicting the entry closest to expiry when full.
func (c *Memory) Set(_ context.Context, key string, value calculator.Composition) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = &entry{
		value:      value.Clone(),
		expiration: now.Add(c.ttl),
	}
	c.stats.sets.Add(1)
}

// Stats returns cache counters.
func (c *Memory) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return c.stats.snapshot(size)
}

// Close stops the janitor. It is safe to call more than once.
func (c *Memory) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
	return nil
}

func (c *Memory) deleteExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.entries {
		if e.isExpired(now) {
			delete(c.entries, key)
			count++
		}
	}
	c.stats.evictions.Add(int64(count))
	return count
}

func (c *Memory) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, e := range c.entries {
		if e.isExpired(now) {
			delete(c.entries, key)
			c.stats.evictions.Add(1)
			return
		}
		if oldestKey == "" || e.expiration.Before(oldest) {
			oldestKey, oldest = key, e.expiration
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.evictions.Add(1)
	}
}

func (c *Memory) janitor(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

// Noop never stores anything.
type Noop struct{}

// NewNoop returns a cache that always misses.
func NewNoop() Noop { return Noop{} }

func (Noop) Get(context.Context, string) (calculator.Composition, bool) { return nil, false }
func (Noop) Set(context.Context, string, calculator.Composition)        {}
func (Noop) Stats() Stats                                               { return Stats{} }
func (Noop) Close() error                                               { return nil }
