package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL bounds how long a resolved value may be served without a store
// round trip. Invalidation normally evicts entries long before expiry.
const DefaultTTL = 30 * time.Minute

// Key identifies one resolved value: (user, key, project). ProjectID is
// uuid.Nil for user-scope resolutions.
type Key struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
	Key       string
}

// Entry is a cached resolution result.
type Entry struct {
	Value    any
	Source   types.Tier
	DataType types.DataType
}

// Pattern selects cache entries for invalidation. Zero-value fields act as
// wildcards: a write to the user tier invalidates with ProjectID left nil so
// every project-scoped resolution for that (user, key) is evicted too.
type Pattern struct {
	Key       string
	UserID    uuid.UUID
	ProjectID uuid.UUID
}

// Matches reports whether the cache key falls under the pattern. Keys compare
// case-insensitively to match the store's folded key lookups.
func (p Pattern) Matches(k Key) bool {
	if p.Key != "" && !strings.EqualFold(p.Key, k.Key) {
		return false
	}
	if p.UserID != uuid.Nil && p.UserID != k.UserID {
		return false
	}
	if p.ProjectID != uuid.Nil && p.ProjectID != k.ProjectID {
		return false
	}
	return true
}

// Invalidator is the narrow contract mutating components depend on. Mutation
// code calls Invalidate directly; the dependency stays visible and testable
// instead of hiding behind a broadcast bus.
type Invalidator interface {
	Invalidate(pattern Pattern)
}

// ResolutionCache is the full cache contract used by the resolver. The cache
// is an optimization only: a cold cache must yield identical results through
// the resolver's store fallback.
type ResolutionCache interface {
	Invalidator
	Get(key Key) (Entry, bool)
	Put(key Key, entry Entry)
	OnInvalidate(fn func(Pattern))
}

// Config tunes the TTL cache.
type Config struct {
	TTL      time.Duration
	Capacity uint64
}

// TTLCache is the default ResolutionCache backed by a TTL-bound in-memory
// store. Safe for unbounded concurrent readers.
type TTLCache struct {
	inner *ttlcache.Cache[Key, Entry]

	mu        sync.RWMutex
	observers []func(Pattern)
}

// New constructs a TTL cache and starts its eviction loop.
func New(cfg Config) *TTLCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	opts := []ttlcache.Option[Key, Entry]{
		ttlcache.WithTTL[Key, Entry](ttl),
	}
	if cfg.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[Key, Entry](cfg.Capacity))
	}
	c := &TTLCache{inner: ttlcache.New(opts...)}
	go c.inner.Start()
	return c
}

var _ ResolutionCache = (*TTLCache)(nil)

// Get returns the cached entry when present and unexpired.
func (c *TTLCache) Get(key Key) (Entry, bool) {
	item := c.inner.Get(key)
	if item == nil {
		return Entry{}, false
	}
	return item.Value(), true
}

// Put stores the entry under the cache TTL.
func (c *TTLCache) Put(key Key, entry Entry) {
	c.inner.Set(key, entry, ttlcache.DefaultTTL)
}

// Invalidate evicts every entry matching the pattern and notifies registered
// observers so sharded caches can evict consistently without a shared lock.
func (c *TTLCache) Invalidate(pattern Pattern) {
	for _, key := range c.inner.Keys() {
		if pattern.Matches(key) {
			c.inner.Delete(key)
		}
	}
	c.notify(pattern)
}

// OnInvalidate registers an invalidation observer. Observers run on the
// invalidating goroutine; keep them cheap.
func (c *TTLCache) OnInvalidate(fn func(Pattern)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Stop terminates the eviction loop.
func (c *TTLCache) Stop() {
	c.inner.Stop()
}

func (c *TTLCache) notify(pattern Pattern) {
	c.mu.RLock()
	observers := make([]func(Pattern), len(c.observers))
	copy(observers, c.observers)
	c.mu.RUnlock()
	for _, fn := range observers {
		fn(pattern)
	}
}

// Nop is a no-op cache for tests and cache-bypass wiring.
type Nop struct{}

var _ ResolutionCache = Nop{}

// Get implements ResolutionCache; always a miss.
func (Nop) Get(Key) (Entry, bool) { return Entry{}, false }

// Put implements ResolutionCache.
func (Nop) Put(Key, Entry) {}

// Invalidate implements ResolutionCache.
func (Nop) Invalidate(Pattern) {}

// OnInvalidate implements ResolutionCache.
func (Nop) OnInvalidate(func(Pattern)) {}
