// Package memory is the in-process, capacity-bounded answer cache that sits in
// front of the durable tier. Nothing here survives a restart.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
)

// Options configures a Cache.
type Options struct {
	// TTL is the default entry lifetime.
	TTL time.Duration `yaml:"ttl"`
	// MaxEntries triggers an eviction pass when exceeded.
	MaxEntries int `yaml:"max_entries"`
	// RetainEntries is how many of the most recently written entries survive
	// an eviction pass.
	RetainEntries int `yaml:"retain_entries"`
}

// DefaultOptions mirrors the production defaults: 10 minutes, 1000 entries,
// 800 retained.
func DefaultOptions() Options {
	return Options{TTL: 10 * time.Minute, MaxEntries: 1000, RetainEntries: 800}
}

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
	seq      uint64
	accesses uint64
}

// Cache is a TTL cache with bulk size-based eviction. Eviction ranks entries
// by write order only; reads never affect which entries survive.
type Cache[V any] struct {
	opts  Options
	now   func() time.Time
	sizer func(V) int

	mu        sync.Mutex
	entries   map[string]*entry[V]
	seq       uint64
	hits      int64
	misses    int64
	evictions int64
}

// Option customizes a Cache.
type Option[V any] func(*Cache[V])

// WithClock replaces the time source.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// WithSizer enables approximate size reporting in Stats.
func WithSizer[V any](sizer func(V) int) Option[V] {
	return func(c *Cache[V]) { c.sizer = sizer }
}

// New creates a Cache. Zero option fields fall back to DefaultOptions.
func New[V any](opts Options, options ...Option[V]) *Cache[V] {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = def.MaxEntries
	}
	if opts.RetainEntries <= 0 || opts.RetainEntries > opts.MaxEntries {
		opts.RetainEntries = max(1, opts.MaxEntries*def.RetainEntries/def.MaxEntries)
	}
	c := &Cache[V]{
		opts:    opts,
		now:     time.Now,
		entries: make(map[string]*entry[V]),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Get returns the value for key. ttlOverride > 0 replaces the entry's TTL for
// this check. An expired entry is removed and reported as a miss.
func (c *Cache[V]) Get(key string, ttlOverride time.Duration) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}

	ttl := e.ttl
	if ttlOverride > 0 {
		ttl = ttlOverride
	}
	if c.now().Sub(e.storedAt) > ttl {
		delete(c.entries, key)
		c.misses++
		return zero, false
	}

	e.accesses++
	c.hits++
	return e.value, true
}

// Set stores value under key, replacing any previous entry and resetting its
// access count. ttlOverride > 0 sets a per-entry TTL.
func (c *Cache[V]) Set(key string, value V, ttlOverride time.Duration) {
	ttl := c.opts.TTL
	if ttlOverride > 0 {
		ttl = ttlOverride
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[key] = &entry[V]{value: value, storedAt: c.now(), ttl: ttl, seq: c.seq}
	if len(c.entries) > c.opts.MaxEntries {
		c.evictLocked()
	}
}

// evictLocked keeps only the RetainEntries most recently written entries.
func (c *Cache[V]) evictLocked() {
	type ranked struct {
		key string
		seq uint64
	}
	all := make([]ranked, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, ranked{key: k, seq: e.seq})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })
	for _, r := range all[c.opts.RetainEntries:] {
		delete(c.entries, r.key)
		c.evictions++
	}
}

// Invalidate removes every entry whose key contains pattern. An empty pattern
// clears the cache. It returns the number of entries removed.
func (c *Cache[V]) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		n := len(c.entries)
		c.entries = make(map[string]*entry[V])
		return n
	}
	n := 0
	for k := range c.entries {
		if strings.Contains(k, pattern) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *Cache[V]) Stats() models.EphemeralStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := models.EphemeralStats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	for k, e := range c.entries {
		if e.accesses > s.MostAccessedCount || (e.accesses == s.MostAccessedCount && e.accesses > 0 && k < s.MostAccessedKey) {
			s.MostAccessedKey = k
			s.MostAccessedCount = e.accesses
		}
		if c.sizer != nil {
			s.SizeBytes += int64(c.sizer(e.value))
		}
	}
	return s
}
