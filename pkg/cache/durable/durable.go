// Package durable defines the persistent answer cache contract and the
// wrapper the gateway talks to. The wrapper never surfaces store failures:
// reads degrade to misses and writes to no-ops, and a failing store is
// switched off until it answers a ping again.
package durable

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
)

// DefaultTTL is how long a durable entry lives when no TTL is configured.
const DefaultTTL = 7 * 24 * time.Hour

// Store is a persistent answer cache keyed by question hash.
//
// Get must only report a hit for rows whose expiry is strictly in the future
// according to the store's own clock, and must not delete expired rows. Set
// must be a single atomic upsert.
type Store interface {
	Get(ctx context.Context, key string) (models.Response, bool, error)
	Set(ctx context.Context, key, queryText string, resp models.Response, ttl time.Duration) error
	SweepExpired(ctx context.Context) (int64, error)
	Clear(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (models.DurableStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options configures a Cache.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	// OpTimeout bounds every store call. Default 2s.
	OpTimeout time.Duration
	// MaxBackoff caps the delay between health pings of a disabled store.
	// Default 30s.
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

// Cache wraps a Store with failure absorption, a background sweeper and
// hit/miss counters.
type Cache struct {
	store Store
	opts  Options
	log   *slog.Logger

	disabled atomic.Bool
	hits     atomic.Int64
	misses   atomic.Int64
	degraded atomic.Int64

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// New wraps store. When opts.SweepInterval > 0 a goroutine removes expired
// rows on that schedule until Close.
func New(store Store, opts Options) *Cache {
	return newCache(store, opts)
}

// NewDeferred returns a Cache whose store could not be opened yet. The cache
// starts disabled and keeps calling open with backoff until it succeeds,
// after which it behaves like New.
func NewDeferred(open func(context.Context) (Store, error), opts Options) *Cache {
	c := newCache(&deferredStore{open: open}, opts)
	c.fail()
	return c
}

func newCache(store Store, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 2 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Cache{
		store: store,
		opts:  opts,
		log:   opts.Logger.With("component", "durable_cache"),
		done:  make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.opts.TTL }

// Available reports whether the store is currently in use.
func (c *Cache) Available() bool { return !c.disabled.Load() }

// Get returns the cached response for key. Any store failure is logged and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (models.Response, bool) {
	if c.disabled.Load() {
		c.misses.Add(1)
		return models.Response{}, false
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	resp, ok, err := c.store.Get(opCtx, key)
	if err != nil {
		c.misses.Add(1)
		if callerGone(ctx, err) {
			c.log.Debug("durable cache get abandoned by caller", "key", key, "error", err)
			return models.Response{}, false
		}
		c.log.Warn("durable cache get failed, treating as miss", "key", key, "error", err)
		c.fail()
		return models.Response{}, false
	}
	if !ok {
		c.misses.Add(1)
		return models.Response{}, false
	}
	c.hits.Add(1)
	return resp, true
}

// Set upserts resp under key. Failures are logged and dropped. The write
// outlives a cancelled ctx, bounded by OpTimeout.
func (c *Cache) Set(ctx context.Context, key, queryText string, resp models.Response) {
	if c.disabled.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.OpTimeout)
	defer cancel()

	if err := c.store.Set(ctx, key, queryText, resp, c.opts.TTL); err != nil {
		c.log.Warn("durable cache set failed, skipping", "key", key, "error", err)
		c.fail()
	}
}

// SweepExpired deletes expired rows and returns how many were removed.
func (c *Cache) SweepExpired(ctx context.Context) (int64, error) {
	n, err := c.store.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.log.Info("swept expired durable cache entries", "count", n)
	}
	return n, nil
}

// Clear removes every row.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	return c.store.Clear(ctx)
}

// Stats combines the store's row counts with the wrapper's counters. When
// the store cannot be reached only the counters are returned.
func (c *Cache) Stats(ctx context.Context) models.DurableStats {
	var s models.DurableStats
	if !c.disabled.Load() {
		ctx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
		defer cancel()
		st, err := c.store.Stats(ctx)
		if err != nil {
			c.log.Warn("durable cache stats failed", "error", err)
		} else {
			s = st
		}
	}
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	s.Degraded = c.degraded.Load()
	return s
}

// Close stops background work and closes the store.
func (c *Cache) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
	c.wg.Wait()
	return c.store.Close()
}

// fail disables the store and pings it until it recovers.
func (c *Cache) fail() {
	c.degraded.Add(1)
	if !c.disabled.CompareAndSwap(false, true) {
		return
	}
	c.log.Warn("durable cache temporarily disabled")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go c.pingLoop()
}

// callerGone reports whether err came from the caller abandoning the request
// rather than from the store.
func callerGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func (c *Cache) pingLoop() {
	defer c.wg.Done()
	backoff := 100 * time.Millisecond
	for {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.OpTimeout)
		err := c.store.Ping(ctx)
		cancel()
		if err == nil {
			c.disabled.Store(false)
			c.log.Info("durable cache re-enabled")
			return
		}

		backoff += time.Second + time.Duration(rand.IntN(1000))*time.Millisecond
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
		c.log.Warn("durable cache ping failed", "error", err, "next_ping", backoff)
	}
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.disabled.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := c.SweepExpired(ctx); err != nil {
				c.log.Warn("durable cache sweep failed", "error", err)
			}
			cancel()
		}
	}
}
