package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, opts Options) (*Cache[string], *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New[string](opts, WithClock[string](clk.Now)), clk
}

func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(t, DefaultOptions())

	c.Set("k1", "v1", 0)
	got, ok := c.Get("k1", 0)
	if !ok || got != "v1" {
		t.Fatalf("expected hit with v1, got %q %v", got, ok)
	}

	if _, ok := c.Get("missing", 0); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestExpiredReadRemovesEntry(t *testing.T) {
	c, clk := newTestCache(t, Options{TTL: time.Minute, MaxEntries: 10, RetainEntries: 8})

	c.Set("k1", "v1", 0)
	clk.Advance(time.Minute)
	if _, ok := c.Get("k1", 0); !ok {
		t.Fatal("entry exactly at its TTL should still be served")
	}

	clk.Advance(time.Millisecond)
	if _, ok := c.Get("k1", 0); ok {
		t.Fatal("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired read should remove the entry, %d left", c.Len())
	}
}

func TestTTLOverrides(t *testing.T) {
	c, clk := newTestCache(t, Options{TTL: time.Hour, MaxEntries: 10, RetainEntries: 8})

	c.Set("short", "v", 5*time.Second)
	c.Set("long", "v", 0)
	clk.Advance(10 * time.Second)

	if _, ok := c.Get("short", 0); ok {
		t.Error("per-entry TTL set on write should apply")
	}
	if _, ok := c.Get("long", 5*time.Second); ok {
		t.Error("TTL override on read should apply")
	}
}

func TestOverwriteResetsAccessCount(t *testing.T) {
	c, _ := newTestCache(t, DefaultOptions())

	c.Set("k", "v1", 0)
	c.Get("k", 0)
	c.Get("k", 0)
	if s := c.Stats(); s.MostAccessedKey != "k" || s.MostAccessedCount != 2 {
		t.Fatalf("unexpected stats: %+v", s)
	}

	c.Set("k", "v2", 0)
	if s := c.Stats(); s.MostAccessedCount != 0 {
		t.Errorf("overwrite should reset access count, got %d", s.MostAccessedCount)
	}
	if got, _ := c.Get("k", 0); got != "v2" {
		t.Errorf("expected overwritten value, got %q", got)
	}
}

func TestEvictionKeepsMostRecentWrites(t *testing.T) {
	c, _ := newTestCache(t, Options{TTL: time.Hour, MaxEntries: 1000, RetainEntries: 800})

	for i := 0; i < 1001; i++ {
		c.Set(fmt.Sprintf("key-%04d", i), "v", 0)
	}

	if c.Len() != 800 {
		t.Fatalf("expected 800 entries after eviction, got %d", c.Len())
	}
	for i := 0; i < 201; i++ {
		if _, ok := c.Get(fmt.Sprintf("key-%04d", i), 0); ok {
			t.Fatalf("key-%04d should have been evicted", i)
		}
	}
	for i := 201; i < 1001; i++ {
		if _, ok := c.Get(fmt.Sprintf("key-%04d", i), 0); !ok {
			t.Fatalf("key-%04d should have survived", i)
		}
	}
	if s := c.Stats(); s.Evictions != 201 {
		t.Errorf("expected 201 evictions, got %d", s.Evictions)
	}
}

func TestEvictionIgnoresReads(t *testing.T) {
	c, _ := newTestCache(t, Options{TTL: time.Hour, MaxEntries: 4, RetainEntries: 2})

	c.Set("a", "v", 0)
	c.Set("b", "v", 0)
	c.Set("c", "v", 0)
	c.Set("d", "v", 0)
	for i := 0; i < 10; i++ {
		c.Get("a", 0)
	}
	c.Set("e", "v", 0)

	if _, ok := c.Get("a", 0); ok {
		t.Error("frequently read but old entry should still be evicted")
	}
	if _, ok := c.Get("d", 0); !ok {
		t.Error("expected d to survive")
	}
	if _, ok := c.Get("e", 0); !ok {
		t.Error("expected e to survive")
	}
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(t, DefaultOptions())

	c.Set("answer:abc", "v", 0)
	c.Set("answer:def", "v", 0)
	c.Set("schema:abc", "v", 0)

	if n := c.Invalidate("abc"); n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if _, ok := c.Get("answer:def", 0); !ok {
		t.Error("non-matching entry should survive")
	}
	if n := c.Invalidate(""); n != 1 {
		t.Errorf("expected 1 removed by full clear, got %d", n)
	}
	if c.Len() != 0 {
		t.Error("expected empty cache")
	}
}

func TestStatsSizer(t *testing.T) {
	c := New[string](DefaultOptions(), WithSizer(func(s string) int { return len(s) }))
	c.Set("a", "hello", 0)
	c.Set("b", "hi", 0)
	c.Get("a", 0)
	c.Get("zzz", 0)

	s := c.Stats()
	if s.SizeBytes != 7 {
		t.Errorf("expected 7 bytes, got %d", s.SizeBytes)
	}
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("unexpected hit/miss counters: %+v", s)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](Options{TTL: time.Minute, MaxEntries: 100, RetainEntries: 50})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("%d-%d", g, i%120)
				c.Set(key, i, 0)
				c.Get(key, 0)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("cache grew past its ceiling: %d", c.Len())
	}
}

func TestSingleEntryCacheKeepsLastWrite(t *testing.T) {
	c, _ := newTestCache(t, Options{TTL: time.Hour, MaxEntries: 1})

	c.Set("a", "1", 0)
	if got, ok := c.Get("a", 0); !ok || got != "1" {
		t.Fatalf("expected the only entry to survive its own write, got %q %v", got, ok)
	}
	c.Set("b", "2", 0)
	if got, ok := c.Get("b", 0); !ok || got != "2" {
		t.Errorf("expected the newest entry to survive, got %q %v", got, ok)
	}
	if _, ok := c.Get("a", 0); ok {
		t.Error("older entry should have been evicted")
	}
}
