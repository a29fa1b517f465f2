package durable

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
)

var errDown = errors.New("connection refused")

// fakeStore is an in-memory Store whose failures can be toggled.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]models.Response
	down    bool
	sets    int
	closed  bool
	swept   int64
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]models.Response)}
}

func (f *fakeStore) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeStore) Get(ctx context.Context, key string) (models.Response, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return models.Response{}, false, err
	}
	if f.down {
		return models.Response{}, false, errDown
	}
	r, ok := f.rows[key]
	return r, ok, nil
}

func (f *fakeStore) Set(ctx context.Context, key, _ string, resp models.Response, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.down {
		return errDown
	}
	f.sets++
	f.rows[key] = resp
	return nil
}

func (f *fakeStore) SweepExpired(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swept++
	return 0, nil
}

func (f *fakeStore) Clear(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.rows))
	f.rows = make(map[string]models.Response)
	return n, nil
}

func (f *fakeStore) Stats(context.Context) (models.DurableStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return models.DurableStats{}, errDown
	}
	n := int64(len(f.rows))
	return models.DurableStats{Total: n, Active: n}, nil
}

func (f *fakeStore) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	return f.pingErr
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, store Store) *Cache {
	t.Helper()
	c := New(store, Options{TTL: time.Hour, Logger: quietLogger(), MaxBackoff: 200 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newTestCache(t, newFakeStore())
	ctx := context.Background()

	c.Set(ctx, "k", "how many clients?", models.TextResponse("42"))
	got, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit")
	}
	if s, _ := got.Text(); s != "42" {
		t.Errorf("unexpected response %q", s)
	}

	st := c.Stats(ctx)
	if st.Total != 1 || st.Hits != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestGetDegradesToMiss(t *testing.T) {
	store := newFakeStore()
	c := newTestCache(t, store)
	ctx := context.Background()

	c.Set(ctx, "k", "q", models.TextResponse("v"))
	store.setDown(true)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss while store is down")
	}
	if c.Available() {
		t.Error("cache should be disabled after a failure")
	}
	if st := c.Stats(ctx); st.Degraded != 1 || st.Misses != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestSetDegradesToNoop(t *testing.T) {
	store := newFakeStore()
	store.setDown(true)
	c := newTestCache(t, store)
	ctx := context.Background()

	c.Set(ctx, "k", "q", models.TextResponse("v"))
	// Disabled now: further writes must not reach the store.
	store.setDown(false)
	store.pingErr = errDown
	c.Set(ctx, "k2", "q", models.TextResponse("v"))

	store.mu.Lock()
	sets := store.sets
	store.mu.Unlock()
	if sets != 0 {
		t.Errorf("expected no writes to reach the store, got %d", sets)
	}
}

func TestReenablesAfterPing(t *testing.T) {
	store := newFakeStore()
	c := newTestCache(t, store)
	ctx := context.Background()

	store.setDown(true)
	c.Get(ctx, "k")
	if c.Available() {
		t.Fatal("expected disabled cache")
	}

	store.setDown(false)
	deadline := time.Now().Add(3 * time.Second)
	for !c.Available() {
		if time.Now().After(deadline) {
			t.Fatal("cache was not re-enabled after the store recovered")
		}
		time.Sleep(20 * time.Millisecond)
	}

	c.Set(ctx, "k", "q", models.TextResponse("v"))
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Error("expected hit after recovery")
	}
}

func TestSweepLoop(t *testing.T) {
	store := newFakeStore()
	c := New(store, Options{TTL: time.Hour, SweepInterval: 10 * time.Millisecond, Logger: quietLogger()})

	time.Sleep(60 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.swept == 0 {
		t.Error("expected at least one sweep")
	}
	if !store.closed {
		t.Error("Close should close the store")
	}
}

func TestCancelledCallerKeepsStoreEnabled(t *testing.T) {
	store := newFakeStore()
	c := newTestCache(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss for a cancelled caller")
	}
	if !c.Available() {
		t.Fatal("a cancelled caller must not disable the store")
	}

	c.Set(ctx, "k", "q", models.TextResponse("v"))
	if _, ok := c.Get(context.Background(), "k"); !ok {
		t.Error("write from a cancelled caller should still land")
	}
	if st := c.Stats(context.Background()); st.Degraded != 0 {
		t.Errorf("expected no degradation, got %+v", st)
	}
}

func TestDeferredConnects(t *testing.T) {
	store := newFakeStore()
	var mu sync.Mutex
	attempts := 0
	open := func(context.Context) (Store, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return nil, errDown
		}
		return store, nil
	}

	c := NewDeferred(open, Options{TTL: time.Hour, Logger: quietLogger(), MaxBackoff: 200 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	if c.Available() {
		t.Fatal("deferred cache should start disabled")
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss before the store connects")
	}

	deadline := time.Now().Add(5 * time.Second)
	for !c.Available() {
		if time.Now().After(deadline) {
			t.Fatal("deferred cache never connected")
		}
		time.Sleep(20 * time.Millisecond)
	}

	c.Set(ctx, "k", "q", models.TextResponse("v"))
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Error("expected hit once connected")
	}
}

func TestDeferredCloseWithoutStore(t *testing.T) {
	c := NewDeferred(func(context.Context) (Store, error) { return nil, errDown },
		Options{Logger: quietLogger()})
	if _, err := c.Clear(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestFailAfterCloseStartsNothing(t *testing.T) {
	store := newFakeStore()
	c := New(store, Options{Logger: quietLogger()})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	store.setDown(true)
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("expected miss")
	}
	// A second Close waits on the same group and must return promptly.
	done := make(chan struct{})
	go func() {
		_ = c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a check loop started after shutdown")
	}
}
