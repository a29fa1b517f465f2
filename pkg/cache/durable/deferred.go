package durable

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
)

// ErrNotConnected is returned by a deferred store before its first
// successful open.
var ErrNotConnected = errors.New("durable store not connected")

// deferredStore opens its backing store on the first successful Ping.
type deferredStore struct {
	open func(context.Context) (Store, error)

	mu    sync.Mutex
	store Store
}

func (d *deferredStore) current() Store {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store
}

func (d *deferredStore) Ping(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store != nil {
		return d.store.Ping(ctx)
	}
	s, err := d.open(ctx)
	if err != nil {
		return err
	}
	d.store = s
	return nil
}

func (d *deferredStore) Get(ctx context.Context, key string) (models.Response, bool, error) {
	s := d.current()
	if s == nil {
		return models.Response{}, false, ErrNotConnected
	}
	return s.Get(ctx, key)
}

func (d *deferredStore) Set(ctx context.Context, key, queryText string, resp models.Response, ttl time.Duration) error {
	s := d.current()
	if s == nil {
		return ErrNotConnected
	}
	return s.Set(ctx, key, queryText, resp, ttl)
}

func (d *deferredStore) SweepExpired(ctx context.Context) (int64, error) {
	s := d.current()
	if s == nil {
		return 0, ErrNotConnected
	}
	return s.SweepExpired(ctx)
}

func (d *deferredStore) Clear(ctx context.Context) (int64, error) {
	s := d.current()
	if s == nil {
		return 0, ErrNotConnected
	}
	return s.Clear(ctx)
}

func (d *deferredStore) Stats(ctx context.Context) (models.DurableStats, error) {
	s := d.current()
	if s == nil {
		return models.DurableStats{}, ErrNotConnected
	}
	return s.Stats(ctx)
}

func (d *deferredStore) Close() error {
	s := d.current()
	if s == nil {
		return nil
	}
	return s.Close()
}
