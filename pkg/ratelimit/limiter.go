// Package ratelimit admits outbound backend calls against sliding windows.
//
// A Limiter enforces a per-second and a per-minute ceiling at the same time:
// a call is admitted only when both windows have room, and an admitted call is
// recorded in both. Rejected calls are never recorded.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is returned by Check when a call is not admitted.
var ErrRateLimited = errors.New("rate limit exceeded")

// WaitError carries the time a rejected caller should wait before retrying.
type WaitError struct {
	Wait time.Duration
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %.1fs", e.Wait.Seconds())
}

func (e *WaitError) Unwrap() error { return ErrRateLimited }

// Limits configures the window ceilings. A value <= 0 disables that window.
type Limits struct {
	PerSecond int `yaml:"per_second"`
	PerMinute int `yaml:"per_minute"`
}

// WindowStats reports the occupancy of one window.
type WindowStats struct {
	Duration time.Duration `json:"duration"`
	Limit    int           `json:"limit"`
	InUse    int           `json:"in_use"`
}

// Stats reports limiter state.
type Stats struct {
	Windows  []WindowStats `json:"windows"`
	Admitted int64         `json:"admitted"`
	Rejected int64         `json:"rejected"`
}

type window struct {
	duration time.Duration
	limit    int
	// oldest first
	stamps []time.Time
}

func (w *window) prune(now time.Time) {
	i := 0
	for i < len(w.stamps) && now.Sub(w.stamps[i]) >= w.duration {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

func (w *window) full() bool {
	return len(w.stamps) >= w.limit
}

// Limiter is a sliding-window rate limiter safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	windows  []*window
	now      func() time.Time
	admitted int64
	rejected int64
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter enforcing the given limits.
func New(limits Limits, opts ...Option) *Limiter {
	l := &Limiter{now: time.Now}
	if limits.PerSecond > 0 {
		l.windows = append(l.windows, &window{duration: time.Second, limit: limits.PerSecond})
	}
	if limits.PerMinute > 0 {
		l.windows = append(l.windows, &window{duration: time.Minute, limit: limits.PerMinute})
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow reports whether a call may proceed now and, if so, records it in
// every window. Check and record happen under one lock.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, w := range l.windows {
		w.prune(now)
	}
	for _, w := range l.windows {
		if w.full() {
			l.rejected++
			return false
		}
	}
	for _, w := range l.windows {
		w.stamps = append(w.stamps, now)
	}
	l.admitted++
	return true
}

// WaitTime returns how long a caller must wait until every saturated window
// has a free slot. It returns zero when no window is saturated and never
// records anything.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var wait time.Duration
	for _, w := range l.windows {
		w.prune(now)
		if !w.full() || len(w.stamps) == 0 {
			continue
		}
		if d := w.duration - now.Sub(w.stamps[0]); d > wait {
			wait = d
		}
	}
	return wait
}

// Check is Allow expressed as an error: nil when admitted, a *WaitError
// wrapping ErrRateLimited otherwise.
func (l *Limiter) Check() error {
	if l.Allow() {
		return nil
	}
	return &WaitError{Wait: l.WaitTime()}
}

// Stats returns a snapshot of the limiter.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s := Stats{Admitted: l.admitted, Rejected: l.rejected}
	for _, w := range l.windows {
		w.prune(now)
		s.Windows = append(s.Windows, WindowStats{Duration: w.duration, Limit: w.limit, InUse: len(w.stamps)})
	}
	return s
}
