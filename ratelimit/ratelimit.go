// Package ratelimit implements per-client sliding-log admission control.
//
// Each key keeps the exact timestamps of its admitted requests inside the
// trailing window. A request is admitted only while fewer than maxRequests
// timestamps remain in the window, so a client can never get twice its
// budget by straddling a window boundary.
package ratelimit

import (
	"sync"
	"time"
)

type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time
	now         func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter admitting at most maxRequests per key within window.
// A non-positive maxRequests disables limiting.
func New(maxRequests int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Admit records a request for key and reports whether it is allowed.
// Rejected requests are not recorded.
func (l *Limiter) Admit(key string) bool {
	if l.maxRequests <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	timestamps := l.prune(l.requests[key], now)
	if len(timestamps) >= l.maxRequests {
		l.requests[key] = timestamps
		return false
	}

	l.requests[key] = append(timestamps, now)
	return true
}

// Remaining returns how many more requests key may make right now.
func (l *Limiter) Remaining(key string) int {
	if l.maxRequests <= 0 {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamps, ok := l.requests[key]
	if !ok {
		return l.maxRequests
	}

	// prune reuses the backing array, so the shortened slice must be stored.
	timestamps = l.prune(timestamps, l.now())
	l.requests[key] = timestamps
	return max(0, l.maxRequests-len(timestamps))
}

// Compact drops expired timestamps for every key and forgets keys left
// with none.
func (l *Limiter) Compact() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, timestamps := range l.requests {
		timestamps = l.prune(timestamps, now)
		if len(timestamps) == 0 {
			delete(l.requests, key)
			removed++
			continue
		}
		l.requests[key] = timestamps
	}

	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.requests)
}

// prune keeps timestamps with now - t <= window. Timestamps are appended in
// order, so the first one inside the window ends the expired prefix.
func (l *Limiter) prune(timestamps []time.Time, now time.Time) []time.Time {
	cutoff := 0
	for cutoff < len(timestamps) && now.Sub(timestamps[cutoff]) > l.window {
		cutoff++
	}
	if cutoff == 0 {
		return timestamps
	}

	return append(timestamps[:0], timestamps[cutoff:]...)
}
