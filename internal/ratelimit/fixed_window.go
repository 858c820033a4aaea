package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultLimit  = 30
	DefaultWindow = time.Minute

	sweepThreshold = 1024
)

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window counter keyed by caller identity. Refused
// requests still count toward the window.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	entries map[string]*window
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a limiter allowing limit requests per window per key.
// Non-positive values fall back to the defaults.
func New(limit int, per time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if per <= 0 {
		per = DefaultWindow
	}
	l := &Limiter{
		limit:   limit,
		window:  per,
		now:     time.Now,
		entries: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records a request for key and reports whether it is within quota.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		if !ok && len(l.entries) >= sweepThreshold {
			l.sweep(now)
		}
		l.entries[key] = &window{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	entry.count++
	return entry.count <= l.limit
}

// Limit returns the per-window quota.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

func (l *Limiter) sweep(now time.Time) {
	for key, entry := range l.entries {
		if now.After(entry.resetAt) {
			delete(l.entries, key)
		}
	}
}
