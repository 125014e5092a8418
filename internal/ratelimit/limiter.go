// Package ratelimit implements the small, process-safe log rate limiter
// called for in the original design notes: the source used a local
// TLogRateLimiter instance per call site; this package exposes one utility,
// keyed by an opaque site identifier, instead of leaving each call site to
// roll its own.
package ratelimit

import (
	"sync"
	"time"

	"github.com/influxdata/feederd/internal/clock"
)

// Limiter allows at most one "pass" per site per minimum interval. It is
// safe for concurrent use by many call sites sharing one Limiter.
type Limiter struct {
	interval time.Duration
	clock    clock.Clock

	mu   sync.Mutex
	last map[string]time.Time
}

// New returns a Limiter that allows one pass per site at most every
// interval, using c to read the current time.
func New(interval time.Duration, c clock.Clock) *Limiter {
	return &Limiter{
		interval: interval,
		clock:    c,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether the call site identified by site may proceed (log,
// emit a metric, etc.) right now. It returns true at most once per
// interval, per site.
func (l *Limiter) Allow(site string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.last[site]
	if ok && now.Sub(last) < l.interval {
		return false
	}
	l.last[site] = now
	return true
}
