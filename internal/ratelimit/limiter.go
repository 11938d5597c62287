// Package ratelimit throttles repeated actions by key (client IP, email).
// The backing store is deliberately a narrow interface so deployments can
// swap the in-memory implementation for a shared one.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether an action identified by key may proceed.
type Limiter interface {
	Allow(key string) bool
}

// Config contains limiter configuration.
type Config struct {
	// Rate is the sustained number of allowed events per second.
	Rate float64
	// Burst is the short-term allowance per key.
	Burst int
	// TTL is how long an idle key's bucket is kept before eviction.
	TTL time.Duration
}

// MemoryLimiter is an in-process token-bucket limiter with one bucket per
// key. Idle buckets are evicted lazily so the map does not grow without
// bound.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	limit rate.Limit
	burst int
	ttl   time.Duration

	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &MemoryLimiter{
		buckets:   make(map[string]*bucket),
		limit:     rate.Limit(cfg.Rate),
		burst:     burst,
		ttl:       ttl,
		lastSweep: time.Now(),
	}
}

// Allow reports whether the action for key may proceed now.
func (l *MemoryLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.maybeSweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	return b.limiter.Allow()
}

// maybeSweep drops idle buckets at most once per TTL. Caller holds the lock.
func (l *MemoryLimiter) maybeSweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.ttl {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.ttl {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}
