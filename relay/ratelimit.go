package relay

import (
	"sync"
	"time"
)

// tokenBucket is a simple per-key rate limiter: capacity tokens refill at
// ratePerSec, and each Allow() call consumes one if available.
type tokenBucket struct {
	rate      float64
	capacity  float64
	tokens    float64
	lastFill  time.Time
	lastUsed  time.Time
}

func newTokenBucket(ratePerSec float64) *tokenBucket {
	now := time.Now()
	return &tokenBucket{rate: ratePerSec, capacity: ratePerSec, tokens: ratePerSec, lastFill: now, lastUsed: now}
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastFill = now
	b.lastUsed = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter enforces the relay's two-tier policy (spec.md §4.5): a
// per-key bucket (keyed by device or endpoint identity) for connection
// and message rate, plus a single global bucket evaluated on every
// request so per-key limits cannot be bypassed via identity churn.
//
// The per-key map is bounded by periodic eviction of idle entries
// (spec.md §5: "must not grow unbounded; periodic eviction or LRU
// bounding is required") — EvictIdle is wired into the same background
// sweep that runs blob-store cleanup (SPEC_FULL.md, piggybacking the
// eviction pass on the existing cleanup ticker rather than running a
// second timer).
type RateLimiter struct {
	mu             sync.Mutex
	connectionRate float64
	messageRate    float64
	globalRate     float64

	perKeyMsg       map[string]*tokenBucket
	perKeyConnByKey map[string]*tokenBucket
	global          *tokenBucket
}

// NewRateLimiter constructs a limiter from config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		connectionRate:  cfg.ConnectionPerSec,
		messageRate:     cfg.MessagePerSec,
		globalRate:      cfg.GlobalRequestsPerSec,
		perKeyMsg:       make(map[string]*tokenBucket),
		perKeyConnByKey: make(map[string]*tokenBucket),
		global:          newTokenBucket(cfg.GlobalRequestsPerSec),
	}
}

// AllowConnection reports whether a new connection from key may proceed.
func (r *RateLimiter) AllowConnection(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.perKeyConnByKey[key]
	if !ok {
		b = newTokenBucket(r.connectionRate)
		r.perKeyConnByKey[key] = b
	}
	return b.allow(time.Now())
}

// AllowMessage reports whether a request from key may proceed, evaluating
// both the per-key message bucket and the global bucket. Both MUST pass;
// omitting the global check would make per-key limits bypassable via
// identity churn (spec.md §4.5).
func (r *RateLimiter) AllowMessage(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if !r.global.allow(now) {
		return false
	}

	b, ok := r.perKeyMsg[key]
	if !ok {
		b = newTokenBucket(r.messageRate)
		r.perKeyMsg[key] = b
	}
	return b.allow(now)
}

// EvictIdle drops any per-key bucket not used within idleAfter, bounding
// the map's memory growth.
func (r *RateLimiter) EvictIdle(idleAfter time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idleAfter)
	evicted := 0
	for k, b := range r.perKeyMsg {
		if b.lastUsed.Before(cutoff) {
			delete(r.perKeyMsg, k)
			evicted++
		}
	}
	for k, b := range r.perKeyConnByKey {
		if b.lastUsed.Before(cutoff) {
			delete(r.perKeyConnByKey, k)
			evicted++
		}
	}
	return evicted
}
