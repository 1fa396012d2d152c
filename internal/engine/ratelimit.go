package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiterResult is the outcome of a TryAcquire call.
type RateLimiterResult int

const (
	Granted RateLimiterResult = iota
	Rejected
)

// RateLimiter implements the token-bucket admission control of
// spec.md §4.B: lazy, time-bounded refill (at most once per 100ms) and
// CAS-protected token accounting so concurrent callers never over-grant.
//
// The shape — a config struct, a background-goroutine-free design driven
// entirely by caller-triggered refills, a NewRateLimiter constructor —
// follows internal/concurrency's Semaphore/RateLimiter pair in spirit,
// but the token arithmetic here is new: the teacher's RateLimiter
// releases one token per fixed tick via a time.Ticker, which does not
// give the lazy-batch-refill-under-a-single-writer-lock contract the
// spec requires and that Testable Property 5 exercises directly.
type RateLimiter struct {
	tokensPerSecond int64
	capacity        int64

	tokens     int64 // accessed via atomic
	lastRefill int64 // unix nanos, accessed via atomic

	refillMu sync.Mutex
}

// NewRateLimiter constructs a RateLimiter starting at full capacity.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		tokensPerSecond: cfg.TokensPerSecond,
		capacity:        cfg.Capacity,
		tokens:          cfg.Capacity,
		lastRefill:      time.Now().UnixNano(),
	}
}

const refillMinInterval = 100 * time.Millisecond

// maybeRefill attempts a single-writer-locked refill when at least
// refillMinInterval has elapsed since the last one (spec.md §4.B step 1).
// The double-checked lastRefill read/write bounds refills to at most one
// per 100ms regardless of contention.
func (r *RateLimiter) maybeRefill(now time.Time) {
	last := atomic.LoadInt64(&r.lastRefill)
	if now.UnixNano()-last < int64(refillMinInterval) {
		return
	}

	r.refillMu.Lock()
	defer r.refillMu.Unlock()

	last = atomic.LoadInt64(&r.lastRefill)
	elapsed := now.UnixNano() - last
	if elapsed < int64(refillMinInterval) {
		return
	}

	added := (elapsed / int64(time.Second)) * r.tokensPerSecond
	added += (elapsed % int64(time.Second)) * r.tokensPerSecond / int64(time.Second)
	if added <= 0 {
		atomic.StoreInt64(&r.lastRefill, now.UnixNano())
		return
	}

	for {
		cur := atomic.LoadInt64(&r.tokens)
		next := cur + added
		if next > r.capacity {
			next = r.capacity
		}
		if atomic.CompareAndSwapInt64(&r.tokens, cur, next) {
			break
		}
	}

	atomic.StoreInt64(&r.lastRefill, now.UnixNano())
}

// TryAcquire attempts to atomically deduct n tokens. It is atomic with
// respect to token accounting: concurrent callers never collectively
// over-grant beyond capacity (spec.md §4.B).
func (r *RateLimiter) TryAcquire(n int64) RateLimiterResult {
	r.maybeRefill(time.Now())

	for {
		cur := atomic.LoadInt64(&r.tokens)
		if cur < n {
			return Rejected
		}
		if atomic.CompareAndSwapInt64(&r.tokens, cur, cur-n) {
			return Granted
		}
		// CAS lost the race to a concurrent acquire/refill; re-read and
		// retry (spec.md §4.B step 2: "Retry on CAS failure").
	}
}

// AvailableTokens returns a snapshot of the current token count.
func (r *RateLimiter) AvailableTokens() int64 {
	return atomic.LoadInt64(&r.tokens)
}
