// Package ratelimit guards the upstream generation API with lazy-refill
// token buckets: one for requests per minute, one for tokens per minute.
package ratelimit

import (
	"sync"
	"time"
)

// Limits holds per-minute budgets. A value of 0 means unlimited.
type Limits struct {
	RPM int64
	TPM int64
}

// Result is the outcome of a reservation.
type Result struct {
	Allowed    bool
	Remaining  int64 // requests left in the current window
	RetryAfter time.Duration
}

// bucket refills continuously at max/60 tokens per second.
type bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(perMinute int64, now time.Time) *bucket {
	return &bucket{
		tokens:   float64(perMinute),
		max:      float64(perMinute),
		rate:     float64(perMinute) / 60.0,
		lastFill: now,
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// wait returns how long until n tokens are available. n above the bucket
// size is clamped so that oversized requests are admitted once full.
func (b *bucket) wait(n float64) time.Duration {
	n = min(n, b.max)
	if b.tokens >= n {
		return 0
	}
	return time.Duration((n - b.tokens) / b.rate * float64(time.Second))
}

func (b *bucket) add(delta float64) {
	b.tokens = min(b.max, max(0, b.tokens+delta))
}

// Limiter admits upstream calls. It is safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	rpm    *bucket // nil if unlimited
	tpm    *bucket // nil if unlimited
	limits Limits
	now    func() time.Time
}

// New creates a Limiter. Zero limits disable the matching bucket.
func New(limits Limits) *Limiter {
	l := &Limiter{limits: limits, now: time.Now}
	now := l.now()
	if limits.RPM > 0 {
		l.rpm = newBucket(limits.RPM, now)
	}
	if limits.TPM > 0 {
		l.tpm = newBucket(limits.TPM, now)
	}
	return l
}

// Limits returns the configured budgets.
func (l *Limiter) Limits() Limits { return l.limits }

// Reserve takes one request and estimated tokens, or nothing if either
// budget is short.
func (l *Limiter) Reserve(estimated int64) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	var wait time.Duration
	if l.rpm != nil {
		l.rpm.refill(now)
		wait = max(wait, l.rpm.wait(1))
	}
	if l.tpm != nil {
		l.tpm.refill(now)
		wait = max(wait, l.tpm.wait(float64(estimated)))
	}
	if wait > 0 {
		return Result{Allowed: false, Remaining: l.remaining(), RetryAfter: wait}
	}

	if l.rpm != nil {
		l.rpm.add(-1)
	}
	if l.tpm != nil {
		l.tpm.add(-float64(estimated))
	}
	return Result{Allowed: true, Remaining: l.remaining()}
}

// Settle corrects the token bucket once the real usage is known.
// Overestimates are refunded; underestimates consume more.
func (l *Limiter) Settle(estimated, actual int64) {
	if actual <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tpm != nil {
		l.tpm.add(float64(estimated - actual))
	}
}

// Status reports the current request budget without consuming it.
func (l *Limiter) Status() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rpm != nil {
		l.rpm.refill(l.now())
	}
	return Result{Allowed: true, Remaining: l.remaining()}
}

// remaining returns whole requests left, or -1 when unlimited.
func (l *Limiter) remaining() int64 {
	if l.rpm == nil {
		return -1
	}
	return int64(l.rpm.tokens)
}
