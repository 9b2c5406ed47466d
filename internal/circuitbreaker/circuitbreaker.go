// Package circuitbreaker implements the remote-tier circuit breaker with a
// sliding-window error rate detector. While open, the remote cache is skipped
// entirely, reducing failover latency from a network timeout to a state check.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	ErrorThreshold float64       // weighted error rate to trip; 0 trips on any weighted error
	MinSamples     int           // minimum requests before breaker can open
	WindowSeconds  int           // sliding window duration in seconds
	OpenTimeout    time.Duration // cooldown in OPEN before transitioning to HALF_OPEN

	// OnStateChange, if set, is called after every transition, outside the lock.
	OnStateChange func(from, to State)
}

// DefaultConfig returns a rate-based breaker tolerant of sporadic errors.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.30,
		MinSamples:     10,
		WindowSeconds:  60,
		OpenTimeout:    30 * time.Second,
	}
}

// RemoteConfig returns the config used for the remote cache tier: the first
// weighted error opens the breaker for cooldown.
func RemoteConfig(cooldown time.Duration) Config {
	return Config{
		ErrorThreshold: 0,
		MinSamples:     1,
		WindowSeconds:  60,
		OpenTimeout:    cooldown,
	}
}

// bucket holds error and request counts for a 1-second slot.
type bucket struct {
	errors float64 // weighted error sum
	total  int     // total requests
}

// SlidingWindow is a fixed-size ring buffer of 1-second buckets.
type SlidingWindow struct {
	buckets  [60]bucket
	size     int   // number of active buckets (== windowSeconds)
	head     int   // index of current bucket
	headTime int64 // unix seconds of head bucket
}

// newSlidingWindow creates a sliding window with the given bucket count (capped at 60).
func newSlidingWindow(windowSeconds int) SlidingWindow {
	if windowSeconds <= 0 || windowSeconds > 60 {
		windowSeconds = 60
	}
	return SlidingWindow{size: windowSeconds}
}

// advance moves the head forward to the current second, clearing stale buckets.
func (w *SlidingWindow) advance(nowSec int64) {
	if w.headTime == 0 {
		w.headTime = nowSec
		return
	}
	gap := nowSec - w.headTime
	if gap <= 0 {
		return
	}
	clear := min(int(gap), w.size)
	for i := range clear {
		idx := (w.head + 1 + i) % w.size
		w.buckets[idx] = bucket{}
	}
	w.head = (w.head + int(gap)) % w.size
	w.headTime = nowSec
}

// Record adds a request with the given error weight to the current bucket.
// Weight 0 means success.
func (w *SlidingWindow) Record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.buckets[w.head].total++
	w.buckets[w.head].errors += weight
}

// ErrorRate returns the weighted error rate and total sample count across the window.
func (w *SlidingWindow) ErrorRate(now time.Time) (rate float64, samples int) {
	w.advance(now.Unix())
	var totalErrors float64
	var totalRequests int
	for i := range w.size {
		b := &w.buckets[i]
		totalErrors += b.errors
		totalRequests += b.total
	}
	if totalRequests == 0 {
		return 0, 0
	}
	return totalErrors / float64(totalRequests), totalRequests
}

// Reset clears all buckets.
func (w *SlidingWindow) Reset() {
	for i := range w.size {
		w.buckets[i] = bucket{}
	}
	w.headTime = 0
	w.head = 0
}

// Breaker is a circuit breaker state machine. It is safe for concurrent use.
type Breaker struct {
	mu          sync.Mutex
	state       State
	window      SlidingWindow
	openedAt    time.Time // when transitioned to OPEN
	probing     bool      // true when a half-open probe is in flight
	threshold   float64
	minSamples  int
	openTimeout time.Duration
	onChange    func(from, to State)
	now         func() time.Time
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		state:       StateClosed,
		window:      newSlidingWindow(cfg.WindowSeconds),
		threshold:   cfg.ErrorThreshold,
		minSamples:  max(1, cfg.MinSamples),
		openTimeout: cfg.OpenTimeout,
		onChange:    cfg.OnStateChange,
		now:         time.Now,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	return s
}

// OpenedAt returns when the breaker last opened. Zero if it never opened.
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	t := b.openedAt
	b.mu.Unlock()
	return t
}

// Allow checks whether a request should be allowed through.
func (b *Breaker) Allow() bool {
	now := b.now()
	b.mu.Lock()
	from := b.state
	allowed := false

	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.openTimeout {
			// Cooldown elapsed: this request becomes the probe.
			b.state = StateHalfOpen
			b.probing = true
			allowed = true
		}
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			allowed = true
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

// RecordSuccess records a successful request outcome.
func (b *Breaker) RecordSuccess() {
	now := b.now()
	b.mu.Lock()
	from := b.state
	b.window.Record(0, now)
	if b.state == StateHalfOpen {
		// Probe succeeded: close the breaker.
		b.state = StateClosed
		b.probing = false
		b.window.Reset()
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// RecordError records a failed request with the given error weight.
// Zero-weight errors count as samples but never trip the breaker.
func (b *Breaker) RecordError(weight float64) {
	now := b.now()
	b.mu.Lock()
	from := b.state
	b.window.Record(weight, now)

	switch b.state {
	case StateClosed:
		if weight > 0 {
			rate, samples := b.window.ErrorRate(now)
			if samples >= b.minSamples && rate >= b.threshold {
				b.state = StateOpen
				b.openedAt = now
			}
		}
	case StateHalfOpen:
		if weight > 0 {
			// Probe failed: reopen.
			b.state = StateOpen
			b.openedAt = now
		}
		b.probing = false
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// Reset forces the breaker closed and clears its window. Used when an
// out-of-band health check proves the backend is reachable again.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.probing = false
	b.window.Reset()
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
