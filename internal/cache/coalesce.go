package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Outcome tells a caller how its value was obtained.
type Outcome int

const (
	// OutcomeHit means the value came from the cache.
	OutcomeHit Outcome = iota
	// OutcomeComputed means this caller ran the compute function.
	OutcomeComputed
	// OutcomeShared means this caller waited on another caller's computation.
	OutcomeShared
)

// String returns the outcome name used in logs and spans.
func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeComputed:
		return "computed"
	case OutcomeShared:
		return "shared"
	default:
		return "unknown"
	}
}

// ComputeFunc produces the encoded value for a missing key.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// errComputePanic wraps a panic raised by a compute function.
var errComputePanic = errors.New("compute panicked")

// Coalescer collapses concurrent misses for the same key into one compute
// call. The winning caller computes, stores the result, and every waiter
// receives the same bytes. Failed computations are never stored, so the
// next caller retries.
type Coalescer struct {
	store   Store
	group   singleflight.Group
	timeout time.Duration

	// Accept, if set, filters cached payloads; rejected payloads are
	// treated as misses.
	Accept func([]byte) bool
}

// NewCoalescer creates a Coalescer over store. timeout bounds each
// computation independently of any caller's context; zero means unbounded.
func NewCoalescer(store Store, timeout time.Duration) *Coalescer {
	return &Coalescer{store: store, timeout: timeout}
}

// GetOrCompute returns the cached value for key, or computes and stores it
// with ttl. A caller whose ctx ends stops waiting and gets ctx.Err(); the
// computation keeps running for the other waiters.
func (c *Coalescer) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, Outcome, error) {
	if val, ok := c.lookup(ctx, key); ok {
		return val, OutcomeHit, nil
	}
	return c.do(ctx, key, ttl, compute, true)
}

// Compute runs compute under the same single-flight guard as GetOrCompute
// but without consulting the cache first. Used to replace a cached value
// that turned out to be unreadable.
func (c *Coalescer) Compute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, Outcome, error) {
	return c.do(ctx, key, ttl, compute, false)
}

type flightResult struct {
	val []byte
	hit bool
}

func (c *Coalescer) do(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc, recheck bool) ([]byte, Outcome, error) {
	var owner atomic.Bool
	detached := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key, func() (any, error) {
		owner.Store(true)
		// A flight for this key may have finished between our lookup
		// and joining the group.
		if recheck {
			if val, ok := c.lookup(detached, key); ok {
				return flightResult{val: val, hit: true}, nil
			}
		}
		val, err := c.run(detached, compute)
		if err != nil {
			return nil, err
		}
		c.store.Set(detached, key, val, ttl)
		return flightResult{val: val}, nil
	})

	select {
	case <-ctx.Done():
		if owner.Load() {
			return nil, OutcomeComputed, ctx.Err()
		}
		return nil, OutcomeShared, ctx.Err()
	case res := <-ch:
		outcome := OutcomeShared
		if owner.Load() {
			outcome = OutcomeComputed
		}
		if res.Err != nil {
			return nil, outcome, res.Err
		}
		fr := res.Val.(flightResult)
		if fr.hit {
			outcome = OutcomeHit
		}
		return fr.val, outcome, nil
	}
}

func (c *Coalescer) run(ctx context.Context, compute ComputeFunc) (val []byte, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errComputePanic, r)
		}
	}()
	return compute(ctx)
}

func (c *Coalescer) lookup(ctx context.Context, key string) ([]byte, bool) {
	val, ok := c.store.Get(ctx, key)
	if !ok {
		return nil, false
	}
	if c.Accept != nil && !c.Accept(val) {
		return nil, false
	}
	return val, true
}
