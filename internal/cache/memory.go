package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// entry wraps a cached value with its expiration time.
type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is an in-memory W-TinyLFU store backed by otter. It trades the
// strict recency order of LRU for a better hit rate on skewed workloads;
// eviction runs asynchronously, so Len may briefly exceed Cap.
type Memory struct {
	cache    *otter.Cache[string, entry]
	capacity int
}

// NewMemory creates a store with the given max entry count. maxTTL bounds
// how long otter keeps any entry; per-entry TTLs are enforced on read.
func NewMemory(maxSize int, maxTTL time.Duration, onEvict func(key string)) (*Memory, error) {
	if maxSize <= 0 {
		maxSize = DefaultCapacity
	}
	opts := &otter.Options[string, entry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, entry](maxTTL),
	}
	if onEvict != nil {
		opts.OnDeletion = func(e otter.DeletionEvent[string, entry]) {
			if e.Cause == otter.CauseOverflow {
				onEvict(e.Key)
			}
		}
	}
	c, err := otter.New[string, entry](opts)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c, capacity: maxSize}, nil
}

// Get retrieves a value from the cache if present and not expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return nil, false
	}
	if !time.Now().Before(e.expiresAt) {
		m.cache.Invalidate(key)
		return nil, false
	}
	return e.data, true
}

// Set stores a value with per-entry TTL. A non-positive ttl removes the key.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		m.cache.Invalidate(key)
		return
	}
	m.cache.Set(key, entry{
		data:      val,
		expiresAt: time.Now().Add(ttl),
	})
}

// Delete removes a value from the cache.
func (m *Memory) Delete(_ context.Context, key string) {
	m.cache.Invalidate(key)
}

// Purge removes all values from the cache.
func (m *Memory) Purge(_ context.Context) {
	m.cache.InvalidateAll()
}

// Len returns otter's estimate of the entry count.
func (m *Memory) Len() int { return m.cache.EstimatedSize() }

// Cap returns the configured maximum size.
func (m *Memory) Cap() int { return m.capacity }

// Sweep invalidates entries whose per-entry TTL has passed.
func (m *Memory) Sweep(now time.Time) int {
	var expired []string
	for k, e := range m.cache.All() {
		if !now.Before(e.expiresAt) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		m.cache.Invalidate(k)
	}
	return len(expired)
}
