package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultCapacity is the local tier size used when none is configured.
const DefaultCapacity = 10_000

type lruEntry struct {
	key      string
	data     []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e *lruEntry) live(now time.Time) bool {
	return now.Before(e.storedAt.Add(e.ttl))
}

// LRU is a strict least-recently-used store with per-entry TTL.
// Expired entries are dropped lazily on read and in bulk by Sweep.
type LRU struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front is most recently used
	capacity int
	onEvict  func(key string)
	now      func() time.Time
}

// LRUOption configures an LRU.
type LRUOption func(*LRU)

// WithEvictHook registers fn to run for every capacity eviction. Expiry and
// explicit deletes do not trigger it. fn runs with the store lock held and
// must not call back into the store.
func WithEvictHook(fn func(key string)) LRUOption {
	return func(l *LRU) { l.onEvict = fn }
}

// withClock overrides the time source. Tests only.
func withClock(now func() time.Time) LRUOption {
	return func(l *LRU) { l.now = now }
}

// NewLRU creates an LRU holding at most capacity entries.
func NewLRU(capacity int, opts ...LRUOption) *LRU {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &LRU{
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		now:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Get returns the value for key if it is live and marks it most recently used.
func (l *LRU) Get(_ context.Context, key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*lruEntry)
	if !e.live(l.now()) {
		l.removeElement(el)
		return nil, false
	}
	l.order.MoveToFront(el)
	return e.data, true
}

// Set stores val under key. A non-positive ttl removes the key instead.
func (l *LRU) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ttl <= 0 {
		if el, ok := l.items[key]; ok {
			l.removeElement(el)
		}
		return
	}

	now := l.now()
	if el, ok := l.items[key]; ok {
		e := el.Value.(*lruEntry)
		e.data, e.storedAt, e.ttl = val, now, ttl
		l.order.MoveToFront(el)
		return
	}

	l.items[key] = l.order.PushFront(&lruEntry{key: key, data: val, storedAt: now, ttl: ttl})
	for l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.removeElement(oldest)
		if l.onEvict != nil {
			l.onEvict(oldest.Value.(*lruEntry).key)
		}
	}
}

// Delete removes key. Missing keys are ignored.
func (l *LRU) Delete(_ context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.items[key]; ok {
		l.removeElement(el)
	}
}

// Purge removes every entry.
func (l *LRU) Purge(_ context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make(map[string]*list.Element, l.capacity)
	l.order.Init()
}

// Len returns the number of stored entries.
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// Cap returns the configured capacity.
func (l *LRU) Cap() int { return l.capacity }

// Sweep removes all entries that are expired at now.
func (l *LRU) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for el := l.order.Back(); el != nil; {
		prev := el.Prev()
		if !el.Value.(*lruEntry).live(now) {
			l.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (l *LRU) removeElement(el *list.Element) {
	l.order.Remove(el)
	delete(l.items, el.Value.(*lruEntry).key)
}
