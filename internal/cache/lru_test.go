package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLRU_GetSetDelete(t *testing.T) {
	t.Parallel()
	l := NewLRU(10)
	ctx := context.Background()

	if _, ok := l.Get(ctx, "missing"); ok {
		t.Error("should not find missing key")
	}

	l.Set(ctx, "k1", []byte("v1"), time.Minute)
	val, ok := l.Get(ctx, "k1")
	if !ok || string(val) != "v1" {
		t.Fatalf("Get = %q, %v", val, ok)
	}

	l.Set(ctx, "k1", []byte("v2"), time.Minute)
	if val, _ := l.Get(ctx, "k1"); string(val) != "v2" {
		t.Errorf("overwrite: got %q, want v2", val)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}

	l.Delete(ctx, "k1")
	l.Delete(ctx, "never-existed")
	if _, ok := l.Get(ctx, "k1"); ok {
		t.Error("should not find deleted key")
	}
}

func TestLRU_TTLExpiry(t *testing.T) {
	t.Parallel()
	l := NewLRU(10)
	ctx := context.Background()

	l.Set(ctx, "k", []byte("v"), 100*time.Millisecond)
	if _, ok := l.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry should be live")
	}
	time.Sleep(150 * time.Millisecond)
	if _, ok := l.Get(ctx, "k"); ok {
		t.Error("entry should be expired after its TTL")
	}
	if l.Len() != 0 {
		t.Errorf("expired entry should be dropped on read, Len = %d", l.Len())
	}
}

func TestLRU_ExpiryBoundary(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	l := NewLRU(10, withClock(clock.Now))
	ctx := context.Background()

	l.Set(ctx, "k", []byte("v"), time.Second)
	clock.Advance(time.Second - time.Nanosecond)
	if _, ok := l.Get(ctx, "k"); !ok {
		t.Error("entry should be live just before storedAt+ttl")
	}
	clock.Advance(time.Nanosecond)
	if _, ok := l.Get(ctx, "k"); ok {
		t.Error("entry should be expired at storedAt+ttl")
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	var evicted []string
	l := NewLRU(2, WithEvictHook(func(key string) { evicted = append(evicted, key) }))
	ctx := context.Background()

	l.Set(ctx, "A", []byte("a"), time.Minute)
	l.Set(ctx, "B", []byte("b"), time.Minute)
	l.Set(ctx, "C", []byte("c"), time.Minute)

	if _, ok := l.Get(ctx, "A"); ok {
		t.Error("A should have been evicted")
	}
	for _, k := range []string{"B", "C"} {
		if _, ok := l.Get(ctx, k); !ok {
			t.Errorf("%s should be present", k)
		}
	}
	if len(evicted) != 1 || evicted[0] != "A" {
		t.Errorf("evicted = %v, want [A]", evicted)
	}
}

func TestLRU_GetRefreshesRecency(t *testing.T) {
	t.Parallel()
	l := NewLRU(2)
	ctx := context.Background()

	l.Set(ctx, "A", []byte("a"), time.Minute)
	l.Set(ctx, "B", []byte("b"), time.Minute)
	l.Get(ctx, "A")
	l.Set(ctx, "C", []byte("c"), time.Minute)

	if _, ok := l.Get(ctx, "B"); ok {
		t.Error("B should have been evicted after A was read")
	}
	if _, ok := l.Get(ctx, "A"); !ok {
		t.Error("A should survive")
	}
}

func TestLRU_NonPositiveTTL(t *testing.T) {
	t.Parallel()
	l := NewLRU(10)
	ctx := context.Background()

	l.Set(ctx, "k", []byte("v"), time.Minute)
	l.Set(ctx, "k", []byte("v"), 0)
	if _, ok := l.Get(ctx, "k"); ok {
		t.Error("zero TTL should remove the key")
	}
	l.Set(ctx, "n", []byte("v"), -time.Second)
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0", l.Len())
	}
}

func TestLRU_Sweep(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	l := NewLRU(10, withClock(clock.Now))
	ctx := context.Background()

	l.Set(ctx, "short1", []byte("1"), time.Second)
	l.Set(ctx, "long", []byte("2"), time.Hour)
	l.Set(ctx, "short2", []byte("3"), time.Second)

	clock.Advance(2 * time.Second)
	if n := l.Sweep(clock.Now()); n != 2 {
		t.Errorf("Sweep removed %d, want 2", n)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
	if _, ok := l.Get(ctx, "long"); !ok {
		t.Error("live entry should survive sweep")
	}
}

func TestLRU_Purge(t *testing.T) {
	t.Parallel()
	l := NewLRU(10)
	ctx := context.Background()

	l.Set(ctx, "a", []byte("1"), time.Minute)
	l.Set(ctx, "b", []byte("2"), time.Minute)
	l.Purge(ctx)

	if l.Len() != 0 {
		t.Errorf("Len = %d after purge", l.Len())
	}
	l.Set(ctx, "c", []byte("3"), time.Minute)
	if _, ok := l.Get(ctx, "c"); !ok {
		t.Error("store should be usable after purge")
	}
}

func TestLRU_DefaultCapacity(t *testing.T) {
	t.Parallel()
	if got := NewLRU(0).Cap(); got != DefaultCapacity {
		t.Errorf("Cap = %d, want %d", got, DefaultCapacity)
	}
}

func TestLRU_Concurrent(t *testing.T) {
	t.Parallel()
	l := NewLRU(64)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Go(func() {
			for j := range 200 {
				key := fmt.Sprintf("k%d", (i*200+j)%100)
				l.Set(ctx, key, []byte(key), time.Minute)
				l.Get(ctx, key)
				if j%50 == 0 {
					l.Sweep(time.Now())
				}
			}
		})
	}
	wg.Wait()

	if l.Len() > l.Cap() {
		t.Errorf("Len %d exceeds Cap %d", l.Len(), l.Cap())
	}
}
