package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSweeper struct{ calls atomic.Int32 }

func (f *fakeSweeper) Sweep(time.Time) int { f.calls.Add(1); return 3 }

type fakeChecker struct {
	ok    atomic.Bool
	calls atomic.Int32
}

func (f *fakeChecker) CheckRemote(context.Context) bool {
	f.calls.Add(1)
	return f.ok.Load()
}

type fakeRetentionStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (f *fakeRetentionStore) DeleteGenerationsBefore(_ context.Context, t time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, t)
	return 2, f.err
}

func (f *fakeRetentionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func runFor(t *testing.T, w Worker, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestLocalSweeper(t *testing.T) {
	t.Parallel()
	s := &fakeSweeper{}
	runFor(t, NewLocalSweeper(s, 10*time.Millisecond), 100*time.Millisecond)
	if s.calls.Load() < 2 {
		t.Errorf("sweeps = %d, want several", s.calls.Load())
	}
}

func TestRemoteProber(t *testing.T) {
	t.Parallel()
	c := &fakeChecker{}
	p := NewRemoteProber(c, 10*time.Millisecond)
	runFor(t, p, 60*time.Millisecond)
	if c.calls.Load() < 2 {
		t.Errorf("probes = %d, want several", c.calls.Load())
	}
	if p.healthy {
		t.Error("prober should track the failed probes")
	}

	c.ok.Store(true)
	runFor(t, p, 60*time.Millisecond)
	if !p.healthy {
		t.Error("prober should track the recovery")
	}
}

func TestLedgerRetention(t *testing.T) {
	t.Parallel()
	store := &fakeRetentionStore{}
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	w := NewLedgerRetention(store, 24*time.Hour, time.Hour)
	w.now = func() time.Time { return now }

	runFor(t, w, 20*time.Millisecond)
	if store.count() != 1 {
		t.Fatalf("prunes = %d, want 1 at startup", store.count())
	}
	if want := now.Add(-24 * time.Hour); !store.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", store.cutoffs[0], want)
	}
}

func TestLedgerRetention_ErrorDoesNotStop(t *testing.T) {
	t.Parallel()
	store := &fakeRetentionStore{err: errors.New("database is locked")}
	runFor(t, NewLedgerRetention(store, time.Hour, 10*time.Millisecond), 60*time.Millisecond)
	if store.count() < 2 {
		t.Errorf("prunes = %d, want retries after an error", store.count())
	}
}
