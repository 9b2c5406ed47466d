package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	respcache "github.com/eugener/respcache/internal"
)

// FakeLedger is an in-memory generation ledger. It satisfies both the
// storage and the worker recorder interfaces, so tests can record
// synchronously.
type FakeLedger struct {
	mu      sync.RWMutex
	records []respcache.GenerationRecord
	PingErr error
}

// Record appends r immediately.
func (l *FakeLedger) Record(r respcache.GenerationRecord) {
	l.mu.Lock()
	l.records = append(l.records, r)
	l.mu.Unlock()
}

// Records returns a copy of everything recorded.
func (l *FakeLedger) Records() []respcache.GenerationRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.records)
}

// InsertGenerations appends records.
func (l *FakeLedger) InsertGenerations(_ context.Context, records []respcache.GenerationRecord) error {
	l.mu.Lock()
	l.records = append(l.records, records...)
	l.mu.Unlock()
	return nil
}

// QueryGenerations filters by category and status, newest first.
func (l *FakeLedger) QueryGenerations(_ context.Context, f respcache.GenerationFilter) ([]respcache.GenerationRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []respcache.GenerationRecord
	for _, r := range slices.Backward(l.records) {
		if f.Category != "" && r.Category.String() != f.Category {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	out = out[min(max(f.Offset, 0), len(out)):]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// CountGenerations counts records matching f.
func (l *FakeLedger) CountGenerations(ctx context.Context, f respcache.GenerationFilter) (int, error) {
	f.Limit, f.Offset = 0, 0
	out, err := l.QueryGenerations(ctx, f)
	return len(out), err
}

// DeleteGenerationsBefore drops records created before t.
func (l *FakeLedger) DeleteGenerationsBefore(_ context.Context, t time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.records)
	l.records = slices.DeleteFunc(l.records, func(r respcache.GenerationRecord) bool {
		return r.CreatedAt.Before(t)
	})
	return int64(n - len(l.records)), nil
}

// Ping returns PingErr.
func (l *FakeLedger) Ping(context.Context) error { return l.PingErr }

// Close is a no-op.
func (l *FakeLedger) Close() error { return nil }
