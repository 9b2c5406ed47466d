package worker

import (
	"context"
	"log/slog"
	"time"
)

// tick calls fn every interval until ctx is cancelled.
func tick(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Sweeper drops expired entries from a local cache tier.
type Sweeper interface {
	Sweep(now time.Time) int
}

// LocalSweeper periodically purges expired local cache entries so memory is
// reclaimed for keys that are never read again.
type LocalSweeper struct {
	cache    Sweeper
	interval time.Duration
}

// NewLocalSweeper creates a LocalSweeper.
func NewLocalSweeper(cache Sweeper, interval time.Duration) *LocalSweeper {
	return &LocalSweeper{cache: cache, interval: interval}
}

// Name returns the worker identifier.
func (w *LocalSweeper) Name() string { return "local_sweeper" }

// Run sweeps on every tick.
func (w *LocalSweeper) Run(ctx context.Context) error {
	return tick(ctx, w.interval, func(ctx context.Context) {
		if n := w.cache.Sweep(time.Now()); n > 0 {
			slog.LogAttrs(ctx, slog.LevelDebug, "local cache swept", slog.Int("expired", n))
		}
	})
}

// RemoteChecker probes the remote cache tier.
type RemoteChecker interface {
	CheckRemote(ctx context.Context) bool
}

// RemoteProber pings the remote tier on an interval. A successful ping closes
// an open breaker before its cooldown expires.
type RemoteProber struct {
	remote   RemoteChecker
	interval time.Duration
	healthy  bool
}

// NewRemoteProber creates a RemoteProber.
func NewRemoteProber(remote RemoteChecker, interval time.Duration) *RemoteProber {
	return &RemoteProber{remote: remote, interval: interval, healthy: true}
}

// Name returns the worker identifier.
func (w *RemoteProber) Name() string { return "remote_prober" }

// Run probes on every tick, logging only on transitions.
func (w *RemoteProber) Run(ctx context.Context) error {
	return tick(ctx, w.interval, func(ctx context.Context) {
		ok := w.remote.CheckRemote(ctx)
		if ok == w.healthy || ctx.Err() != nil {
			return
		}
		w.healthy = ok
		if ok {
			slog.Info("remote cache reachable")
		} else {
			slog.Warn("remote cache unreachable, serving from local tier")
		}
	})
}

// RetentionStore deletes old ledger records.
type RetentionStore interface {
	DeleteGenerationsBefore(ctx context.Context, t time.Time) (int64, error)
}

// LedgerRetention deletes ledger records older than the retention window.
type LedgerRetention struct {
	store     RetentionStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewLedgerRetention creates a LedgerRetention.
func NewLedgerRetention(store RetentionStore, retention, interval time.Duration) *LedgerRetention {
	return &LedgerRetention{store: store, retention: retention, interval: interval, now: time.Now}
}

// Name returns the worker identifier.
func (w *LedgerRetention) Name() string { return "ledger_retention" }

// Run prunes once at startup and then on every tick.
func (w *LedgerRetention) Run(ctx context.Context) error {
	w.prune(ctx)
	return tick(ctx, w.interval, w.prune)
}

func (w *LedgerRetention) prune(ctx context.Context) {
	cutoff := w.now().Add(-w.retention)
	n, err := w.store.DeleteGenerationsBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			slog.LogAttrs(ctx, slog.LevelError, "ledger retention failed",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if n > 0 {
		slog.Info("ledger pruned", "deleted", n, "before", cutoff.UTC().Format(time.RFC3339))
	}
}
