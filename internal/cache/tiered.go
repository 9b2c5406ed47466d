package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	respcache "github.com/eugener/respcache/internal"
	"github.com/eugener/respcache/internal/circuitbreaker"
)

// WriteMode controls how Set propagates to the remote tier.
type WriteMode int

const (
	// WriteAsync returns once the local tier is written; the remote write
	// runs in the background.
	WriteAsync WriteMode = iota
	// WriteSync waits for the remote write (bounded by its op timeout).
	WriteSync
)

// ParseWriteMode parses "async" or "sync". Empty means async.
func ParseWriteMode(s string) (WriteMode, bool) {
	switch s {
	case "", "async":
		return WriteAsync, true
	case "sync":
		return WriteSync, true
	}
	return WriteAsync, false
}

// TieredConfig tunes a Tiered store.
type TieredConfig struct {
	WriteMode WriteMode
	// Cooldown is how long the remote tier is skipped after an error
	// before a single probe request is let through.
	Cooldown time.Duration
	// HealthTimeout bounds the ping issued by Health.
	HealthTimeout time.Duration
	// PromoteTTL is the local TTL given to a remote hit when the remote
	// store cannot report the key's remaining TTL.
	PromoteTTL time.Duration
}

func (c *TieredConfig) applyDefaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 2 * time.Second
	}
	if c.PromoteTTL <= 0 {
		c.PromoteTTL = 15 * time.Minute
	}
}

// Tiered reads remote-first and falls back to the local tier. Remote
// failures never surface to callers: they are logged, counted, and open the
// breaker so that later calls skip the remote tier until the cooldown ends
// or a health check succeeds.
type Tiered struct {
	local   LocalStore
	remote  RemoteStore // nil when running local-only
	breaker *circuitbreaker.Breaker
	stats   *Stats
	logger  *slog.Logger
	cfg     TieredConfig

	writes sync.WaitGroup
}

// NewTiered wires the tiers together. remote may be nil.
func NewTiered(local LocalStore, remote RemoteStore, stats *Stats, logger *slog.Logger, cfg TieredConfig) *Tiered {
	cfg.applyDefaults()
	if stats == nil {
		stats = NewStats(nil)
	}
	t := &Tiered{
		local:  local,
		remote: remote,
		stats:  stats,
		logger: logger,
		cfg:    cfg,
	}
	bc := circuitbreaker.RemoteConfig(cfg.Cooldown)
	bc.OnStateChange = t.onBreakerChange
	t.breaker = circuitbreaker.NewBreaker(bc)
	return t
}

func (t *Tiered) onBreakerChange(from, to circuitbreaker.State) {
	if m := t.stats.metrics; m != nil {
		m.BreakerState.Set(float64(to))
	}
	switch to {
	case circuitbreaker.StateOpen:
		t.logger.LogAttrs(context.Background(), slog.LevelWarn, "remote cache unavailable, serving from local tier",
			slog.String("from", from.String()),
			slog.Duration("cooldown", t.cfg.Cooldown),
		)
	case circuitbreaker.StateClosed:
		t.logger.LogAttrs(context.Background(), slog.LevelInfo, "remote cache recovered",
			slog.String("from", from.String()),
		)
	}
}

// Get returns the value for key from the first tier that has it.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if t.remoteAllowed() {
		val, ttl, found, err := t.remoteGet(ctx, key)
		if err != nil {
			t.remoteFailed(ctx, "get", err)
		} else {
			t.breaker.RecordSuccess()
			if found {
				if ttl <= 0 {
					ttl = t.cfg.PromoteTTL
				}
				t.local.Set(ctx, key, val, ttl)
				t.stats.RecordTierHit(respcache.TierRemote)
				return val, true
			}
		}
	}

	// Remote miss falls through too: entries written while the remote
	// tier was down exist only locally.
	if val, ok := t.local.Get(ctx, key); ok {
		t.stats.RecordTierHit(respcache.TierLocal)
		return val, true
	}
	return nil, false
}

func (t *Tiered) remoteGet(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	if eg, ok := t.remote.(expiringGetter); ok {
		return eg.GetWithTTL(ctx, key)
	}
	val, found, err := t.remote.Get(ctx, key)
	return val, 0, found, err
}

// Set writes val to the local tier and then to the remote tier, either
// inline or in the background depending on the write mode.
func (t *Tiered) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	t.local.Set(ctx, key, val, ttl)
	if t.remote == nil {
		return
	}

	if t.cfg.WriteMode == WriteSync {
		t.remoteSet(ctx, key, val, ttl)
		return
	}
	wctx := context.WithoutCancel(ctx)
	t.writes.Go(func() {
		t.remoteSet(wctx, key, val, ttl)
	})
}

func (t *Tiered) remoteSet(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if !t.remoteAllowed() {
		return
	}
	if err := t.remote.Set(ctx, key, val, ttl); err != nil {
		t.remoteFailed(ctx, "set", err)
		return
	}
	t.breaker.RecordSuccess()
}

// Delete removes key from both tiers. The remote delete is best-effort.
func (t *Tiered) Delete(ctx context.Context, key string) {
	t.local.Delete(ctx, key)
	if !t.remoteAllowed() {
		return
	}
	if err := t.remote.Delete(ctx, key); err != nil {
		t.remoteFailed(ctx, "delete", err)
		return
	}
	t.breaker.RecordSuccess()
}

// Purge clears the local tier. The remote tier is shared with other
// processes and is left alone.
func (t *Tiered) Purge(ctx context.Context) {
	t.local.Purge(ctx)
}

// Health pings the remote tier and reports the state of both tiers.
// A successful ping closes the breaker immediately.
func (t *Tiered) Health(ctx context.Context) HealthSnapshot {
	snap := HealthSnapshot{
		RemoteConfigured: t.remote != nil,
		LocalSize:        t.local.Len(),
		LocalCapacity:    t.local.Cap(),
	}
	if m := t.stats.metrics; m != nil {
		m.LocalEntries.Set(float64(snap.LocalSize))
	}
	if t.remote != nil {
		ok, latency := t.ping(ctx)
		snap.RemoteAvailable = ok
		if ok {
			ms := float64(latency.Microseconds()) / 1000
			snap.RemoteLatencyMs = &ms
		}
	}
	snap.RemoteState = t.breaker.State().String()
	return snap
}

// CheckRemote pings the remote tier and updates the breaker. It reports
// false when no remote tier is configured.
func (t *Tiered) CheckRemote(ctx context.Context) bool {
	if t.remote == nil {
		return false
	}
	ok, _ := t.ping(ctx)
	return ok
}

func (t *Tiered) ping(ctx context.Context) (bool, time.Duration) {
	hctx, cancel := context.WithTimeout(ctx, t.cfg.HealthTimeout)
	defer cancel()
	latency, err := t.remote.HealthCheck(hctx)
	switch {
	case err == nil:
		t.breaker.Reset()
	case ctx.Err() == nil:
		t.stats.RecordError(respcache.TierRemote)
		t.breaker.RecordError(circuitbreaker.ClassifyError(err))
	}
	return err == nil, latency
}

// Sweep drops expired local entries.
func (t *Tiered) Sweep(now time.Time) int {
	n := t.local.Sweep(now)
	if m := t.stats.metrics; m != nil {
		m.LocalEntries.Set(float64(t.local.Len()))
	}
	return n
}

// BreakerState reports the remote tier breaker state.
func (t *Tiered) BreakerState() circuitbreaker.State {
	return t.breaker.State()
}

// Close waits for background remote writes and closes the remote store.
func (t *Tiered) Close() error {
	t.writes.Wait()
	if t.remote == nil {
		return nil
	}
	return t.remote.Close()
}

func (t *Tiered) remoteAllowed() bool {
	return t.remote != nil && t.breaker.Allow()
}

func (t *Tiered) remoteFailed(ctx context.Context, op string, err error) {
	t.stats.RecordError(respcache.TierRemote)
	t.breaker.RecordError(circuitbreaker.ClassifyError(err))
	t.logger.LogAttrs(ctx, slog.LevelDebug, "remote cache error",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
