package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	respcache "github.com/eugener/respcache/internal"
	"github.com/eugener/respcache/internal/cachekey"
	"github.com/eugener/respcache/internal/codec"
	"github.com/eugener/respcache/internal/telemetry"
)

// Config tunes a Manager.
type Config struct {
	Namespace      string
	TTLs           respcache.TTLTable
	ComputeTimeout time.Duration
	// SkipRoundTripCheck stores payloads without decoding them first.
	// See codec.Codec.SkipVerify.
	SkipRoundTripCheck bool
}

// Manager is the typed entry point to the cache. It builds keys from
// (category, params), encodes values, coalesces misses, and keeps stats.
type Manager struct {
	keys   *cachekey.Builder
	codec  codec.Codec
	ttls   respcache.TTLTable
	tiered *Tiered
	flight *Coalescer
	stats  *Stats
	logger *slog.Logger
	tracer trace.Tracer
}

// NewManager creates a Manager over tiered. tiered must have been built
// with the same stats.
func NewManager(cfg Config, tiered *Tiered, logger *slog.Logger) *Manager {
	ttls := cfg.TTLs
	if ttls == (respcache.TTLTable{}) {
		ttls = respcache.DefaultTTLs()
	}
	m := &Manager{
		keys:   cachekey.NewBuilder(cfg.Namespace),
		codec:  codec.Codec{SkipVerify: cfg.SkipRoundTripCheck},
		ttls:   ttls,
		tiered: tiered,
		flight: NewCoalescer(tiered, cfg.ComputeTimeout),
		stats:  tiered.stats,
		logger: logger,
		tracer: telemetry.Tracer("github.com/eugener/respcache/internal/cache"),
	}
	m.flight.Accept = func(b []byte) bool { return codec.Check(b) == nil }
	return m
}

// ValueFunc computes a value for a cache miss. The returned value must be
// JSON-serializable and decodable into the caller's out type.
type ValueFunc func(ctx context.Context) (any, error)

// GetOrCompute decodes the cached value for (c, params) into out, or calls
// compute, caches its result for the category TTL, and decodes that into
// out. Concurrent misses on the same key share one compute call.
func (m *Manager) GetOrCompute(ctx context.Context, c respcache.Category, params map[string]any, compute ValueFunc, out any) (Outcome, error) {
	key, err := m.keys.Build(c, params)
	if err != nil {
		return OutcomeComputed, err
	}

	ctx, span := m.tracer.Start(ctx, "cache.GetOrCompute",
		trace.WithAttributes(attribute.String("cache.category", c.String())))
	defer span.End()

	ttl := m.ttls.TTL(c)
	fn := m.encodeFunc(c, compute)

	val, outcome, err := m.flight.GetOrCompute(ctx, key, ttl, fn)
	m.record(c, outcome, abandoned(ctx, err))
	if err == nil {
		err = m.codec.Decode(val, out)
		if err != nil && outcome == OutcomeHit {
			m.corrupt(ctx, key, err)
			val, outcome, err = m.flight.Compute(ctx, key, ttl, fn)
			if outcome == OutcomeShared && !abandoned(ctx, err) {
				m.stats.RecordCoalesced(c)
			}
			if err == nil {
				err = m.codec.Decode(val, out)
			}
		}
	}

	span.SetAttributes(attribute.String("cache.outcome", outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (m *Manager) encodeFunc(c respcache.Category, compute ValueFunc) ComputeFunc {
	return func(ctx context.Context) ([]byte, error) {
		start := time.Now()
		v, err := compute(ctx)
		m.stats.RecordCompute(c, err)
		if met := m.stats.metrics; met != nil {
			met.ComputeDuration.WithLabelValues(c.String()).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return nil, err
		}
		b, err := m.codec.Encode(v)
		if err != nil {
			m.logger.LogAttrs(ctx, slog.LevelError, "computed value is not cacheable",
				slog.String("category", c.String()),
				slog.String("type", fmt.Sprintf("%T", v)),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		m.stats.RecordSet(c)
		return b, nil
	}
}

// record counts the outcome of one lookup. A caller that stopped waiting
// is a miss but did not share anyone's result.
func (m *Manager) record(c respcache.Category, o Outcome, gaveUp bool) {
	switch {
	case o == OutcomeHit:
		m.stats.RecordHit(c)
	case o == OutcomeShared && !gaveUp:
		m.stats.RecordMiss(c)
		m.stats.RecordCoalesced(c)
	default:
		m.stats.RecordMiss(c)
	}
}

// abandoned reports whether err is the caller's own cancellation or deadline.
func abandoned(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err())
}

func (m *Manager) corrupt(ctx context.Context, key string, err error) {
	m.stats.RecordCorrupt()
	m.tiered.Delete(ctx, key)
	m.logger.LogAttrs(ctx, slog.LevelWarn, "discarding unreadable cache entry",
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// Lookup decodes the cached value for (c, params) into out without
// computing anything on a miss.
func (m *Manager) Lookup(ctx context.Context, c respcache.Category, params map[string]any, out any) (bool, error) {
	key, err := m.keys.Build(c, params)
	if err != nil {
		return false, err
	}
	val, ok := m.tiered.Get(ctx, key)
	if !ok {
		m.stats.RecordMiss(c)
		return false, nil
	}
	if err := m.codec.Decode(val, out); err != nil {
		m.corrupt(ctx, key, err)
		m.stats.RecordMiss(c)
		return false, nil
	}
	m.stats.RecordHit(c)
	return true, nil
}

// Store caches v under (c, params) for the category TTL.
func (m *Manager) Store(ctx context.Context, c respcache.Category, params map[string]any, v any) error {
	key, err := m.keys.Build(c, params)
	if err != nil {
		return err
	}
	b, err := m.codec.Encode(v)
	if err != nil {
		return err
	}
	m.tiered.Set(ctx, key, b, m.ttls.TTL(c))
	m.stats.RecordSet(c)
	return nil
}

// Invalidate removes the entry for (c, params) from both tiers.
func (m *Manager) Invalidate(ctx context.Context, c respcache.Category, params map[string]any) error {
	key, err := m.keys.Build(c, params)
	if err != nil {
		return err
	}
	m.tiered.Delete(ctx, key)
	return nil
}

// Purge clears the local tier.
func (m *Manager) Purge(ctx context.Context) { m.tiered.Purge(ctx) }

// Key returns the cache key for (c, params).
func (m *Manager) Key(c respcache.Category, params map[string]any) (string, error) {
	return m.keys.Build(c, params)
}

// TTL returns the configured TTL for c.
func (m *Manager) TTL(c respcache.Category) time.Duration { return m.ttls.TTL(c) }

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Snapshot { return m.stats.Snapshot() }

// Health reports the state of both tiers.
func (m *Manager) Health(ctx context.Context) HealthSnapshot { return m.tiered.Health(ctx) }

// Close flushes background writes and releases the remote store.
func (m *Manager) Close() error { return m.tiered.Close() }

// Fetch is the typed form of GetOrCompute.
func Fetch[T any](ctx context.Context, m *Manager, c respcache.Category, params map[string]any, compute func(context.Context) (T, error)) (T, Outcome, error) {
	var out T
	outcome, err := m.GetOrCompute(ctx, c, params, func(ctx context.Context) (any, error) {
		return compute(ctx)
	}, &out)
	if err != nil {
		var zero T
		return zero, outcome, err
	}
	return out, outcome, nil
}

// GetOrComputeText caches generated text for (c, params).
func (m *Manager) GetOrComputeText(ctx context.Context, c respcache.Category, params map[string]any, compute func(context.Context) (string, error)) (string, Outcome, error) {
	return Fetch(ctx, m, c, params, compute)
}

// IsCacheFailure reports whether err came from the cache layer itself
// rather than from a compute function.
func IsCacheFailure(err error) bool {
	return errors.Is(err, respcache.ErrNotSerializable) ||
		errors.Is(err, respcache.ErrNotScalar) ||
		errors.Is(err, respcache.ErrCorrupt)
}
