// Package redisstore is the remote cache tier backed by Redis.
//
// Every operation is bounded twice: a pool gate caps concurrent in-flight
// operations, and a per-operation timeout caps each round trip. All failures
// wrap respcache.ErrRemoteUnavailable; a missing key is not a failure.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	respcache "github.com/eugener/respcache/internal"
	"github.com/eugener/respcache/internal/dialer"
	"github.com/eugener/respcache/internal/telemetry"
)

// PoolMode selects what happens when every pool slot is in use.
type PoolMode int

const (
	// PoolWait waits up to Config.PoolWait for a slot.
	PoolWait PoolMode = iota
	// PoolFailFast fails immediately with ErrPoolExhausted.
	PoolFailFast
)

// ParsePoolMode parses "wait" or "fail_fast". Empty means wait.
func ParsePoolMode(s string) (PoolMode, bool) {
	switch s {
	case "", "wait":
		return PoolWait, true
	case "fail_fast":
		return PoolFailFast, true
	}
	return PoolWait, false
}

// Config holds connection and pool settings.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int

	PoolSize  int
	PoolMode  PoolMode
	PoolWait  time.Duration
	OpTimeout time.Duration

	// Resolver, if set, caches DNS lookups for Addr.
	Resolver *dnscache.Resolver
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.PoolWait <= 0 {
		c.PoolWait = 100 * time.Millisecond
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 250 * time.Millisecond
	}
}

// Store is a cache.RemoteStore over a go-redis client.
type Store struct {
	rdb    *redis.Client
	gate   *semaphore.Weighted
	cfg    Config
	tracer trace.Tracer
}

// New creates a Store. The connection is established lazily, so New
// succeeds even while Redis is down; the first operation reports the outage.
func New(cfg Config) *Store {
	cfg.applyDefaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		Dialer:   dialer.New(cfg.Resolver, cfg.OpTimeout),

		DialTimeout:  cfg.OpTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
		PoolTimeout:  cfg.PoolWait,
		MaxRetries:   -1,
	})
	return &Store{
		rdb:    rdb,
		gate:   semaphore.NewWeighted(int64(cfg.PoolSize)),
		cfg:    cfg,
		tracer: telemetry.Tracer("github.com/eugener/respcache/internal/cache/redisstore"),
	}
}

// acquire takes a pool slot and returns its release func.
func (s *Store) acquire(ctx context.Context) (func(), error) {
	if s.cfg.PoolMode == PoolFailFast {
		if !s.gate.TryAcquire(1) {
			return nil, fmt.Errorf("%w: %w", respcache.ErrRemoteUnavailable, respcache.ErrPoolExhausted)
		}
		return func() { s.gate.Release(1) }, nil
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.PoolWait)
	defer cancel()
	if err := s.gate.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", respcache.ErrRemoteUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", respcache.ErrRemoteUnavailable, respcache.ErrPoolExhausted)
	}
	return func() { s.gate.Release(1) }, nil
}

// do runs fn with a pool slot and the op timeout, inside a span.
func (s *Store) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "redis."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "redis")))
	defer span.End()

	release, err := s.acquire(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer release()

	octx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	if err := fn(octx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %s: %w", respcache.ErrRemoteUnavailable, op, err)
	}
	return nil
}

// Get returns the value for key. A missing key is (nil, false, nil).
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	found := false
	err := s.do(ctx, "get", func(ctx context.Context) error {
		b, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		val, found = b, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return val, found, nil
}

// GetWithTTL returns the value for key and its remaining TTL in one round
// trip. ttl is zero when the key has no expiry.
func (s *Store) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	var (
		val   []byte
		ttl   time.Duration
		found bool
	)
	err := s.do(ctx, "get", func(ctx context.Context) error {
		pipe := s.rdb.Pipeline()
		get := pipe.Get(ctx, key)
		pttl := pipe.PTTL(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		b, err := get.Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		val, found = b, true
		if d := pttl.Val(); d > 0 {
			ttl = d
		}
		return nil
	})
	if err != nil {
		return nil, 0, false, err
	}
	return val, ttl, found, nil
}

// Set stores val with ttl. A non-positive ttl stores without expiry.
func (s *Store) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.do(ctx, "set", func(ctx context.Context) error {
		return s.rdb.Set(ctx, key, val, ttl).Err()
	})
}

// Delete removes key. Deleting a missing key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.do(ctx, "del", func(ctx context.Context) error {
		return s.rdb.Del(ctx, key).Err()
	})
}

// HealthCheck pings Redis and reports the round-trip latency.
// A ping refused by a full pool gate fails with ErrPoolExhausted.
func (s *Store) HealthCheck(ctx context.Context) (time.Duration, error) {
	var latency time.Duration
	err := s.do(ctx, "ping", func(ctx context.Context) error {
		start := time.Now()
		err := s.rdb.Ping(ctx).Err()
		latency = time.Since(start)
		return err
	})
	return latency, err
}

// Close releases all connections.
func (s *Store) Close() error {
	return s.rdb.Close()
}
