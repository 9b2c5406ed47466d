// Package cache implements the two-tier response cache: a bounded in-process
// store in front of an optional shared remote store, with request coalescing
// and hit/miss accounting.
package cache

import (
	"context"
	"time"
)

// Store is the byte-level contract shared by every tier.
type Store interface {
	// Get retrieves a live value by key.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	// Delete removes a value.
	Delete(ctx context.Context, key string)
	// Purge removes all values.
	Purge(ctx context.Context)
}

// LocalStore is an in-process Store with bounded capacity.
type LocalStore interface {
	Store
	// Len returns the number of stored entries, expired ones included
	// until they are swept.
	Len() int
	// Cap returns the maximum number of entries.
	Cap() int
	// Sweep drops expired entries and returns how many were removed.
	Sweep(now time.Time) int
}

// RemoteStore is a shared out-of-process store. Unlike LocalStore, every
// operation can fail; failures are wrapped with ErrRemoteUnavailable.
type RemoteStore interface {
	Get(ctx context.Context, key string) (val []byte, found bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// HealthCheck pings the backend and reports the round-trip latency.
	// The error goes through circuitbreaker.ClassifyError like any other
	// remote failure.
	HealthCheck(ctx context.Context) (latency time.Duration, err error)
	Close() error
}

// expiringGetter is implemented by remote stores that can report the
// remaining TTL of a key alongside its value.
type expiringGetter interface {
	GetWithTTL(ctx context.Context, key string) (val []byte, ttl time.Duration, found bool, err error)
}
