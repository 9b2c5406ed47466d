// Package storage defines persistence interfaces for the generation ledger.
package storage

import (
	"context"
	"time"

	respcache "github.com/eugener/respcache/internal"
)

// GenerationStore persists one record per upstream generation call.
type GenerationStore interface {
	InsertGenerations(ctx context.Context, records []respcache.GenerationRecord) error
	QueryGenerations(ctx context.Context, f respcache.GenerationFilter) ([]respcache.GenerationRecord, error)
	CountGenerations(ctx context.Context, f respcache.GenerationFilter) (int, error)
	// DeleteGenerationsBefore removes records created before t and reports how many.
	DeleteGenerationsBefore(ctx context.Context, t time.Time) (int64, error)
}

// Store is the full ledger backend.
type Store interface {
	GenerationStore
	Ping(ctx context.Context) error
	Close() error
}
