// Package testutil provides configurable test fakes for the service's interfaces.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	respcache "github.com/eugener/respcache/internal"
)

var _ respcache.Generator = (*FakeGenerator)(nil)

// FakeGenerator is a configurable respcache.Generator that counts calls and
// remembers the prompts it saw.
type FakeGenerator struct {
	GenerateFn func(ctx context.Context, p respcache.Prompt) (string, error)
	HealthFn   func(ctx context.Context) error

	calls   atomic.Int64
	mu      sync.Mutex
	prompts []respcache.Prompt
}

// Generate delegates to GenerateFn or echoes the category.
func (f *FakeGenerator) Generate(ctx context.Context, p respcache.Prompt) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	f.mu.Unlock()
	if f.GenerateFn != nil {
		return f.GenerateFn(ctx, p)
	}
	return "generated " + p.Category.String(), nil
}

// HealthCheck delegates to HealthFn or succeeds.
func (f *FakeGenerator) HealthCheck(ctx context.Context) error {
	if f.HealthFn != nil {
		return f.HealthFn(ctx)
	}
	return nil
}

// Calls reports how many times Generate ran.
func (f *FakeGenerator) Calls() int64 { return f.calls.Load() }

// Prompts returns a copy of every prompt seen so far.
func (f *FakeGenerator) Prompts() []respcache.Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]respcache.Prompt(nil), f.prompts...)
}
