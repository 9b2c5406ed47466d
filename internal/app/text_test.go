package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	respcache "github.com/eugener/respcache/internal"
	"github.com/eugener/respcache/internal/cache"
	"github.com/eugener/respcache/internal/testutil"
)

func newTestService(t *testing.T, gen *testutil.FakeGenerator) (*TextService, *testutil.FakeLedger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tiered := cache.NewTiered(cache.NewLRU(100), nil, cache.NewStats(nil), logger, cache.TieredConfig{})
	m := cache.NewManager(cache.Config{Namespace: "test", TTLs: respcache.DefaultTTLs()}, tiered, logger)
	t.Cleanup(func() { m.Close() })
	ledger := &testutil.FakeLedger{}
	return NewTextService(m, gen, ledger, "test-model", logger), ledger
}

func TestFeedback_CachesIdenticalRequests(t *testing.T) {
	t.Parallel()
	gen := &testutil.FakeGenerator{}
	svc, ledger := newTestService(t, gen)
	ctx := respcache.ContextWithRequestID(context.Background(), "req-1")
	req := FeedbackRequest{Exercise: "Translate: I went", Answer: "je suis allé ", Language: "French", Level: "a2"}

	first, err := svc.Feedback(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached || first.Outcome != "computed" || first.Text != "generated feedback" {
		t.Errorf("first = %+v", first)
	}

	// Trailing whitespace in the answer does not change the cache identity.
	req.Answer = "je suis allé"
	second, err := svc.Feedback(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || second.Text != first.Text {
		t.Errorf("second = %+v", second)
	}
	if gen.Calls() != 1 {
		t.Errorf("generator calls = %d, want 1", gen.Calls())
	}

	recs := ledger.Records()
	if len(recs) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.Category != respcache.CategoryFeedback || r.Status != "ok" || r.Model != "test-model" ||
		r.RequestID != "req-1" || !strings.HasPrefix(r.CacheKey, "test:feedback:") {
		t.Errorf("record = %+v", r)
	}

	p := gen.Prompts()[0]
	if !strings.Contains(p.System, "French") || !strings.Contains(p.System, "A2") {
		t.Errorf("system prompt = %q", p.System)
	}
}

func TestHint_AttemptsCapped(t *testing.T) {
	t.Parallel()
	gen := &testutil.FakeGenerator{}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	for _, attempt := range []int{0, 1, 3, 7, 12} {
		if _, err := svc.Hint(ctx, HintRequest{Exercise: "Conjugate être", Attempt: attempt}); err != nil {
			t.Fatal(err)
		}
	}
	// 0, 1 and 3+ are distinct entries.
	if gen.Calls() != 3 {
		t.Errorf("generator calls = %d, want 3", gen.Calls())
	}
}

func TestInsight_AccuracyBucketed(t *testing.T) {
	t.Parallel()
	gen := &testutil.FakeGenerator{}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	a, err := svc.Insight(ctx, InsightRequest{Topic: "passé composé", Accuracy: 0.81, Attempts: 12})
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Insight(ctx, InsightRequest{Topic: "passé composé", Accuracy: 0.79, Attempts: 15})
	if err != nil {
		t.Fatal(err)
	}
	if a.Cached || !b.Cached {
		t.Errorf("a.Cached = %v, b.Cached = %v", a.Cached, b.Cached)
	}
	if !strings.Contains(gen.Prompts()[0].User, "80%") {
		t.Errorf("prompt = %q", gen.Prompts()[0].User)
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, &testutil.FakeGenerator{})
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"feedback without answer", func() error {
			_, err := svc.Feedback(ctx, FeedbackRequest{Exercise: "x"})
			return err
		}},
		{"feedback oversized", func() error {
			_, err := svc.Feedback(ctx, FeedbackRequest{Exercise: strings.Repeat("x", maxFieldLen+1), Answer: "y"})
			return err
		}},
		{"hint without exercise", func() error {
			_, err := svc.Hint(ctx, HintRequest{Exercise: "  "})
			return err
		}},
		{"hint negative attempt", func() error {
			_, err := svc.Hint(ctx, HintRequest{Exercise: "x", Attempt: -1})
			return err
		}},
		{"insight accuracy out of range", func() error {
			_, err := svc.Insight(ctx, InsightRequest{Topic: "t", Accuracy: 1.5})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, respcache.ErrBadRequest) {
				t.Errorf("err = %v, want ErrBadRequest", err)
			}
		})
	}
}

func TestGeneratorErrorRecordedNotCached(t *testing.T) {
	t.Parallel()
	boom := errors.New("upstream 503")
	gen := &testutil.FakeGenerator{GenerateFn: func(context.Context, respcache.Prompt) (string, error) {
		return "", boom
	}}
	svc, ledger := newTestService(t, gen)
	ctx := context.Background()
	req := HintRequest{Exercise: "x"}

	for range 2 {
		if _, err := svc.Hint(ctx, req); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want %v", err, boom)
		}
	}
	if gen.Calls() != 2 {
		t.Errorf("generator calls = %d, want 2 (failures are not cached)", gen.Calls())
	}
	recs := ledger.Records()
	if len(recs) != 2 || recs[0].Status != "error" || recs[0].Error != boom.Error() {
		t.Errorf("records = %+v", recs)
	}
}

func TestConcurrentRequestsShareOneGeneration(t *testing.T) {
	t.Parallel()
	gen := &testutil.FakeGenerator{GenerateFn: func(context.Context, respcache.Prompt) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "Think about the auxiliary verb.", nil
	}}
	svc, ledger := newTestService(t, gen)

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			resp, err := svc.Hint(context.Background(), HintRequest{Exercise: "je ___ allé"})
			if err != nil || resp.Text != "Think about the auxiliary verb." {
				t.Errorf("resp = %+v, err = %v", resp, err)
			}
		})
	}
	wg.Wait()

	if gen.Calls() != 1 || len(ledger.Records()) != 1 {
		t.Errorf("calls = %d, records = %d, want 1 and 1", gen.Calls(), len(ledger.Records()))
	}
}
