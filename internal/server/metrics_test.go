package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	respcache "github.com/eugener/respcache/internal"
	"github.com/eugener/respcache/internal/app"
	"github.com/eugener/respcache/internal/cache"
	"github.com/eugener/respcache/internal/telemetry"
	"github.com/eugener/respcache/internal/testutil"
)

func newMetricsHandler(t *testing.T) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tiered := cache.NewTiered(cache.NewLRU(100), nil, cache.NewStats(metrics), logger, cache.TieredConfig{})
	m := cache.NewManager(cache.Config{Namespace: "test", TTLs: respcache.DefaultTTLs()}, tiered, logger)
	t.Cleanup(func() { m.Close() })

	h := New(Deps{
		Text:           app.NewTextService(m, &testutil.FakeGenerator{}, nil, "test-model", logger),
		Cache:          m,
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return h, reg
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h, _ := newMetricsHandler(t)

	// Two identical hints: one computed, one hit.
	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/v1/hints", strings.NewReader(`{"exercise":"x"}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("hint: status = %d; body = %s", rec.Code, rec.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, name := range []string{
		"respcache_requests_total",
		"respcache_request_duration_seconds",
		`respcache_cache_hits_total{category="hint"} 1`,
		`respcache_cache_misses_total{category="hint"} 1`,
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics should contain %s", name)
		}
	}
}

func TestMetricsMiddleware_IncrementsCounters(t *testing.T) {
	t.Parallel()
	h, reg := newMetricsHandler(t)

	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/no/such/route", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	paths := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "respcache_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "path" {
					paths[l.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	if paths["/healthz"] != 3 {
		t.Errorf("requests_total for /healthz = %v, want 3", paths["/healthz"])
	}
	if paths["unmatched"] != 1 || paths["/no/such/route"] != 0 {
		t.Errorf("unknown paths should collapse to one label, got %v", paths)
	}
}
