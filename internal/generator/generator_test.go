package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	respcache "github.com/eugener/respcache/internal"
	"github.com/eugener/respcache/internal/ratelimit"
	"github.com/eugener/respcache/internal/telemetry"
)

func completion(text string, tokens int) string {
	return fmt.Sprintf(`{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":%q}}],"usage":{"total_tokens":%d}}`, text, tokens)
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" || len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.MaxTokens != 120 {
			t.Errorf("request = %+v", req)
		}
		fmt.Fprint(w, completion("  Bien joué !  ", 42))
	}))
	defer srv.Close()

	m := telemetry.NewMetrics(prometheus.NewRegistry())
	c := New(srv.URL+"/v1/", "gpt-4o-mini", srv.Client(), nil, m)
	text, err := c.Generate(context.Background(), respcache.Prompt{
		Category:  respcache.CategoryFeedback,
		System:    "You are a tutor.",
		User:      "Grade: je suis allé",
		MaxTokens: 120,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Bien joué !" {
		t.Errorf("text = %q", text)
	}
	if n := testutil.CollectAndCount(m.UpstreamDuration); n != 1 {
		t.Errorf("upstream duration series = %d, want 1", n)
	}
}

func TestGenerate_APIError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantErr    error
		wantRetry  time.Duration
	}{
		{"server error", http.StatusInternalServerError, "", respcache.ErrUpstream, 0},
		{"unauthorized", http.StatusUnauthorized, "", respcache.ErrUpstream, 0},
		{"rate limited", http.StatusTooManyRequests, "7", respcache.ErrRateLimited, 7 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope"}}`)
			}))
			defer srv.Close()

			m := telemetry.NewMetrics(prometheus.NewRegistry())
			c := New(srv.URL, "m", srv.Client(), nil, m)
			_, err := c.Generate(context.Background(), respcache.Prompt{User: "hi"})

			var ae *APIError
			if !errors.As(err, &ae) || ae.StatusCode != tt.status {
				t.Fatalf("err = %v, want APIError %d", err, tt.status)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if got := RetryAfter(err); got != tt.wantRetry {
				t.Errorf("RetryAfter = %v, want %v", got, tt.wantRetry)
			}
			label := fmt.Sprint(tt.status)
			if got := testutil.ToFloat64(m.UpstreamErrors.WithLabelValues(label)); got != 1 {
				t.Errorf("upstream_errors_total{%s} = %v, want 1", label, got)
			}
		})
	}
}

func TestGenerate_MalformedResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"choices":[]}`},
		{"null content", `{"choices":[{"message":{"content":null}}]}`},
		{"blank content", completion("   ", 3)},
		{"not json", `<html>bad gateway</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := New(srv.URL, "m", srv.Client(), nil, nil)
			if _, err := c.Generate(context.Background(), respcache.Prompt{User: "hi"}); !errors.Is(err, respcache.ErrUpstream) {
				t.Errorf("err = %v, want ErrUpstream", err)
			}
		})
	}
}

func TestGenerate_RateLimited(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, completion("ok", 10))
	}))
	defer srv.Close()

	m := telemetry.NewMetrics(prometheus.NewRegistry())
	c := New(srv.URL, "m", srv.Client(), ratelimit.New(ratelimit.Limits{RPM: 1}), m)
	ctx := context.Background()

	if _, err := c.Generate(ctx, respcache.Prompt{User: "a"}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Generate(ctx, respcache.Prompt{User: "b"})
	if !errors.Is(err, respcache.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if RetryAfter(err) <= 0 {
		t.Error("RetryAfter should be positive")
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
	if got := testutil.ToFloat64(m.RateLimitRejects); got != 1 {
		t.Errorf("ratelimit_rejects_total = %v, want 1", got)
	}
}

func TestGenerate_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client := srv.Client()
	client.Timeout = 50 * time.Millisecond
	c := New(srv.URL, "m", client, nil, nil)
	_, err := c.Generate(context.Background(), respcache.Prompt{User: "hi"})
	if !errors.Is(err, respcache.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}

func TestGenerate_ContextDeadline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := New(srv.URL, "m", srv.Client(), nil, nil)
	_, err := c.Generate(ctx, respcache.Prompt{User: "hi"})
	if !errors.Is(err, respcache.ErrUpstream) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want ErrUpstream wrapping deadline exceeded", err)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"m"}]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "m", srv.Client(), nil, nil)
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
	healthy.Store(false)
	if err := c.HealthCheck(context.Background()); !errors.Is(err, respcache.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}

func TestNewTransport(t *testing.T) {
	t.Parallel()
	tr := NewTransport(nil)
	if tr.DialContext == nil || !tr.ForceAttemptHTTP2 || tr.MaxIdleConnsPerHost != 100 {
		t.Errorf("transport = %+v", tr)
	}
}
