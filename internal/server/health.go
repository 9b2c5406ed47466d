package server

import (
	"context"
	"net/http"
	"time"
)

// Plain-text probe bodies, shared across requests.
var (
	okBody       = []byte("ok")
	notReadyBody = []byte("not ready")
	plainCT      = []string{"text/plain"}
)

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			w.Header()["Content-Type"] = plainCT
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write(notReadyBody)
			return
		}
	}
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

// handleCacheHealth reports tier state. A degraded remote tier still returns
// 200 since the local tier keeps serving.
func (s *server) handleCacheHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Cache.Health(r.Context()))
}

func (s *server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats())
}

const upstreamProbeTimeout = 5 * time.Second

type upstreamHealth struct {
	Model     string      `json:"model"`
	Available bool        `json:"available"`
	Error     string      `json:"error,omitempty"`
	RateLimit *rateBudget `json:"rate_limit,omitempty"`
}

type rateBudget struct {
	MaxRPM            int64 `json:"max_rpm"`
	MaxTPM            int64 `json:"max_tpm"`
	RequestsRemaining int64 `json:"requests_remaining"` // -1 = unlimited
}

// handleUpstreamHealth probes the generator and reports the local request
// budget. An unreachable upstream answers 503 so load balancers can act on it.
func (s *server) handleUpstreamHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), upstreamProbeTimeout)
	defer cancel()

	resp := upstreamHealth{Model: s.deps.Text.Model(), Available: true}
	if err := s.deps.Text.UpstreamHealth(ctx); err != nil {
		resp.Available = false
		resp.Error = upstreamReason(err)
	}
	if l := s.deps.Limiter; l != nil {
		limits := l.Limits()
		resp.RateLimit = &rateBudget{
			MaxRPM:            limits.RPM,
			MaxTPM:            limits.TPM,
			RequestsRemaining: l.Status().Remaining,
		}
	}

	status := http.StatusOK
	if !resp.Available {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
