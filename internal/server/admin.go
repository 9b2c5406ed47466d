package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	respcache "github.com/eugener/respcache/internal"
)

// handlePurge clears the local tier. The remote tier is shared with other
// instances and is left alone.
func (s *server) handlePurge(w http.ResponseWriter, r *http.Request) {
	s.deps.Cache.Purge(r.Context())
	slog.LogAttrs(r.Context(), slog.LevelInfo, "local cache purged",
		slog.String("request_id", respcache.RequestIDFromContext(r.Context())),
	)
	w.WriteHeader(http.StatusNoContent)
}

type invalidateRequest struct {
	Category respcache.Category `json:"category"`
	Params   map[string]any     `json:"params"`
}

// handleInvalidate drops one entry from both tiers.
func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	key, err := s.deps.Cache.Key(req.Category, req.Params)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", respcache.ErrBadRequest, err))
		return
	}
	if err := s.deps.Cache.Invalidate(r.Context(), req.Category, req.Params); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

type generationsResponse struct {
	Records []respcache.GenerationRecord `json:"records"`
	Total   int                          `json:"total"`
}

// handleListGenerations pages through the generation ledger.
// Query: category, status, since (RFC3339), limit, offset.
func (s *server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := respcache.GenerationFilter{
		Category: q.Get("category"),
		Status:   q.Get("status"),
		Since:    q.Get("since"),
	}
	if f.Category != "" {
		if _, err := respcache.ParseCategory(f.Category); err != nil {
			writeError(w, fmt.Errorf("%w: %v", respcache.ErrBadRequest, err))
			return
		}
	}
	if f.Since != "" {
		if _, err := time.Parse(time.RFC3339, f.Since); err != nil {
			writeError(w, fmt.Errorf("%w: since must be RFC3339", respcache.ErrBadRequest))
			return
		}
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, err)
		return
	}

	records, err := s.deps.Ledger.QueryGenerations(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := s.deps.Ledger.CountGenerations(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []respcache.GenerationRecord{}
	}
	writeJSON(w, http.StatusOK, generationsResponse{Records: records, Total: total})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", respcache.ErrBadRequest, v)
	}
	return n, nil
}
