package server

import (
	"context"
	"net/http"

	"github.com/eugener/respcache/internal/app"
)

func (s *server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	serveText(w, r, s.deps.Text.Feedback)
}

func (s *server) handleHint(w http.ResponseWriter, r *http.Request) {
	serveText(w, r, s.deps.Text.Hint)
}

func (s *server) handleInsight(w http.ResponseWriter, r *http.Request) {
	serveText(w, r, s.deps.Text.Insight)
}

// serveText decodes a request of type Req, runs fn and writes the result.
func serveText[Req any](w http.ResponseWriter, r *http.Request, fn func(context.Context, Req) (*app.TextResponse, error)) {
	var req Req
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := fn(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
