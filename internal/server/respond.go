package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	respcache "github.com/eugener/respcache/internal"
	"github.com/eugener/respcache/internal/generator"
)

const maxRequestBody = 1 << 20

// jsonCT is assigned directly to the header map to skip Header.Set's
// slice allocation.
var jsonCT = []string{"application/json"}

type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func errorResponse(msg string) apiError {
	return apiError{Error: apiErrorBody{Message: msg, Type: "error"}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected
// so typos in parameter names do not silently change the cache identity.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", respcache.ErrBadRequest, err)
	}
	return nil
}

// errorStatus maps a domain error to an HTTP status code.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, respcache.ErrBadRequest), errors.Is(err, respcache.ErrNotScalar):
		return http.StatusBadRequest
	case errors.Is(err, respcache.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, respcache.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, respcache.ErrRateLimited):
		return http.StatusTooManyRequests
	// Transport timeouts are wrapped in ErrUpstream too.
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, respcache.ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError writes err with its mapped status. Client errors carry the
// message; upstream and internal failures are reported generically.
func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	msg := err.Error()
	switch status {
	case http.StatusTooManyRequests:
		if d := generator.RetryAfter(err); d > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(d.Seconds()+0.999)))
		}
		msg = "upstream rate limit exceeded"
	case http.StatusBadGateway:
		msg = "upstream generation failed"
	case http.StatusGatewayTimeout:
		msg = "generation timed out"
	case http.StatusInternalServerError:
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse(msg))
}

// upstreamReason summarizes an upstream failure without echoing its body.
func upstreamReason(err error) string {
	var ae *generator.APIError
	switch {
	case errors.As(err, &ae):
		return "upstream returned " + strconv.Itoa(ae.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "upstream timed out"
	}
	return "upstream unreachable"
}
