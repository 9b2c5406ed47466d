package generator

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	respcache "github.com/eugener/respcache/internal"
)

// APIError is a non-200 response from the upstream API.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration // from the Retry-After header, if any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream: HTTP %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps 429 to ErrRateLimited and everything else to ErrUpstream.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return respcache.ErrRateLimited
	}
	return respcache.ErrUpstream
}

// parseAPIError reads up to 4KB of the body into an APIError.
func parseAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	e := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
		e.RetryAfter = time.Duration(s) * time.Second
	}
	return e
}

// LimitError is returned when the local rate limiter refuses a call.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("upstream rate limit: retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error { return respcache.ErrRateLimited }

// RetryAfter reports how long a rate-limited caller should wait, or zero.
func RetryAfter(err error) time.Duration {
	var le *LimitError
	if errors.As(err, &le) {
		return le.RetryAfter
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}
