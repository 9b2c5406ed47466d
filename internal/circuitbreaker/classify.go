package circuitbreaker

import (
	"context"
	"errors"
	"net"
	"os"

	respcache "github.com/eugener/respcache/internal"
)

// ClassifyError returns the error weight of a remote cache failure.
//
// Weights:
//   - timeout (deadline exceeded) -> 1.5
//   - network errors -> 1.0
//   - pool exhausted -> 0.0 (local back-pressure, the backend itself is fine)
//   - caller cancellation -> 0.0 (the caller went away, not a backend fault)
//   - other errors -> 1.0
//   - nil -> 0.0
func ClassifyError(err error) float64 {
	if err == nil {
		return 0
	}

	// Timeouts first (highest weight).
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return 1.5
	}

	if errors.Is(err, respcache.ErrPoolExhausted) || errors.Is(err, context.Canceled) {
		return 0
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return 1.0
	}

	// Generic errors (protocol errors, closed client) -> backend fault.
	return 1.0
}
