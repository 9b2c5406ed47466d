// Package worker runs the service's background tasks: ledger batching, local
// cache sweeps, remote health probes and ledger retention.
package worker

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}

type named interface {
	Name() string
}
