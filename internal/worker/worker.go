// Package worker provides the gateway's background tasks: batched usage and
// receipt persistence, budget snapshots, and stale-state eviction.
package worker

import "context"

// Worker is a long-running background task supervised by Runner.
type Worker interface {
	// Name identifies the worker in logs.
	Name() string
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	// Workers flush any buffered state before returning.
	Run(ctx context.Context) error
}
