package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner supervises a set of workers. The first worker error cancels the
// group context, which every worker treats as a shutdown signal.
type Runner struct {
	workers []Worker
}

// NewRunner creates a Runner with the given workers.
func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Run starts all workers in parallel and blocks until every worker has
// returned. The first non-nil error is returned after the group drains.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		slog.Info("worker started", "worker", w.Name())
		g.Go(func() error {
			defer slog.Info("worker stopped", "worker", w.Name())
			return w.Run(ctx)
		})
	}
	return g.Wait()
}
