package worker

import (
	"context"
	"log/slog"
	"time"
)

const (
	janitorInterval = 10 * time.Minute
	janitorStaleAge = time.Hour
)

// StaleEvicter is per-key state that can shed entries idle since a cutoff.
// The circuit breaker registry and the rate limiter both satisfy it.
type StaleEvicter interface {
	EvictStale(cutoff time.Time) int
}

// Janitor periodically evicts idle per-key state so maps bounded by the
// principal population do not grow without limit.
type Janitor struct {
	targets []StaleEvicter
}

// NewJanitor creates a Janitor over the given eviction targets.
func NewJanitor(targets ...StaleEvicter) *Janitor {
	return &Janitor{targets: targets}
}

// Name returns the worker identifier.
func (j *Janitor) Name() string { return "janitor" }

// Run evicts stale entries on an interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-janitorStaleAge)
			total := 0
			for _, t := range j.targets {
				total += t.EvictStale(cutoff)
			}
			if total > 0 {
				slog.Debug("stale entries evicted", "count", total)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
