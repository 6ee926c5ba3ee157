package circuitbreaker

import (
	"sync"
	"time"
)

// Registry manages per-model Breaker instances.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a circuit breaker registry with the given config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// CanRoute reports whether the model could receive traffic, without touching
// breaker state. Unknown models are routable.
func (r *Registry) CanRoute(modelID string) bool {
	r.mu.RLock()
	b := r.breakers[modelID]
	r.mu.RUnlock()
	if b == nil {
		return true
	}
	return b.CanRoute()
}

// Allow reports whether traffic to the model may proceed, consuming the
// half-open probe slot when one is available. Unknown models are admitted
// (a breaker is created lazily on first outcome).
func (r *Registry) Allow(modelID string) bool {
	r.mu.RLock()
	b := r.breakers[modelID]
	r.mu.RUnlock()
	if b == nil {
		return true
	}
	return b.Allow()
}

// ReleaseProbe frees the model's half-open probe slot without an outcome.
func (r *Registry) ReleaseProbe(modelID string) {
	r.mu.RLock()
	b := r.breakers[modelID]
	r.mu.RUnlock()
	if b != nil {
		b.ReleaseProbe()
	}
}

// RecordSuccess drives the model's breaker with a success outcome.
func (r *Registry) RecordSuccess(modelID string) {
	r.getOrCreate(modelID).RecordSuccess()
}

// RecordFailure drives the model's breaker with a countable failure.
func (r *Registry) RecordFailure(modelID string) {
	r.getOrCreate(modelID).RecordFailure()
}

// State returns the breaker state for a model; unknown models are closed.
func (r *Registry) State(modelID string) State {
	r.mu.RLock()
	b := r.breakers[modelID]
	r.mu.RUnlock()
	if b == nil {
		return StateClosed
	}
	return b.State()
}

// getOrCreate returns the breaker for modelID, creating one if needed.
// Uses double-check locking to minimize write-lock contention.
func (r *Registry) getOrCreate(modelID string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[modelID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[modelID]; ok {
		return b
	}
	b = NewBreaker(r.config)
	r.breakers[modelID] = b
	return b
}

// EvictStale removes breakers not used since cutoff.
// Phase 1: RLock to snapshot stale keys. Phase 2: Lock to delete them.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.RLock()
	var staleKeys []string
	for k, b := range r.breakers {
		if b.LastUsed().Before(cutoff) {
			staleKeys = append(staleKeys, k)
		}
	}
	r.mu.RUnlock()

	if len(staleKeys) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for _, k := range staleKeys {
		if b, ok := r.breakers[k]; ok {
			if b.LastUsed().Before(cutoff) {
				delete(r.breakers, k)
				evicted++
			}
		}
	}
	return evicted
}
