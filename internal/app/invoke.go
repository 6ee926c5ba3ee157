package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/circuitbreaker"
	"github.com/fitstack/llmgate/internal/config"
	"github.com/fitstack/llmgate/internal/provider"
)

// invoke calls the chosen model under the per-request deadline, with at most
// one failover to the next admissible candidate and a final fall-through to
// the local fallback adapter. Retry policy lives here; adapters never retry.
func (g *Gateway) invoke(ctx context.Context, r *gateway.Request, primary gateway.ModelConfig, candidates []gateway.ModelConfig) (*gateway.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.attempt(ctx, r, primary)
	if err == nil {
		return resp, nil
	}
	if timedOut(ctx, err) {
		return nil, gateway.WrapError(gateway.KindTimeout, "request deadline expired", err)
	}

	switch provider.Classify(err) {
	case provider.KindClientInvalid:
		return nil, gateway.WrapError(gateway.KindInvalidRequest, "provider rejected request", err)

	case provider.KindTransient, provider.KindRateLimited:
		if next, ok := g.nextCandidate(ctx, primary, candidates); ok {
			if g.metrics != nil {
				g.metrics.FailoverAttempts.WithLabelValues(primary.ModelID).Inc()
			}
			slog.Warn("failing over",
				"from_model", primary.ModelID, "to_model", next.ModelID,
				"request_id", r.RequestID)

			resp, ferr := g.attempt(ctx, r, next)
			if ferr == nil {
				return resp, nil
			}
			if timedOut(ctx, ferr) {
				return nil, gateway.WrapError(gateway.KindTimeout, "request deadline expired", ferr)
			}
			if provider.Classify(ferr) == provider.KindClientInvalid {
				return nil, gateway.WrapError(gateway.KindInvalidRequest, "provider rejected request", ferr)
			}
			err = ferr
		}
	}

	// AUTH errors and repeated failures land here.
	return g.fallback(ctx, r, primary, err)
}

// fallback serves the request from the local fallback adapter. Only when the
// fallback itself is unavailable does the upstream failure surface.
func (g *Gateway) fallback(ctx context.Context, r *gateway.Request, primary gateway.ModelConfig, cause error) (*gateway.Response, error) {
	if primary.ModelID == gateway.FallbackModelID {
		return nil, gateway.WrapError(gateway.KindUpstreamFailure, "fallback adapter failed", cause)
	}

	resp, err := g.attempt(ctx, r, config.FallbackModel())
	if err != nil {
		if timedOut(ctx, err) {
			return nil, gateway.WrapError(gateway.KindTimeout, "request deadline expired", err)
		}
		return nil, gateway.WrapError(gateway.KindUpstreamFailure, "all candidates failed", cause)
	}
	slog.Info("served from fallback",
		"failed_model", primary.ModelID, "request_id", r.RequestID)
	return resp, nil
}

// attempt performs one adapter call under the model's concurrency bound and
// drives the model's circuit with the outcome. The breaker's probe slot is
// consumed here, on the call that actually runs; every admitted attempt
// resolves it via RecordSuccess, RecordFailure, or ReleaseProbe.
func (g *Gateway) attempt(ctx context.Context, r *gateway.Request, cfg gateway.ModelConfig) (*gateway.Response, error) {
	if !g.circuit.Allow(cfg.ModelID) {
		return nil, gateway.NewError(gateway.KindUpstreamFailure, "model "+cfg.ModelID+" is not accepting requests")
	}

	adapter, err := g.adapters.Get(cfg.Provider)
	if err != nil {
		g.noteCircuitFailure(cfg.ModelID)
		return nil, err
	}

	sem := g.semFor(cfg.ModelID)
	if err := sem.Acquire(ctx, 1); err != nil {
		g.noteCircuitFailure(cfg.ModelID)
		return nil, err
	}
	defer sem.Release(1)

	started := time.Now()
	resp, err := adapter.Generate(ctx, r, cfg)
	if g.metrics != nil {
		g.metrics.UpstreamDuration.WithLabelValues(cfg.Provider, cfg.ModelID).
			Observe(time.Since(started).Seconds())
	}

	if err != nil {
		kind := provider.Classify(err)
		if g.metrics != nil {
			g.metrics.UpstreamErrors.WithLabelValues(cfg.Provider, string(kind)).Inc()
		}
		if kind.CountsForCircuit() {
			g.noteCircuitFailure(cfg.ModelID)
		} else {
			g.circuit.ReleaseProbe(cfg.ModelID)
		}
		return nil, err
	}

	g.circuit.RecordSuccess(cfg.ModelID)
	g.observeCircuitState(cfg.ModelID)
	return resp, nil
}

// noteCircuitFailure drives the breaker and keeps the circuit metrics in
// step, counting closed-to-open transitions as trips.
func (g *Gateway) noteCircuitFailure(modelID string) {
	before := g.circuit.State(modelID)
	g.circuit.RecordFailure(modelID)
	after := g.circuit.State(modelID)
	if g.metrics != nil && before != circuitbreaker.StateOpen && after == circuitbreaker.StateOpen {
		g.metrics.CircuitTrips.WithLabelValues(modelID).Inc()
		slog.Warn("circuit opened", "model_id", modelID)
	}
	g.observeCircuitState(modelID)
}

func (g *Gateway) observeCircuitState(modelID string) {
	if g.metrics == nil {
		return
	}
	g.metrics.CircuitState.WithLabelValues(modelID).Set(float64(g.circuit.State(modelID)))
}

// nextCandidate returns the first candidate after primary that is routable:
// active, admitted by the circuit, and with resolvable credentials.
func (g *Gateway) nextCandidate(ctx context.Context, primary gateway.ModelConfig, candidates []gateway.ModelConfig) (gateway.ModelConfig, bool) {
	for _, c := range candidates {
		if c.ModelID == primary.ModelID || !c.Active {
			continue
		}
		if !g.circuit.CanRoute(c.ModelID) {
			continue
		}
		if !g.resolvable(ctx, c) {
			continue
		}
		return c, true
	}
	return gateway.ModelConfig{}, false
}

// semFor returns the per-model concurrency semaphore, creating it lazily.
func (g *Gateway) semFor(modelID string) *semaphore.Weighted {
	g.semMu.Lock()
	defer g.semMu.Unlock()
	sem, ok := g.sems[modelID]
	if !ok {
		sem = semaphore.NewWeighted(g.perModel)
		g.sems[modelID] = sem
	}
	return sem
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}
