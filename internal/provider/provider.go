// Package provider defines the uniform adapter contract over LLM provider
// APIs and the registry that maps provider names to adapter instances.
package provider

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
)

// Adapter is the uniform call surface every provider implements. Adapters
// translate the neutral request into the provider wire call and fill in
// token usage, cost, and latency on the response. Adapters never retry;
// failover is a facade policy.
type Adapter interface {
	// Name returns the provider identifier (e.g. "openai", "gemini").
	Name() string
	// Generate performs one completion call for the given model config.
	Generate(ctx context.Context, req *gateway.Request, cfg gateway.ModelConfig) (*gateway.Response, error)
	// HealthCheck verifies connectivity to the provider.
	HealthCheck(ctx context.Context) error
}

// EstimateCost returns tokens * costPerToken, never negative.
func EstimateCost(tokens int, costPerToken decimal.Decimal) decimal.Decimal {
	if tokens <= 0 || costPerToken.IsNegative() {
		return decimal.Zero
	}
	return costPerToken.Mul(decimal.NewFromInt(int64(tokens)))
}

// Registry maps provider names to Adapter instances.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under the given name.
// It overwrites any previously registered adapter with the same name.
func (r *Registry) Register(name string, a Adapter) {
	r.mu.Lock()
	r.adapters[name] = a
	r.mu.Unlock()
}

// Get returns the adapter registered under name, or an error if not found.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return a, nil
}

// List returns a sorted slice of all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
