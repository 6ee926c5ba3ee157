package config

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/storage"
)

// snapshot is an immutable view of the model and rule configuration.
// Readers get the whole snapshot in one atomic load; a request never sees a
// half-applied update.
type snapshot struct {
	active []gateway.ModelConfig // ordered for routing
	all    []gateway.ModelConfig
	rules  []gateway.RoutingRule
}

// Manager owns ModelConfiguration and RoutingRule state. Reads are
// lock-free snapshot loads; Load and updates are serialized.
type Manager struct {
	mu        sync.Mutex
	store     storage.ModelStore
	preferred string // provider bias from LLM_PROVIDER
	snap      atomic.Pointer[snapshot]
}

// NewManager creates a configuration manager backed by store.
func NewManager(store storage.ModelStore, preferredProvider string) *Manager {
	m := &Manager{store: store, preferred: preferredProvider}
	m.snap.Store(&snapshot{})
	return m
}

// Load reads models and rules from the store and publishes a fresh snapshot.
// It is idempotent; if no active model exists a synthetic fallback model is
// injected so routing always has a candidate.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reload(ctx)
}

// reload rebuilds the snapshot. Caller holds m.mu.
func (m *Manager) reload(ctx context.Context) error {
	models, err := m.store.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	rules, err := m.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	all := make([]gateway.ModelConfig, 0, len(models))
	active := make([]gateway.ModelConfig, 0, len(models))
	for _, cfg := range models {
		all = append(all, *cfg)
		if cfg.Active {
			active = append(active, *cfg)
		}
	}

	if len(active) == 0 {
		fb := FallbackModel()
		active = append(active, fb)
		all = append(all, fb)
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if m.preferred != "" && (a.Provider == m.preferred) != (b.Provider == m.preferred) {
			return a.Provider == m.preferred
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ModelID < b.ModelID
	})

	m.snap.Store(&snapshot{active: active, all: all, rules: rules})
	return nil
}

// FallbackModel returns the synthesized local fallback configuration.
func FallbackModel() gateway.ModelConfig {
	return gateway.ModelConfig{
		ModelID:   gateway.FallbackModelID,
		Provider:  "fallback",
		ModelName: gateway.FallbackModelID,
		Priority:  gateway.PriorityFallback,
		Active:    true,
	}
}

// ActiveModels returns the active models in routing order: preferred
// provider first, then priority descending, then model id.
func (m *Manager) ActiveModels() []gateway.ModelConfig {
	s := m.snap.Load()
	out := make([]gateway.ModelConfig, len(s.active))
	copy(out, s.active)
	return out
}

// AllModels returns every configured model, active or not.
func (m *Manager) AllModels() []gateway.ModelConfig {
	s := m.snap.Load()
	out := make([]gateway.ModelConfig, len(s.all))
	copy(out, s.all)
	return out
}

// GetModel returns one model from the current snapshot.
func (m *Manager) GetModel(modelID string) (gateway.ModelConfig, bool) {
	for _, cfg := range m.snap.Load().all {
		if cfg.ModelID == modelID {
			return cfg, true
		}
	}
	return gateway.ModelConfig{}, false
}

// MatchingRules returns the rules applying to the request context, in
// declaration order.
func (m *Manager) MatchingRules(taskType string, tier gateway.Tier, priority string) []gateway.RoutingRule {
	var out []gateway.RoutingRule
	for _, r := range m.snap.Load().rules {
		if r.Matches(taskType, tier, priority) {
			out = append(out, r)
		}
	}
	return out
}

// AddModel persists a new model configuration and republishes the snapshot.
func (m *Manager) AddModel(ctx context.Context, cfg gateway.ModelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.CreateModel(ctx, &cfg); err != nil {
		return fmt.Errorf("add model: %w", err)
	}
	return m.reload(ctx)
}

// UpdateModel persists changes to an existing model and republishes the
// snapshot.
func (m *Manager) UpdateModel(ctx context.Context, cfg gateway.ModelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.UpdateModel(ctx, &cfg); err != nil {
		return fmt.Errorf("update model: %w", err)
	}
	return m.reload(ctx)
}

// ReplaceRules persists a new rule list and republishes the snapshot.
func (m *Manager) ReplaceRules(ctx context.Context, rules []gateway.RoutingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.ReplaceRules(ctx, rules); err != nil {
		return fmt.Errorf("replace rules: %w", err)
	}
	return m.reload(ctx)
}
