// Package testutil provides in-memory fakes shared across package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/budget"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu       sync.RWMutex
	models   map[string]gateway.ModelConfig
	rules    []gateway.RoutingRule
	usage    []gateway.UsageRecord
	receipts []gateway.DecisionReceipt
	settings map[string]string
	tiers    map[gateway.Tier]gateway.TierLimits
	accounts map[string]budget.Account
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		models:   make(map[string]gateway.ModelConfig),
		settings: make(map[string]string),
		tiers:    make(map[gateway.Tier]gateway.TierLimits),
		accounts: make(map[string]budget.Account),
	}
}

// AddModel inserts a model configuration into the fake store.
func (s *FakeStore) AddModel(cfg gateway.ModelConfig) {
	s.mu.Lock()
	s.models[cfg.ModelID] = cfg
	s.mu.Unlock()
}

// --- ModelStore ---

// CreateModel stores a model configuration.
func (s *FakeStore) CreateModel(_ context.Context, cfg *gateway.ModelConfig) error {
	s.AddModel(*cfg)
	return nil
}

// GetModel looks up a model configuration by id.
func (s *FakeStore) GetModel(_ context.Context, id string) (*gateway.ModelConfig, error) {
	s.mu.RLock()
	cfg, ok := s.models[id]
	s.mu.RUnlock()
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &cfg, nil
}

// ListModels returns all stored model configurations.
func (s *FakeStore) ListModels(context.Context) ([]*gateway.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*gateway.ModelConfig, 0, len(s.models))
	for _, cfg := range s.models {
		c := cfg
		out = append(out, &c)
	}
	return out, nil
}

// UpdateModel updates a stored model configuration.
func (s *FakeStore) UpdateModel(_ context.Context, cfg *gateway.ModelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[cfg.ModelID]; !ok {
		return gateway.ErrNotFound
	}
	s.models[cfg.ModelID] = *cfg
	return nil
}

// DeleteModel removes a model configuration.
func (s *FakeStore) DeleteModel(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.models, id)
	s.mu.Unlock()
	return nil
}

// ListRules returns the stored routing rules in order.
func (s *FakeStore) ListRules(context.Context) ([]gateway.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]gateway.RoutingRule(nil), s.rules...), nil
}

// ReplaceRules swaps the stored rule list.
func (s *FakeStore) ReplaceRules(_ context.Context, rules []gateway.RoutingRule) error {
	s.mu.Lock()
	s.rules = append([]gateway.RoutingRule(nil), rules...)
	s.mu.Unlock()
	return nil
}

// --- UsageStore ---

// InsertUsage appends usage records.
func (s *FakeStore) InsertUsage(_ context.Context, records []gateway.UsageRecord) error {
	s.mu.Lock()
	s.usage = append(s.usage, records...)
	s.mu.Unlock()
	return nil
}

// QueryUsage returns stored usage records matching the filter's UserID.
func (s *FakeStore) QueryUsage(_ context.Context, f gateway.UsageFilter) ([]gateway.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []gateway.UsageRecord
	for _, r := range s.usage {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.ModelID != "" && r.ModelID != f.ModelID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// CountUsage returns the number of matching usage records.
func (s *FakeStore) CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error) {
	records, _ := s.QueryUsage(ctx, f)
	return len(records), nil
}

// SumUsageCost totals stored cost for a user.
func (s *FakeStore) SumUsageCost(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, r := range s.usage {
		if r.UserID == userID {
			total = total.Add(r.Cost)
		}
	}
	return total, nil
}

// --- ReceiptStore ---

// InsertReceipts appends decision receipts.
func (s *FakeStore) InsertReceipts(_ context.Context, receipts []gateway.DecisionReceipt) error {
	s.mu.Lock()
	s.receipts = append(s.receipts, receipts...)
	s.mu.Unlock()
	return nil
}

// QueryReceipts returns receipts for a request.
func (s *FakeStore) QueryReceipts(_ context.Context, requestID string) ([]gateway.DecisionReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []gateway.DecisionReceipt
	for _, r := range s.receipts {
		if r.RequestID == requestID {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- BudgetStore ---

// GetSetting reads a stored setting.
func (s *FakeStore) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	v, ok := s.settings[key]
	s.mu.RUnlock()
	if !ok {
		return "", gateway.ErrNotFound
	}
	return v, nil
}

// SetSetting stores a setting.
func (s *FakeStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.settings[key] = value
	s.mu.Unlock()
	return nil
}

// ListTierLimits returns stored tier quotas.
func (s *FakeStore) ListTierLimits(context.Context) ([]gateway.TierLimits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.TierLimits, 0, len(s.tiers))
	for _, l := range s.tiers {
		out = append(out, l)
	}
	return out, nil
}

// UpsertTierLimits stores one tier's quota row.
func (s *FakeStore) UpsertTierLimits(_ context.Context, limits gateway.TierLimits) error {
	s.mu.Lock()
	s.tiers[limits.Tier] = limits
	s.mu.Unlock()
	return nil
}

// ListBudgetAccounts returns stored budget accounts.
func (s *FakeStore) ListBudgetAccounts(context.Context) ([]budget.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]budget.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	return out, nil
}

// UpsertBudgetAccounts stores budget account snapshots.
func (s *FakeStore) UpsertBudgetAccounts(_ context.Context, accounts []budget.Account) error {
	s.mu.Lock()
	for _, acc := range accounts {
		s.accounts[acc.UserID] = acc
	}
	s.mu.Unlock()
	return nil
}

// UsageRecords returns a copy of all stored usage records.
func (s *FakeStore) UsageRecords() []gateway.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]gateway.UsageRecord(nil), s.usage...)
}

// Ping always succeeds.
func (s *FakeStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
