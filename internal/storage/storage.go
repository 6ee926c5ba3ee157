// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/budget"
)

// UsageStore manages usage record persistence. Writes are append-only.
type UsageStore interface {
	InsertUsage(ctx context.Context, records []gateway.UsageRecord) error
	QueryUsage(ctx context.Context, f gateway.UsageFilter) ([]gateway.UsageRecord, error)
	CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error)
	SumUsageCost(ctx context.Context, userID string) (decimal.Decimal, error)
}

// ReceiptStore manages routing decision receipt persistence.
type ReceiptStore interface {
	InsertReceipts(ctx context.Context, receipts []gateway.DecisionReceipt) error
	QueryReceipts(ctx context.Context, requestID string) ([]gateway.DecisionReceipt, error)
}

// ModelStore manages model configuration and routing rule persistence.
type ModelStore interface {
	CreateModel(ctx context.Context, cfg *gateway.ModelConfig) error
	GetModel(ctx context.Context, modelID string) (*gateway.ModelConfig, error)
	ListModels(ctx context.Context) ([]*gateway.ModelConfig, error)
	UpdateModel(ctx context.Context, cfg *gateway.ModelConfig) error
	DeleteModel(ctx context.Context, modelID string) error
	ListRules(ctx context.Context) ([]gateway.RoutingRule, error)
	ReplaceRules(ctx context.Context, rules []gateway.RoutingRule) error
}

// BudgetStore manages budget settings, tier quotas, and per-user account
// persistence.
type BudgetStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ListTierLimits(ctx context.Context) ([]gateway.TierLimits, error)
	UpsertTierLimits(ctx context.Context, limits gateway.TierLimits) error
	ListBudgetAccounts(ctx context.Context) ([]budget.Account, error)
	UpsertBudgetAccounts(ctx context.Context, accounts []budget.Account) error
}

// Store combines all storage interfaces.
type Store interface {
	UsageStore
	ReceiptStore
	ModelStore
	BudgetStore
	Ping(ctx context.Context) error
	Close() error
}
