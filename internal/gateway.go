// Package gateway defines domain types and interfaces for the llmgate
// orchestration gateway. This package has no project imports -- it is the
// dependency root.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// --- Tiers and priorities ---

// Tier is an ordered category of user entitlement controlling quotas.
type Tier int

const (
	TierFree Tier = iota
	TierPremium
	TierEnterprise
)

// String returns the canonical tier name.
func (t Tier) String() string {
	switch t {
	case TierPremium:
		return "premium"
	case TierEnterprise:
		return "enterprise"
	default:
		return "free"
	}
}

// ParseTier maps a tier name to a Tier. Unknown names map to TierFree.
func ParseTier(s string) Tier {
	switch s {
	case "premium":
		return TierPremium
	case "enterprise":
		return TierEnterprise
	default:
		return TierFree
	}
}

// Priority orders model configurations for routing preference.
type Priority int

const (
	PriorityFallback Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the canonical priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "fallback"
	}
}

// ParsePriority maps a priority name to a Priority. Unknown names map to
// PriorityFallback.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "medium":
		return PriorityMedium
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityFallback
	}
}

// --- Request / Response ---

// Request is a neutral prompt-shaped request entering the gateway.
// RequestID and Timestamp are assigned during enrichment; the struct is
// treated as immutable afterwards.
type Request struct {
	Prompt      string            `json:"prompt"`
	UserID      string            `json:"user_id"`
	SessionID   string            `json:"session_id,omitempty"`
	TaskType    string            `json:"task_type,omitempty"`
	UserTier    Tier              `json:"-"`
	Priority    string            `json:"priority,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	RequestID string    `json:"-"`
	Timestamp time.Time `json:"-"`
}

// Response is the gateway's answer to a Request.
type Response struct {
	Content      string            `json:"content"`
	ModelID      string            `json:"model_id_used"`
	Provider     string            `json:"provider"`
	TokensUsed   int               `json:"tokens_used"`
	CostEstimate decimal.Decimal   `json:"cost_estimate"`
	LatencyMs    int64             `json:"latency_ms"`
	RequestID    string            `json:"request_id"`
	Cached       bool              `json:"cached"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// --- Model configuration and routing rules ---

// ModelConfig describes one routable model behind a provider adapter.
// APIKeyRef references the secret resolver; raw credentials are never stored.
type ModelConfig struct {
	ModelID     string          `json:"model_id"`
	Provider    string          `json:"provider"`
	ModelName   string          `json:"model_name"`
	APIKeyRef   string          `json:"api_key_ref,omitempty"`
	Priority    Priority        `json:"priority"`
	CostPerTok  decimal.Decimal `json:"cost_per_token"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Active      bool            `json:"is_active"`
}

// FallbackModelID is the model id of the synthesized local fallback
// configuration, injected whenever no active model is configured.
const FallbackModelID = "fallback"

// RoutingRule narrows or reorders routing candidates for matching requests.
// Rules apply in declaration order; later rules override earlier ones.
// Empty predicate fields match everything.
type RoutingRule struct {
	Name     string   `json:"name"`
	TaskType string   `json:"task_type,omitempty"`
	UserTier string   `json:"user_tier,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Models   []string `json:"models"`
	Pin      bool     `json:"pin"` // restrict to Models instead of reordering
}

// Matches reports whether the rule applies to the given request context.
func (r RoutingRule) Matches(taskType string, tier Tier, priority string) bool {
	if r.TaskType != "" && r.TaskType != taskType {
		return false
	}
	if r.UserTier != "" && ParseTier(r.UserTier) != tier {
		return false
	}
	if r.Priority != "" && r.Priority != priority {
		return false
	}
	return true
}

// TierLimits holds per-tier request quotas and the monthly spend budget.
type TierLimits struct {
	Tier          Tier            `json:"tier"`
	DailyLimit    int64           `json:"daily_limit"`
	WeeklyLimit   int64           `json:"weekly_limit"`
	MonthlyLimit  int64           `json:"monthly_limit"`
	MonthlyBudget decimal.Decimal `json:"monthly_budget"`
}

// --- Accounting records ---

// UsageRecord is the append-only accounting row for one request.
type UsageRecord struct {
	ID           string          `json:"id"`
	RequestID    string          `json:"request_id"`
	UserID       string          `json:"user_id,omitempty"`
	ModelID      string          `json:"model_id"`
	Provider     string          `json:"provider"`
	TaskType     string          `json:"task_type,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
	LatencyMs    int64           `json:"latency_ms"`
	Cached       bool            `json:"cached"`
	Success      bool            `json:"success"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RejectedCandidate pairs a model id with the reason routing passed it over.
type RejectedCandidate struct {
	ModelID string `json:"model_id"`
	Reason  string `json:"reason"` // BUDGET, RATE, CIRCUIT_OPEN, INACTIVE
}

// DecisionReceipt is an optional append-only audit row explaining a routing
// decision.
type DecisionReceipt struct {
	RequestID   string              `json:"request_id"`
	ModelID     string              `json:"model_id"`
	Rejected    []RejectedCandidate `json:"rejected,omitempty"`
	Explanation string              `json:"explanation,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// UsageFilter selects usage records for analytics reads.
type UsageFilter struct {
	UserID  string
	ModelID string
	Since   string
	Until   string
	Limit   int
	Offset  int
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
type requestMeta struct {
	RequestID  string
	ClientAddr string
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.RequestID = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// ClientAddrFromContext extracts the remote client address from context.
// Used as the rate-limit principal for unauthenticated callers.
func ClientAddrFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.ClientAddr
	}
	return ""
}

// ContextWithClientAddr stores the client address in the existing request
// metadata if present, avoiding a second context allocation.
func ContextWithClientAddr(ctx context.Context, addr string) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.ClientAddr = addr
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{ClientAddr: addr})
}
