// Package fallback implements the local zero-cost provider adapter. It keeps
// the gateway serviceable when no third-party provider is usable and gives
// tests a deterministic target.
package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/provider"
	"github.com/fitstack/llmgate/internal/tokencount"
)

const providerName = "fallback"

var _ provider.Adapter = (*Adapter)(nil)

// Adapter produces a deterministic canned response with zero cost.
type Adapter struct{}

// New creates the fallback adapter.
func New() *Adapter { return &Adapter{} }

// Name returns the provider identifier.
func (a *Adapter) Name() string { return providerName }

// Generate returns the canned response. Token usage is the deterministic
// estimator over the exchange so accounting stays consistent; cost is zero.
func (a *Adapter) Generate(_ context.Context, req *gateway.Request, cfg gateway.ModelConfig) (*gateway.Response, error) {
	start := time.Now()
	content := fmt.Sprintf(
		"The AI service is temporarily operating in fallback mode. Your %s request was received and will be fully served once an upstream provider is available.",
		taskLabel(req.TaskType),
	)
	return &gateway.Response{
		Content:      content,
		ModelID:      cfg.ModelID,
		Provider:     providerName,
		TokensUsed:   tokencount.EstimateExchange(req.Prompt, content),
		CostEstimate: decimal.Zero,
		LatencyMs:    time.Since(start).Milliseconds(),
		RequestID:    req.RequestID,
		Metadata:     map[string]string{"fallback": "true"},
	}, nil
}

// HealthCheck always succeeds; the fallback has no remote dependency.
func (a *Adapter) HealthCheck(context.Context) error { return nil }

func taskLabel(taskType string) string {
	if taskType == "" {
		return "general"
	}
	return taskType
}
