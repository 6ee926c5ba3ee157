package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/provider"
)

// FakeAdapter is a scriptable provider adapter. By default every Generate
// call succeeds with a canned response; per-model errors can be scripted
// with FailModel.
type FakeAdapter struct {
	AdapterName string
	Content     string

	mu      sync.Mutex
	errs    map[string][]error // per model id, consumed in order
	calls   atomic.Int64
	models  []string
	latency time.Duration
}

// NewFakeAdapter returns a FakeAdapter answering as the given provider.
func NewFakeAdapter(name string) *FakeAdapter {
	return &FakeAdapter{
		AdapterName: name,
		Content:     "fake response from " + name,
		errs:        make(map[string][]error),
	}
}

// FailModel scripts the next calls for a model to return the given errors in
// order; once consumed, calls succeed again.
func (f *FakeAdapter) FailModel(modelID string, errs ...error) {
	f.mu.Lock()
	f.errs[modelID] = append(f.errs[modelID], errs...)
	f.mu.Unlock()
}

// SetLatency makes every Generate call block for d, honoring context
// cancellation.
func (f *FakeAdapter) SetLatency(d time.Duration) {
	f.mu.Lock()
	f.latency = d
	f.mu.Unlock()
}

// Calls returns the total number of Generate invocations.
func (f *FakeAdapter) Calls() int64 { return f.calls.Load() }

// CalledModels returns the model ids passed to Generate, in order.
func (f *FakeAdapter) CalledModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

// Name returns the provider identifier.
func (f *FakeAdapter) Name() string { return f.AdapterName }

// Generate returns the scripted error for the model, or a canned response.
func (f *FakeAdapter) Generate(ctx context.Context, req *gateway.Request, cfg gateway.ModelConfig) (*gateway.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.models = append(f.models, cfg.ModelID)
	delay := f.latency
	var err error
	if queue := f.errs[cfg.ModelID]; len(queue) > 0 {
		err = queue[0]
		f.errs[cfg.ModelID] = queue[1:]
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}

	tokens := len(req.Prompt)/4 + 1
	return &gateway.Response{
		Content:      f.Content,
		ModelID:      cfg.ModelID,
		Provider:     f.AdapterName,
		TokensUsed:   tokens,
		CostEstimate: provider.EstimateCost(tokens, cfg.CostPerTok),
		RequestID:    req.RequestID,
	}, nil
}

// HealthCheck always succeeds.
func (f *FakeAdapter) HealthCheck(context.Context) error { return nil }

// TransientErr returns an upstream 503 for failure scripting.
func TransientErr(providerName string) error {
	return &provider.APIError{Provider: providerName, StatusCode: 503, Body: "upstream unavailable"}
}

// AuthErr returns an upstream 401 for failure scripting.
func AuthErr(providerName string) error {
	return &provider.APIError{Provider: providerName, StatusCode: 401, Body: "bad credentials"}
}

// ClientErr returns an upstream 400 for failure scripting.
func ClientErr(providerName string) error {
	return &provider.APIError{Provider: providerName, StatusCode: 400, Body: "bad request"}
}

// MemUsageSink collects usage records in memory.
type MemUsageSink struct {
	mu      sync.Mutex
	records []gateway.UsageRecord
}

// Record appends one usage record.
func (s *MemUsageSink) Record(r gateway.UsageRecord) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
}

// Records returns a copy of collected records.
func (s *MemUsageSink) Records() []gateway.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.UsageRecord(nil), s.records...)
}

// TotalCost sums the cost across collected records.
func (s *MemUsageSink) TotalCost() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, r := range s.records {
		total = total.Add(r.Cost)
	}
	return total
}

// MemReceiptSink collects decision receipts in memory.
type MemReceiptSink struct {
	mu       sync.Mutex
	receipts []gateway.DecisionReceipt
}

// Record appends one receipt.
func (s *MemReceiptSink) Record(r gateway.DecisionReceipt) {
	s.mu.Lock()
	s.receipts = append(s.receipts, r)
	s.mu.Unlock()
}

// Receipts returns a copy of collected receipts.
func (s *MemReceiptSink) Receipts() []gateway.DecisionReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.DecisionReceipt(nil), s.receipts...)
}
