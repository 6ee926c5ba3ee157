// Package perplexity implements the provider.Adapter for the Perplexity API,
// which speaks an OpenAI-compatible chat completions dialect with added
// citation metadata.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/provider"
	"github.com/fitstack/llmgate/internal/secret"
	"github.com/fitstack/llmgate/internal/tokencount"
)

const (
	defaultBaseURL = "https://api.perplexity.ai"
	providerName   = "perplexity"
)

var _ provider.Adapter = (*Client)(nil)

// Client is a Perplexity provider adapter.
type Client struct {
	baseURL string
	http    *http.Client
	secrets secret.Resolver
}

// New creates a Perplexity Client. If baseURL is empty, it defaults to the
// public API endpoint.
func New(baseURL string, client *http.Client, secrets secret.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		secrets: secrets,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Generate performs one chat completion call against the Perplexity API.
func (c *Client) Generate(ctx context.Context, req *gateway.Request, cfg gateway.ModelConfig) (*gateway.Response, error) {
	ref, err := secret.ParseRef(cfg.APIKeyRef)
	if err != nil {
		return nil, fmt.Errorf("perplexity: %w", err)
	}
	key, err := c.secrets.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("perplexity: resolve credentials: %w", err)
	}

	wire := map[string]any{
		"model": cfg.ModelName,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.MaxTokens != nil {
		wire["max_tokens"] = *req.MaxTokens
	} else if cfg.MaxTokens > 0 {
		wire["max_tokens"] = cfg.MaxTokens
	}
	if req.Temperature != nil {
		wire["temperature"] = *req.Temperature
	} else {
		wire["temperature"] = cfg.Temperature
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("perplexity: marshal request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("perplexity: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("perplexity: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("perplexity: read response: %w", err)
	}

	r := gjson.ParseBytes(respBody)
	content := r.Get("choices.0.message.content").String()
	if content == "" {
		return nil, fmt.Errorf("perplexity: empty choices in response")
	}

	tokens := int(r.Get("usage.total_tokens").Int())
	if tokens == 0 {
		tokens = tokencount.EstimateExchange(req.Prompt, content)
	}

	meta := map[string]string{"finish_reason": r.Get("choices.0.finish_reason").String()}
	if cites := r.Get("citations"); cites.Exists() {
		meta["citations"] = cites.Raw
	}

	return &gateway.Response{
		Content:      content,
		ModelID:      cfg.ModelID,
		Provider:     providerName,
		TokensUsed:   tokens,
		CostEstimate: provider.EstimateCost(tokens, cfg.CostPerTok),
		LatencyMs:    time.Since(start).Milliseconds(),
		RequestID:    req.RequestID,
		Metadata:     meta,
	}, nil
}

// HealthCheck verifies connectivity to the Perplexity API.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("perplexity: create health check request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("perplexity: health check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &provider.APIError{Provider: providerName, StatusCode: resp.StatusCode}
	}
	return nil
}
