// Package gemini implements the provider.Adapter for the Google Gemini API.
package gemini

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
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerName   = "gemini"
)

var _ provider.Adapter = (*Client)(nil)

// Client is a Gemini provider adapter.
type Client struct {
	baseURL string
	http    *http.Client
	secrets secret.Resolver
}

// New creates a Gemini Client. If baseURL is empty, it defaults to the
// public Gemini API endpoint.
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

// Generate performs one generateContent call against the Gemini API.
func (c *Client) Generate(ctx context.Context, req *gateway.Request, cfg gateway.ModelConfig) (*gateway.Response, error) {
	ref, err := secret.ParseRef(cfg.APIKeyRef)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	key, err := c.secrets.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve credentials: %w", err)
	}

	genCfg := map[string]any{}
	if req.Temperature != nil {
		genCfg["temperature"] = *req.Temperature
	} else {
		genCfg["temperature"] = cfg.Temperature
	}
	if req.MaxTokens != nil {
		genCfg["maxOutputTokens"] = *req.MaxTokens
	} else if cfg.MaxTokens > 0 {
		genCfg["maxOutputTokens"] = cfg.MaxTokens
	}

	gReq := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": req.Prompt}}},
		},
		"generationConfig": genCfg,
	}

	body, err := json.Marshal(gReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	start := time.Now()
	u := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, cfg.ModelName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	r := gjson.ParseBytes(respBody)
	var sb strings.Builder
	r.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		sb.WriteString(part.Get("text").String())
		return true
	})
	content := sb.String()
	if content == "" {
		return nil, fmt.Errorf("gemini: empty candidates in response")
	}

	tokens := int(r.Get("usageMetadata.totalTokenCount").Int())
	if tokens == 0 {
		tokens = tokencount.EstimateExchange(req.Prompt, content)
	}

	return &gateway.Response{
		Content:      content,
		ModelID:      cfg.ModelID,
		Provider:     providerName,
		TokensUsed:   tokens,
		CostEstimate: provider.EstimateCost(tokens, cfg.CostPerTok),
		LatencyMs:    time.Since(start).Milliseconds(),
		RequestID:    req.RequestID,
		Metadata:     map[string]string{"finish_reason": r.Get("candidates.0.finishReason").String()},
	}, nil
}

// HealthCheck verifies connectivity to the Gemini API. Auth failures still
// prove reachability, so only transport errors and 5xx fail the check.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("gemini: create health check request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini: health check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &provider.APIError{Provider: providerName, StatusCode: resp.StatusCode}
	}
	return nil
}
