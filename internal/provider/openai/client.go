// Package openai implements the provider.Adapter for the OpenAI chat
// completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/provider"
	"github.com/fitstack/llmgate/internal/secret"
	"github.com/fitstack/llmgate/internal/tokencount"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

var _ provider.Adapter = (*Client)(nil)

// Client is an OpenAI provider adapter.
type Client struct {
	baseURL string
	http    *http.Client
	secrets secret.Resolver
}

// New creates an OpenAI Client. If baseURL is empty it defaults to the
// public API endpoint. Credentials are resolved per call from the model
// config's secret ref.
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

// chatRequest is the OpenAI chat completions wire request.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	User        string        `json:"user,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the subset of the wire response the gateway consumes.
type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate performs one chat completion call against the OpenAI API.
func (c *Client) Generate(ctx context.Context, req *gateway.Request, cfg gateway.ModelConfig) (*gateway.Response, error) {
	key, err := c.resolveKey(ctx, cfg)
	if err != nil {
		return nil, err
	}

	out := chatRequest{
		Model:    cfg.ModelName,
		Messages: []chatMessage{{Role: "user", Content: req.Prompt}},
	}
	if req.MaxTokens != nil {
		out.MaxTokens = req.MaxTokens
	} else if cfg.MaxTokens > 0 {
		mt := cfg.MaxTokens
		out.MaxTokens = &mt
	}
	if req.Temperature != nil {
		out.Temperature = req.Temperature
	} else {
		temp := cfg.Temperature
		out.Temperature = &temp
	}

	body, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	content := parsed.Choices[0].Message.Content
	tokens := 0
	if parsed.Usage != nil {
		tokens = parsed.Usage.TotalTokens
	}
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
		Metadata:     map[string]string{"finish_reason": parsed.Choices[0].FinishReason},
	}, nil
}

// HealthCheck verifies connectivity by listing models anonymously-cheaply.
// A 401 still proves the endpoint is reachable, so only transport errors and
// 5xx are reported as failures.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("openai: create health check request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai: health check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &provider.APIError{Provider: providerName, StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) resolveKey(ctx context.Context, cfg gateway.ModelConfig) (string, error) {
	ref, err := secret.ParseRef(cfg.APIKeyRef)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	key, err := c.secrets.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("openai: resolve credentials: %w", err)
	}
	return key, nil
}
