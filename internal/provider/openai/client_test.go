package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/provider"
	"github.com/fitstack/llmgate/internal/secret"
)

// staticSecrets resolves every ref to a fixed value.
type staticSecrets string

func (s staticSecrets) Resolve(context.Context, secret.Ref) (string, error) {
	return string(s), nil
}

func testModel() gateway.ModelConfig {
	return gateway.ModelConfig{
		ModelID:    "gpt-4o-mini",
		Provider:   "openai",
		ModelName:  "gpt-4o-mini",
		APIKeyRef:  "env:OPENAI_API_KEY",
		CostPerTok: decimal.RequireFromString("0.00001"),
		MaxTokens:  256,
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q, want Bearer test-key", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q, want gpt-4o-mini", req.Model)
		}
		if req.MaxTokens == nil || *req.MaxTokens != 256 {
			t.Errorf("max_tokens = %v, want 256 from model config", req.MaxTokens)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": "Hello there"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"total_tokens": 15},
		})
	}))
	defer srv.Close()

	client := New(srv.URL, nil, staticSecrets("test-key"))
	resp, err := client.Generate(context.Background(), &gateway.Request{Prompt: "hi"}, testModel())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "Hello there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.TokensUsed != 15 {
		t.Errorf("tokens = %d, want 15", resp.TokensUsed)
	}
	want := decimal.RequireFromString("0.00015")
	if !resp.CostEstimate.Equal(want) {
		t.Errorf("cost = %s, want %s", resp.CostEstimate, want)
	}
	if resp.Metadata["finish_reason"] != "stop" {
		t.Errorf("finish_reason = %q, want stop", resp.Metadata["finish_reason"])
	}
}

func TestGenerate_EstimatesTokensWhenUsageMissing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]string{"role": "assistant", "content": "four char sets"},
			}},
		})
	}))
	defer srv.Close()

	client := New(srv.URL, nil, staticSecrets("k"))
	resp, err := client.Generate(context.Background(), &gateway.Request{Prompt: "count me"}, testModel())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.TokensUsed == 0 {
		t.Error("tokens not estimated when usage block is absent")
	}
}

func TestGenerate_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"slow down"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(srv.URL, nil, staticSecrets("k"))
	_, err := client.Generate(context.Background(), &gateway.Request{Prompt: "hi"}, testModel())

	var ae *provider.APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if ae.Kind() != provider.KindRateLimited {
		t.Errorf("kind = %s, want %s", ae.Kind(), provider.KindRateLimited)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	status := http.StatusUnauthorized
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := New(srv.URL, nil, staticSecrets("k"))
	// 401 proves the endpoint is reachable.
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck with 401: %v", err)
	}

	status = http.StatusInternalServerError
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck with 500: expected error")
	}
}
