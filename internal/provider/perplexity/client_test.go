package perplexity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/provider"
	"github.com/fitstack/llmgate/internal/secret"
)

type staticSecrets string

func (s staticSecrets) Resolve(context.Context, secret.Ref) (string, error) {
	return string(s), nil
}

func testModel() gateway.ModelConfig {
	return gateway.ModelConfig{
		ModelID:    "sonar",
		Provider:   "perplexity",
		ModelName:  "sonar",
		APIKeyRef:  "env:PERPLEXITY_API_KEY",
		CostPerTok: decimal.RequireFromString("0.000002"),
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer p-key" {
			t.Errorf("authorization = %q, want Bearer p-key", got)
		}
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "Grounded answer"}, "finish_reason": "stop"}],
			"usage": {"total_tokens": 33},
			"citations": ["https://example.com/source"]
		}`)
	}))
	defer srv.Close()

	client := New(srv.URL, nil, staticSecrets("p-key"))
	resp, err := client.Generate(context.Background(), &gateway.Request{Prompt: "why"}, testModel())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "Grounded answer" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.TokensUsed != 33 {
		t.Errorf("tokens = %d, want 33", resp.TokensUsed)
	}
	if resp.Metadata["citations"] == "" {
		t.Error("citations not carried into metadata")
	}
}

func TestGenerate_AuthError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(srv.URL, nil, staticSecrets("bad"))
	_, err := client.Generate(context.Background(), &gateway.Request{Prompt: "hi"}, testModel())

	var ae *provider.APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if ae.Kind() != provider.KindAuth {
		t.Errorf("kind = %s, want %s", ae.Kind(), provider.KindAuth)
	}
}
