package gemini

import (
	"context"
	"encoding/json"
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
		ModelID:    "gemini-flash",
		Provider:   "gemini",
		ModelName:  "gemini-2.0-flash",
		APIKeyRef:  "env:GEMINI_API_KEY",
		CostPerTok: decimal.RequireFromString("0.000005"),
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if want := "/models/gemini-2.0-flash:generateContent"; r.URL.Path != want {
			t.Errorf("path = %s, want %s", r.URL.Path, want)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "g-key" {
			t.Errorf("api key header = %q, want g-key", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if _, ok := req["contents"]; !ok {
			t.Error("request missing contents")
		}

		// Multi-part candidate plus usage metadata.
		fmt.Fprint(w, `{
			"candidates": [{
				"content": {"parts": [{"text": "Hello "}, {"text": "world"}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"totalTokenCount": 21}
		}`)
	}))
	defer srv.Close()

	client := New(srv.URL, nil, staticSecrets("g-key"))
	resp, err := client.Generate(context.Background(), &gateway.Request{Prompt: "hi"}, testModel())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("content = %q, want parts concatenated", resp.Content)
	}
	if resp.TokensUsed != 21 {
		t.Errorf("tokens = %d, want 21", resp.TokensUsed)
	}
	if resp.Metadata["finish_reason"] != "STOP" {
		t.Errorf("finish_reason = %q, want STOP", resp.Metadata["finish_reason"])
	}
}

func TestGenerate_EmptyCandidates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"candidates": []}`)
	}))
	defer srv.Close()

	client := New(srv.URL, nil, staticSecrets("g-key"))
	_, err := client.Generate(context.Background(), &gateway.Request{Prompt: "hi"}, testModel())
	if err == nil {
		t.Fatal("expected error for empty candidates")
	}
}

func TestGenerate_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"status":"UNAVAILABLE"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(srv.URL, nil, staticSecrets("g-key"))
	_, err := client.Generate(context.Background(), &gateway.Request{Prompt: "hi"}, testModel())

	var ae *provider.APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if ae.Kind() != provider.KindTransient {
		t.Errorf("kind = %s, want %s", ae.Kind(), provider.KindTransient)
	}
}
