package fallback

import (
	"context"
	"strings"
	"testing"

	gateway "github.com/fitstack/llmgate/internal"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	a := New()

	resp, err := a.Generate(context.Background(), &gateway.Request{
		Prompt:    "summarize this",
		TaskType:  "summary",
		RequestID: "r-1",
	}, gateway.ModelConfig{ModelID: gateway.FallbackModelID})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(resp.Content, "summary") {
		t.Errorf("content = %q, want task type mentioned", resp.Content)
	}
	if !resp.CostEstimate.IsZero() {
		t.Errorf("cost = %s, want zero", resp.CostEstimate)
	}
	if resp.TokensUsed == 0 {
		t.Error("tokens should be estimated, not zero")
	}
	if resp.Metadata["fallback"] != "true" {
		t.Error("fallback metadata flag missing")
	}
}

func TestGenerate_DefaultTaskLabel(t *testing.T) {
	t.Parallel()
	a := New()

	resp, err := a.Generate(context.Background(), &gateway.Request{Prompt: "hi"}, gateway.ModelConfig{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(resp.Content, "general") {
		t.Errorf("content = %q, want general label for empty task type", resp.Content)
	}
}
