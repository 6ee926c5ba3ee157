package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"testing"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
)

type nopAdapter string

func (a nopAdapter) Name() string { return string(a) }

func (a nopAdapter) Generate(context.Context, *gateway.Request, gateway.ModelConfig) (*gateway.Response, error) {
	return &gateway.Response{Provider: string(a)}, nil
}

func (a nopAdapter) HealthCheck(context.Context) error { return nil }

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	if _, err := r.Get("openai"); err == nil {
		t.Error("Get on empty registry: expected error")
	}

	r.Register("openai", nopAdapter("openai"))
	r.Register("gemini", nopAdapter("gemini"))

	a, err := r.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.Name() != "openai" {
		t.Errorf("Name = %q, want openai", a.Name())
	}

	// Re-register replaces the existing adapter.
	r.Register("openai", nopAdapter("openai-v2"))
	a, _ = r.Get("openai")
	if a.Name() != "openai-v2" {
		t.Errorf("after overwrite Name = %q, want openai-v2", a.Name())
	}

	if got, want := r.List(), []string{"gemini", "openai"}; !slices.Equal(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}
}

func TestAPIErrorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
		{http.StatusBadRequest, KindClientInvalid},
		{http.StatusNotFound, KindClientInvalid},
	}
	for _, tc := range cases {
		e := &APIError{Provider: "p", StatusCode: tc.status}
		if got := e.Kind(); got != tc.want {
			t.Errorf("Kind(%d) = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestCountsForCircuit(t *testing.T) {
	t.Parallel()

	for kind, want := range map[ErrorKind]bool{
		KindTransient:     true,
		KindRateLimited:   true,
		KindAuth:          true,
		KindClientInvalid: false,
		KindFatal:         false,
	} {
		if got := kind.CountsForCircuit(); got != want {
			t.Errorf("CountsForCircuit(%s) = %v, want %v", kind, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"wrapped api error", fmt.Errorf("call: %w", &APIError{StatusCode: 401}), KindAuth},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindTransient},
		{"plain error", errors.New("unexpected EOF"), KindTransient},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("%s: Classify = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	perTok := decimal.RequireFromString("0.00001")
	if got, want := EstimateCost(100, perTok), decimal.RequireFromString("0.001"); !got.Equal(want) {
		t.Errorf("cost = %s, want %s", got, want)
	}
	if got := EstimateCost(0, perTok); !got.IsZero() {
		t.Errorf("zero tokens: cost = %s, want 0", got)
	}
	if got := EstimateCost(-5, perTok); !got.IsZero() {
		t.Errorf("negative tokens: cost = %s, want 0", got)
	}
	if got := EstimateCost(100, decimal.RequireFromString("-1")); !got.IsZero() {
		t.Errorf("negative rate: cost = %s, want 0", got)
	}
}
