package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/app"
	"github.com/fitstack/llmgate/internal/budget"
	"github.com/fitstack/llmgate/internal/cache"
	"github.com/fitstack/llmgate/internal/circuitbreaker"
	"github.com/fitstack/llmgate/internal/config"
	"github.com/fitstack/llmgate/internal/provider"
	"github.com/fitstack/llmgate/internal/ratelimit"
	"github.com/fitstack/llmgate/internal/testutil"
)

type testServer struct {
	handler http.Handler
	store   *testutil.FakeStore
	adapter *testutil.FakeAdapter
	gw      *app.Gateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := testutil.NewFakeStore()
	store.AddModel(gateway.ModelConfig{
		ModelID:    "m-test",
		Provider:   "fake",
		ModelName:  "m-test",
		Priority:   gateway.PriorityMedium,
		CostPerTok: decimal.RequireFromString("0.00001"),
		MaxTokens:  1024,
		Active:     true,
	})
	mgr := config.NewManager(store, "")

	adapter := testutil.NewFakeAdapter("fake")
	registry := provider.NewRegistry()
	registry.Register("fake", adapter)
	registry.Register("fallback", testutil.NewFakeAdapter("fallback"))

	mem, err := cache.NewMemory(64, time.Minute)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}

	gw := app.New(app.Options{
		Config:   mgr,
		Adapters: registry,
		Cache:    cache.NewResponseCache(mem, time.Minute),
		Circuit:  circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		Budget:   budget.NewManager(budget.DefaultTierLimits(), budget.GlobalConfig{}, budget.Strict),
		Limiter:  ratelimit.NewLimiter(ratelimit.DefaultLimits()),
	})
	if err := gw.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	return &testServer{
		handler: New(Deps{Gateway: gw, Config: mgr, Store: store}),
		store:   store,
		adapter: adapter,
		gw:      gw,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := doJSON(t, ts.handler, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := doJSON(t, ts.handler, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	ts.gw.Shutdown()
	rec = doJSON(t, ts.handler, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status after shutdown = %d, want 503", rec.Code)
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := doJSON(t, ts.handler, http.MethodPost, "/v1/generate",
		`{"prompt":"explain channels","user_id":"u1","task_type":"chat"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}

	var resp gateway.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Content == "" || resp.ModelID != "m-test" {
		t.Errorf("response = %+v, want content from m-test", resp)
	}
}

func TestGenerate_InvalidBody(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := doJSON(t, ts.handler, http.MethodPost, "/v1/generate", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := doJSON(t, ts.handler, http.MethodPost, "/v1/generate",
		`{"prompt":"","user_id":"u1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var apiErr apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if apiErr.Error.Kind != string(gateway.KindInvalidRequest) {
		t.Errorf("kind = %q, want %s", apiErr.Error.Kind, gateway.KindInvalidRequest)
	}
}

func TestGenerate_Stream(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := doJSON(t, ts.handler, http.MethodPost, "/v1/generate",
		`{"prompt":"stream me","user_id":"u1","stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: {") || !strings.Contains(body, "data: [DONE]") {
		t.Errorf("body = %q, want SSE frames and [DONE]", body)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind gateway.ErrorKind
		want int
	}{
		{gateway.KindInvalidRequest, http.StatusBadRequest},
		{gateway.KindRateLimited, http.StatusTooManyRequests},
		{gateway.KindBudgetExceeded, http.StatusPaymentRequired},
		{gateway.KindNotReady, http.StatusServiceUnavailable},
		{gateway.KindNoModel, http.StatusServiceUnavailable},
		{gateway.KindTimeout, http.StatusGatewayTimeout},
		{gateway.KindUpstreamFailure, http.StatusBadGateway},
		{gateway.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := errorStatus(tc.kind); got != tc.want {
			t.Errorf("errorStatus(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestAdminModels(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := doJSON(t, ts.handler, http.MethodPost, "/admin/models",
		`{"model_id":"m-new","provider":"fake","model_name":"m-new","priority":2,"cost_per_token":"0.00002","max_tokens":2048,"is_active":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, ts.handler, http.MethodGet, "/admin/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"m-new"`) {
		t.Errorf("list body = %s, want m-new present", rec.Body.String())
	}

	rec = doJSON(t, ts.handler, http.MethodPut, "/admin/models/m-new",
		`{"provider":"fake","model_name":"m-new","priority":2,"cost_per_token":"0.00002","max_tokens":2048,"is_active":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, ts.handler, http.MethodPut, "/admin/models/m-missing",
		`{"provider":"fake","is_active":true}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("update missing status = %d, want 404", rec.Code)
	}
}

func TestAdminRules(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := doJSON(t, ts.handler, http.MethodPut, "/admin/rules",
		`[{"name":"pin-chat","task_type":"chat","models":["m-test"],"pin":true}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("replace status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, ts.handler, http.MethodGet, "/admin/rules", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pin-chat") {
		t.Errorf("rules body = %s, want pin-chat present", rec.Body.String())
	}
}

func TestAdminUsage(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	records := []gateway.UsageRecord{
		{RequestID: "r1", UserID: "u1", ModelID: "m-test", Cost: decimal.RequireFromString("0.01"), Success: true},
		{RequestID: "r2", UserID: "u2", ModelID: "m-test", Cost: decimal.RequireFromString("0.02"), Success: true},
	}
	if err := ts.store.InsertUsage(context.Background(), records); err != nil {
		t.Fatalf("InsertUsage: %v", err)
	}

	rec := doJSON(t, ts.handler, http.MethodGet, "/admin/usage?user_id=u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Data       []gateway.UsageRecord `json:"data"`
		Pagination pagination            `json:"pagination"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].RequestID != "r1" {
		t.Errorf("data = %+v, want only u1's record", resp.Data)
	}
	if resp.Pagination.Total != 1 {
		t.Errorf("total = %d, want 1", resp.Pagination.Total)
	}
}

func TestAdminReceipts(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	err := ts.store.InsertReceipts(context.Background(), []gateway.DecisionReceipt{
		{RequestID: "r9", ModelID: "m-test", Explanation: "cheapest admissible"},
	})
	if err != nil {
		t.Fatalf("InsertReceipts: %v", err)
	}

	rec := doJSON(t, ts.handler, http.MethodGet, "/admin/receipts/r9", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cheapest admissible") {
		t.Errorf("body = %s, want receipt present", rec.Body.String())
	}
}
