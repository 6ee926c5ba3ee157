// Package app wires the gateway pipeline: admission, routing, adapter
// invocation with failover, and post-success accounting.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/budget"
	"github.com/fitstack/llmgate/internal/cache"
	"github.com/fitstack/llmgate/internal/circuitbreaker"
	"github.com/fitstack/llmgate/internal/config"
	"github.com/fitstack/llmgate/internal/provider"
	"github.com/fitstack/llmgate/internal/ratelimit"
	"github.com/fitstack/llmgate/internal/routing"
	"github.com/fitstack/llmgate/internal/secret"
	"github.com/fitstack/llmgate/internal/telemetry"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPerModel       = 64
)

var tracer = telemetry.Tracer("llmgate/app")

// UsageSink receives usage records; *worker.UsageRecorder satisfies it.
type UsageSink interface {
	Record(r gateway.UsageRecord)
}

// ReceiptSink receives routing decision receipts.
type ReceiptSink interface {
	Record(r gateway.DecisionReceipt)
}

// Options configures a Gateway. Config, Adapters, Circuit, Budget, and
// Limiter are required; the rest are optional.
type Options struct {
	Config   *config.Manager
	Adapters *provider.Registry
	Cache    *cache.ResponseCache // nil disables caching and single-flight
	Circuit  *circuitbreaker.Registry
	Budget   *budget.Manager
	Limiter  *ratelimit.Limiter
	Usage    UsageSink       // nil disables usage records
	Receipts ReceiptSink     // nil disables decision receipts
	Metrics  *telemetry.Metrics
	Secrets  secret.Resolver // nil disables credential checks

	RequestTimeout      time.Duration
	PerModelConcurrency int64
}

// Gateway is the facade in front of the request pipeline. It holds no
// mutable state beyond the initialized flag and the per-model semaphores.
type Gateway struct {
	cfg      *config.Manager
	adapters *provider.Registry
	cache    *cache.ResponseCache
	circuit  *circuitbreaker.Registry
	budget   *budget.Manager
	limiter  *ratelimit.Limiter
	usage    UsageSink
	receipts ReceiptSink
	metrics  *telemetry.Metrics
	secrets  secret.Resolver

	timeout  time.Duration
	perModel int64

	flight singleflight.Group

	semMu sync.Mutex
	sems  map[string]*semaphore.Weighted

	initialized atomic.Bool
}

// New creates a Gateway from options. Call Init before Process.
func New(opts Options) *Gateway {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.PerModelConcurrency <= 0 {
		opts.PerModelConcurrency = defaultPerModel
	}
	return &Gateway{
		cfg:      opts.Config,
		adapters: opts.Adapters,
		cache:    opts.Cache,
		circuit:  opts.Circuit,
		budget:   opts.Budget,
		limiter:  opts.Limiter,
		usage:    opts.Usage,
		receipts: opts.Receipts,
		metrics:  opts.Metrics,
		secrets:  opts.Secrets,
		timeout:  opts.RequestTimeout,
		perModel: opts.PerModelConcurrency,
		sems:     make(map[string]*semaphore.Weighted),
	}
}

// Init loads the configuration snapshot, verifies that every active model's
// credentials resolve, and marks the gateway ready. An unresolvable
// reference at startup is fatal; references that break later only exclude
// the affected model from routing. Idempotent.
func (g *Gateway) Init(ctx context.Context) error {
	if err := g.cfg.Load(ctx); err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}
	if g.secrets != nil {
		for _, m := range g.cfg.ActiveModels() {
			if m.APIKeyRef == "" {
				continue
			}
			ref, err := secret.ParseRef(m.APIKeyRef)
			if err != nil {
				return fmt.Errorf("init gateway: model %s: %w", m.ModelID, err)
			}
			if _, err := g.secrets.Resolve(ctx, ref); err != nil {
				return fmt.Errorf("init gateway: model %s credentials: %w", m.ModelID, err)
			}
		}
	}
	g.initialized.Store(true)
	return nil
}

// resolvable reports whether the model's credentials resolve. Models without
// a key reference (the local fallback) always pass.
func (g *Gateway) resolvable(ctx context.Context, m gateway.ModelConfig) bool {
	if g.secrets == nil || m.APIKeyRef == "" {
		return true
	}
	ref, err := secret.ParseRef(m.APIKeyRef)
	if err != nil {
		return false
	}
	_, err = g.secrets.Resolve(ctx, ref)
	return err == nil
}

// Shutdown stops admitting new requests. In-flight requests finish on their
// own deadlines.
func (g *Gateway) Shutdown() {
	g.initialized.Store(false)
}

// Ready reports whether the gateway is initialized.
func (g *Gateway) Ready() bool {
	return g.initialized.Load()
}

// Process runs one request through the pipeline: guard, validate, cache,
// rate limit, budget, routing, invoke with failover, record, assemble.
func (g *Gateway) Process(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	if !g.initialized.Load() {
		return nil, gateway.NewError(gateway.KindNotReady, "gateway not initialized")
	}

	r, err := g.enrich(ctx, req)
	if err != nil {
		return nil, err
	}
	started := r.Timestamp

	ctx, span := tracer.Start(ctx, "gateway.Process", trace.WithAttributes(
		attribute.String("task_type", r.TaskType),
		attribute.String("request_id", r.RequestID),
	))
	defer span.End()

	if g.metrics != nil {
		g.metrics.ActiveRequests.Inc()
		defer g.metrics.ActiveRequests.Dec()
	}

	// Cache lookup. A hit consumes no quota and no rate-limit slot.
	if g.cache != nil && !r.Stream {
		if hit, ok := g.cache.Get(ctx, r); ok {
			if g.metrics != nil {
				g.metrics.CacheHits.Inc()
			}
			resp := g.assembleCached(hit, r, started)
			g.recordCacheHit(r, resp)
			g.observeOutcome(r.TaskType, "cache_hit", started)
			return resp, nil
		}
		if g.metrics != nil {
			g.metrics.CacheMisses.Inc()
		}
	}

	resp, err := g.executeShared(ctx, r)
	if err != nil {
		span.RecordError(err)
		g.observeOutcome(r.TaskType, strings.ToLower(string(gateway.KindOf(err))), started)
		return nil, err
	}

	resp.RequestID = r.RequestID
	resp.LatencyMs = time.Since(started).Milliseconds()
	g.observeOutcome(r.TaskType, "success", started)
	return resp, nil
}

// enrich validates the request and returns an immutable working copy with
// request id and timestamp assigned.
func (g *Gateway) enrich(ctx context.Context, req *gateway.Request) (*gateway.Request, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, gateway.NewError(gateway.KindInvalidRequest, "prompt must not be empty")
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return nil, gateway.NewError(gateway.KindInvalidRequest, "max_tokens must be positive")
	}

	r := *req
	if r.RequestID == "" {
		r.RequestID = gateway.RequestIDFromContext(ctx)
	}
	if r.RequestID == "" {
		r.RequestID = uuid.Must(uuid.NewV7()).String()
	}
	r.Timestamp = time.Now()
	return &r, nil
}

// executeShared collapses concurrent identical requests into one upstream
// call. The leader runs the full admitted pipeline; followers reuse its
// response as a cache hit. A shared failure is not reused: each follower
// re-runs its own pipeline so one caller's rejection cannot leak to others.
func (g *Gateway) executeShared(ctx context.Context, r *gateway.Request) (*gateway.Response, error) {
	if g.cache == nil || r.Stream {
		return g.admitAndInvoke(ctx, r)
	}

	key := cache.Fingerprint(r)
	v, err, shared := g.flight.Do(key, func() (any, error) {
		return g.admitAndInvoke(ctx, r)
	})
	if err != nil {
		if shared {
			return g.admitAndInvoke(ctx, r)
		}
		return nil, err
	}

	// Every caller gets a private copy: Process assembles request id and
	// latency on the returned value after Do, and those writes must never
	// touch the response other flight members hold.
	out := *(v.(*gateway.Response))
	if shared {
		// Follower: the leader paid for the tokens.
		out.Cached = true
		out.TokensUsed = 0
		out.CostEstimate = decimal.Zero
		g.recordCacheHit(r, &out)
	}
	return &out, nil
}

// admitAndInvoke runs steps 4-8 for one request: rate limit, budget check,
// routing, adapter invocation, and post-success accounting.
func (g *Gateway) admitAndInvoke(ctx context.Context, r *gateway.Request) (*gateway.Response, error) {
	principal := r.UserID
	if principal == "" {
		principal = gateway.ClientAddrFromContext(ctx)
	}
	if !g.limiter.Allow(ratelimit.ClassGenerate, principal) {
		if g.metrics != nil {
			g.metrics.RateLimitRejects.WithLabelValues(ratelimit.ClassGenerate).Inc()
		}
		return nil, gateway.NewError(gateway.KindRateLimited, "request rate limit exceeded")
	}

	adm := g.budget.Check(r.UserID, r.UserTier, r.Priority)
	if !adm.Allowed {
		if g.metrics != nil {
			for _, dim := range adm.Dimensions {
				g.metrics.BudgetRejects.WithLabelValues(dim).Inc()
			}
		}
		return nil, &gateway.Error{
			Kind:       gateway.KindBudgetExceeded,
			Message:    "usage limit reached",
			Dimensions: adm.Dimensions,
		}
	}

	candidates := g.cfg.ActiveModels()
	rules := g.cfg.MatchingRules(r.TaskType, r.UserTier, r.Priority)
	var creds routing.CredentialCheck
	if g.secrets != nil {
		creds = func(m gateway.ModelConfig) bool { return g.resolvable(ctx, m) }
	}
	sel, err := routing.Select(routing.Context{
		TaskType: r.TaskType,
		Tier:     r.UserTier,
		Priority: r.Priority,
	}, candidates, rules, g.circuit, creds)
	g.recordReceipt(r, sel)
	if err != nil {
		return nil, err
	}

	resp, err := g.invoke(ctx, r, sel.Model, candidates)
	if err != nil {
		g.recordFailure(r, err)
		return nil, err
	}

	// Post-success accounting: cache first so single-flight followers and
	// replays see the entry, then budget, then the usage record.
	if g.cache != nil {
		g.cache.Set(ctx, r, resp, 0)
	}
	g.budget.Record(r.UserID, r.UserTier, resp.CostEstimate, resp.TokensUsed)
	g.recordSuccess(r, resp)
	return resp, nil
}

// recordCacheHit appends the zero-cost usage record for a cache-served
// response.
func (g *Gateway) recordCacheHit(r *gateway.Request, resp *gateway.Response) {
	if g.usage == nil {
		return
	}
	g.usage.Record(gateway.UsageRecord{
		RequestID: r.RequestID,
		UserID:    r.UserID,
		ModelID:   resp.ModelID,
		Provider:  resp.Provider,
		TaskType:  r.TaskType,
		SessionID: r.SessionID,
		Cost:      decimal.Zero,
		Cached:    true,
		Success:   true,
		CreatedAt: time.Now(),
	})
}

func (g *Gateway) recordSuccess(r *gateway.Request, resp *gateway.Response) {
	if g.metrics != nil {
		g.metrics.TokensProcessed.WithLabelValues(resp.ModelID).Add(float64(resp.TokensUsed))
		cost, _ := resp.CostEstimate.Float64()
		g.metrics.CostAccrued.WithLabelValues(resp.ModelID).Add(cost)
	}
	if g.usage == nil {
		return
	}
	g.usage.Record(gateway.UsageRecord{
		RequestID:    r.RequestID,
		UserID:       r.UserID,
		ModelID:      resp.ModelID,
		Provider:     resp.Provider,
		TaskType:     r.TaskType,
		SessionID:    r.SessionID,
		InputTokens:  len(r.Prompt) / 4,
		OutputTokens: max(0, resp.TokensUsed-len(r.Prompt)/4),
		Cost:         resp.CostEstimate,
		LatencyMs:    resp.LatencyMs,
		Success:      true,
		CreatedAt:    time.Now(),
	})
}

func (g *Gateway) recordFailure(r *gateway.Request, err error) {
	if g.usage == nil {
		return
	}
	g.usage.Record(gateway.UsageRecord{
		RequestID: r.RequestID,
		UserID:    r.UserID,
		TaskType:  r.TaskType,
		SessionID: r.SessionID,
		Cost:      decimal.Zero,
		Success:   false,
		ErrorKind: string(gateway.KindOf(err)),
		CreatedAt: time.Now(),
	})
}

func (g *Gateway) recordReceipt(r *gateway.Request, sel routing.Result) {
	if g.receipts == nil {
		return
	}
	g.receipts.Record(gateway.DecisionReceipt{
		RequestID:   r.RequestID,
		ModelID:     sel.Model.ModelID,
		Rejected:    sel.Rejected,
		Explanation: sel.Explanation,
		CreatedAt:   time.Now(),
	})
}

// assembleCached rebinds a cached response to the current request. The
// caller paid nothing, so tokens and cost are zeroed the same way the
// single-flight follower path zeroes them.
func (g *Gateway) assembleCached(hit *gateway.Response, r *gateway.Request, started time.Time) *gateway.Response {
	resp := *hit
	resp.Cached = true
	resp.TokensUsed = 0
	resp.CostEstimate = decimal.Zero
	resp.RequestID = r.RequestID
	resp.LatencyMs = time.Since(started).Milliseconds()
	return &resp
}

func (g *Gateway) observeOutcome(taskType, outcome string, started time.Time) {
	if g.metrics == nil {
		return
	}
	if taskType == "" {
		taskType = "default"
	}
	g.metrics.RequestsTotal.WithLabelValues(taskType, outcome).Inc()
	g.metrics.RequestDuration.WithLabelValues(taskType).Observe(time.Since(started).Seconds())
}
