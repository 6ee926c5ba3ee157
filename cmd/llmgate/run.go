package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"
	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/app"
	"github.com/fitstack/llmgate/internal/budget"
	"github.com/fitstack/llmgate/internal/cache"
	"github.com/fitstack/llmgate/internal/circuitbreaker"
	"github.com/fitstack/llmgate/internal/config"
	"github.com/fitstack/llmgate/internal/provider"
	"github.com/fitstack/llmgate/internal/provider/fallback"
	"github.com/fitstack/llmgate/internal/provider/gemini"
	"github.com/fitstack/llmgate/internal/provider/openai"
	"github.com/fitstack/llmgate/internal/provider/perplexity"
	"github.com/fitstack/llmgate/internal/ratelimit"
	"github.com/fitstack/llmgate/internal/secret"
	"github.com/fitstack/llmgate/internal/server"
	"github.com/fitstack/llmgate/internal/storage/sqlite"
	"github.com/fitstack/llmgate/internal/telemetry"
	"github.com/fitstack/llmgate/internal/worker"
)

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting llmgate", "version", version, "addr", cfg.Server.Addr)

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Bootstrap from config
	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	// Metrics
	var (
		metrics  *telemetry.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(reg)
		gatherer = reg
	}

	// Secret resolution: env always, file and vault when configured. The
	// caching layer keeps backends off the request hot path.
	backends := map[secret.Backend]secret.Resolver{
		secret.BackendEnv: secret.Env{},
	}
	if cfg.Secrets.File != "" {
		backends[secret.BackendFile] = secret.File{Path: cfg.Secrets.File}
	}
	if cfg.Secrets.Vault.Address != "" {
		vault, err := secret.NewVault(secret.VaultConfig{
			Address: cfg.Secrets.Vault.Address,
			Token:   cfg.Secrets.Vault.Token,
			Mount:   cfg.Secrets.Vault.Mount,
		})
		if err != nil {
			return err
		}
		backends[secret.BackendVault] = vault
	}
	secrets := secret.NewCached(secret.NewMulti(backends))

	// Provider adapters share one pooled HTTP client with DNS caching.
	httpClient := provider.NewHTTPClient(&dnscache.Resolver{})
	adapters := provider.NewRegistry()
	adapters.Register("openai", openai.New("", httpClient, secrets))
	adapters.Register("gemini", gemini.New("", httpClient, secrets))
	adapters.Register("perplexity", perplexity.New("", httpClient, secrets))
	adapters.Register("fallback", fallback.New())

	// Budget manager: tier quotas and the global budget come from the store
	// so operator edits survive restarts.
	budgetMgr, err := buildBudget(ctx, cfg, store)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(buildRateLimits(cfg))
	circuit := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		Cooldown:         cfg.Circuit.Cooldown,
		CooldownMax:      cfg.Circuit.CooldownMax,
	})

	var respCache *cache.ResponseCache
	if cfg.Cache.Enabled {
		mem, err := cache.NewMemory(cfg.Cache.MaxEntries, cfg.Cache.DefaultTTL)
		if err != nil {
			return err
		}
		respCache = cache.NewResponseCache(mem, cfg.Cache.DefaultTTL)
	}

	// Background workers: usage/receipt batch writers, budget persistence,
	// and stale-state eviction.
	usageRec := worker.NewUsageRecorder(store)
	if metrics != nil {
		usageRec.SetDropCounter(metrics.UsageQueueDropped)
	}
	receiptRec := worker.NewReceiptRecorder(store)
	runner := worker.NewRunner(
		usageRec,
		receiptRec,
		worker.NewBudgetSyncWorker(budgetMgr, store),
		worker.NewJanitor(circuit, limiter),
	)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workerErr := make(chan error, 1)
	go func() { workerErr <- runner.Run(workerCtx) }()

	// Gateway facade
	cfgMgr := config.NewManager(store, cfg.PreferredProvider)
	gw := app.New(app.Options{
		Config:              cfgMgr,
		Adapters:            adapters,
		Cache:               respCache,
		Circuit:             circuit,
		Budget:              budgetMgr,
		Limiter:             limiter,
		Usage:               usageRec,
		Receipts:            receiptRec,
		Metrics:             metrics,
		Secrets:             secrets,
		RequestTimeout:      cfg.Pipeline.RequestTimeout,
		PerModelConcurrency: cfg.Pipeline.PerModelConcurrency,
	})
	if err := gw.Init(ctx); err != nil {
		return err
	}

	handler := server.New(server.Deps{
		Gateway: gw,
		Config:  cfgMgr,
		Store:   store,
		Metrics: gatherer,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("llmgate ready", "addr", cfg.Server.Addr, "providers", adapters.List())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	gw.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Stop workers last so in-flight usage records drain to the store.
	stopWorkers()
	select {
	case err := <-workerErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-time.After(cfg.Server.ShutdownTimeout):
		slog.Warn("workers did not stop in time")
	}

	slog.Info("llmgate stopped")
	return nil
}

// loadConfig reads the config file, or returns built-in defaults when no
// path is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildBudget assembles the budget manager from persisted tier quotas and
// the global monthly budget setting.
func buildBudget(ctx context.Context, cfg *config.Config, store *sqlite.Store) (*budget.Manager, error) {
	tiers := budget.DefaultTierLimits()
	stored, err := store.ListTierLimits(ctx)
	if err != nil {
		return nil, err
	}
	for _, tl := range stored {
		tiers[tl.Tier] = tl
	}

	global := budget.GlobalConfig{}
	if v, err := store.GetSetting(ctx, "monthly_budget"); err == nil {
		mb, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		global.MonthlyBudget = mb
	} else if !errors.Is(err, gateway.ErrNotFound) {
		return nil, err
	}

	return budget.NewManager(tiers, global, budget.ParseEnforcement(cfg.Budget.Enforcement)), nil
}

// buildRateLimits layers config overrides over the default per-class limits.
func buildRateLimits(cfg *config.Config) map[string]ratelimit.Limit {
	limits := ratelimit.DefaultLimits()
	for _, e := range cfg.RateLimits {
		if e.Requests <= 0 || e.Window <= 0 {
			continue
		}
		limits[e.Class] = ratelimit.Limit{Requests: e.Requests, Window: e.Window}
	}
	return limits
}
