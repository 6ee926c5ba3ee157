// Package config handles YAML configuration loading with environment
// variable expansion, plus the runtime model/rule snapshot manager.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"go.yaml.in/yaml/v3"

	gateway "github.com/fitstack/llmgate/internal"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Cache      CacheConfig      `yaml:"cache"`
	Circuit    CircuitConfig    `yaml:"circuit"`
	Budget     BudgetConfig     `yaml:"budget"`
	RateLimits []RateLimitEntry `yaml:"rate_limits"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Models     []ModelEntry     `yaml:"models"`
	Rules      []RuleEntry      `yaml:"rules"`
	Tiers      []TierEntry      `yaml:"tiers"`

	// PreferredProvider biases routing toward one provider's models.
	// Set from LLM_PROVIDER; empty means no bias.
	PreferredProvider string `yaml:"preferred_provider"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// SecretsConfig selects and configures the secret backends.
type SecretsConfig struct {
	File  string      `yaml:"file"` // path for the file backend; empty disables it
	Vault VaultConfig `yaml:"vault"`
}

// VaultConfig holds HashiCorp Vault connection settings.
type VaultConfig struct {
	Address string `yaml:"address"` // empty disables the vault backend
	Token   string `yaml:"token"`
	Mount   string `yaml:"mount"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxEntries int           `yaml:"max_entries"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// CircuitConfig holds circuit breaker settings.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	CooldownMax      time.Duration `yaml:"cooldown_max"`
}

// BudgetConfig holds budget enforcement settings.
type BudgetConfig struct {
	MonthlyBudget string `yaml:"monthly_budget"` // global, decimal string; "0" disables
	Enforcement   string `yaml:"enforcement"`    // "strict" or "soft"
}

// RateLimitEntry is one route class's sliding-window policy.
type RateLimitEntry struct {
	Class    string        `yaml:"class"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// PipelineConfig holds facade concurrency settings.
type PipelineConfig struct {
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	PerModelConcurrency int64         `yaml:"per_model_concurrency"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ModelEntry is a model definition in the config file.
type ModelEntry struct {
	ModelID      string  `yaml:"model_id"`
	Provider     string  `yaml:"provider"`
	ModelName    string  `yaml:"model_name"`
	APIKeyRef    string  `yaml:"api_key_ref"`
	Priority     string  `yaml:"priority"`
	CostPerToken string  `yaml:"cost_per_token"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	Active       *bool   `yaml:"active"`
}

// IsActive reports whether the model is active (defaults to true when nil).
func (m ModelEntry) IsActive() bool {
	return m.Active == nil || *m.Active
}

// ModelConfig converts the entry to the domain type.
func (m ModelEntry) ModelConfig() (gateway.ModelConfig, error) {
	cost := decimal.Zero
	if m.CostPerToken != "" {
		var err error
		cost, err = decimal.NewFromString(m.CostPerToken)
		if err != nil {
			return gateway.ModelConfig{}, fmt.Errorf("model %s: cost_per_token: %w", m.ModelID, err)
		}
	}
	name := m.ModelName
	if name == "" {
		name = m.ModelID
	}
	return gateway.ModelConfig{
		ModelID:     m.ModelID,
		Provider:    m.Provider,
		ModelName:   name,
		APIKeyRef:   m.APIKeyRef,
		Priority:    gateway.ParsePriority(m.Priority),
		CostPerTok:  cost,
		MaxTokens:   m.MaxTokens,
		Temperature: m.Temperature,
		Active:      m.IsActive(),
	}, nil
}

// RuleEntry is a routing rule definition in the config file.
type RuleEntry struct {
	Name     string   `yaml:"name"`
	TaskType string   `yaml:"task_type"`
	UserTier string   `yaml:"user_tier"`
	Priority string   `yaml:"priority"`
	Models   []string `yaml:"models"`
	Pin      bool     `yaml:"pin"`
}

// TierEntry is a tier quota definition in the config file.
type TierEntry struct {
	Tier          string `yaml:"tier"`
	DailyLimit    int64  `yaml:"daily_limit"`
	WeeklyLimit   int64  `yaml:"weekly_limit"`
	MonthlyLimit  int64  `yaml:"monthly_limit"`
	MonthlyBudget string `yaml:"monthly_budget"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables
// and applying environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "llmgate.db",
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 10_000,
			DefaultTTL: 5 * time.Minute,
		},
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
			CooldownMax:      5 * time.Minute,
		},
		Budget: BudgetConfig{
			MonthlyBudget: "0",
			Enforcement:   "strict",
		},
		Pipeline: PipelineConfig{
			RequestTimeout:      30 * time.Second,
			PerModelConcurrency: 64,
		},
	}
}

// applyEnv layers environment knobs over the file values. Unset variables
// leave the file values untouched.
func (c *Config) applyEnv() {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.PreferredProvider = v
	}
	if v := os.Getenv("AI_MONTHLY_BUDGET"); v != "" {
		c.Budget.MonthlyBudget = v
	}
	if v := os.Getenv("BUDGET_ENFORCEMENT"); v != "" {
		c.Budget.Enforcement = v
	}
	if n, ok := envInt("CACHE_TTL_SECONDS"); ok {
		c.Cache.DefaultTTL = time.Duration(n) * time.Second
	}
	if n, ok := envInt("CACHE_MAX_ENTRIES"); ok {
		c.Cache.MaxEntries = n
	}
	if n, ok := envInt("CIRCUIT_FAILURE_THRESHOLD"); ok {
		c.Circuit.FailureThreshold = n
	}
	if n, ok := envInt("CIRCUIT_COOLDOWN_SECONDS"); ok {
		c.Circuit.Cooldown = time.Duration(n) * time.Second
	}
	if n, ok := envInt("CIRCUIT_COOLDOWN_MAX_SECONDS"); ok {
		c.Circuit.CooldownMax = time.Duration(n) * time.Second
	}
	if n, ok := envInt("REQUEST_TIMEOUT_SECONDS"); ok {
		c.Pipeline.RequestTimeout = time.Duration(n) * time.Second
	}
	if n, ok := envInt("PER_MODEL_CONCURRENCY"); ok {
		c.Pipeline.PerModelConcurrency = int64(n)
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
