package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the typed view of the gateway configuration. It is resolved once
// at startup from YAML plus environment overrides; only the typed view is
// passed downstream. Unknown keys inside adapter config maps warn, never
// crash.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Redis          RedisConfig          `yaml:"redis"`
	Quota          QuotaConfig          `yaml:"quota"`
	Throttle       ThrottleConfig       `yaml:"throttle"`
	Execution      ExecutionConfig      `yaml:"execution"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Inference      ProviderConfig       `yaml:"inference"`
	Embedding      ProviderConfig       `yaml:"embedding"`
	Datasources    []DatasourceConfig   `yaml:"datasources"`
	VectorStore    VectorStoreConfig    `yaml:"vector_store"`
	Adapters       []AdapterDescriptor  `yaml:"adapters"`
	Chat           ChatConfig           `yaml:"chat"`
	APIKeys        []APIKeyConfig       `yaml:"api_keys"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	URL       string `yaml:"url"`
	Enabled   bool   `yaml:"enabled"`
	KeyPrefix string `yaml:"key_prefix"`
}

// QuotaConfig holds process-wide quota defaults. Per-key configs come from
// the persisted store and override these.
type QuotaConfig struct {
	DefaultDailyLimit   int64         `yaml:"default_daily_limit"`
	DefaultMonthlyLimit int64         `yaml:"default_monthly_limit"`
	ConfigCacheTTL      time.Duration `yaml:"config_cache_ttl"`
}

// ThrottleConfig shapes pre-adapter request delay.
type ThrottleConfig struct {
	Enabled          bool     `yaml:"enabled"`
	ThresholdPercent float64  `yaml:"threshold_percent" validate:"gte=0,lte=1"`
	MinDelayMs       int      `yaml:"min_delay_ms" validate:"gte=0"`
	MaxDelayMs       int      `yaml:"max_delay_ms" validate:"gte=0"`
	Curve            string   `yaml:"curve" validate:"oneof=linear exponential"`
	ExcludedPaths    []string `yaml:"excluded_paths"`
	// PriorityMultipliers maps priority anchor points to delay multipliers.
	// Intermediate priorities interpolate linearly.
	PriorityMultipliers map[int]float64 `yaml:"priority_multipliers"`
}

// ExecutionConfig bounds the parallel adapter fan-out.
type ExecutionConfig struct {
	Strategy              string        `yaml:"strategy" validate:"oneof=all first_success best_effort"`
	Timeout               time.Duration `yaml:"timeout"`
	MaxConcurrentAdapters int           `yaml:"max_concurrent_adapters" validate:"gte=1"`
}

// CircuitBreakerConfig holds the default per-adapter breaker parameters.
// Adapter descriptors may override individual fields via fault_tolerance.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" validate:"gte=1"`
	SuccessThreshold int           `yaml:"success_threshold" validate:"gte=1"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	Isolation        string        `yaml:"isolation" validate:"oneof=none pool process"`
	MaxWorkers       int           `yaml:"max_workers"`
}

// ProviderConfig selects and configures an LLM or embedding provider.
type ProviderConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Dimensions  int     `yaml:"dimensions"`
}

// DatasourceConfig describes one named backend connection.
type DatasourceConfig struct {
	Name     string                 `yaml:"name" validate:"required"`
	Type     string                 `yaml:"type" validate:"oneof=postgres mysql sqlite duckdb mongodb http graphql"`
	Driver   string                 `yaml:"driver"`
	DSN      string                 `yaml:"dsn"`
	Database string                 `yaml:"database"`
	BaseURL  string                 `yaml:"base_url"`
	MaxConns int                    `yaml:"max_conns"`
	Timeout  time.Duration          `yaml:"timeout"`
	Options  map[string]interface{} `yaml:"options"`
}

// VectorStoreConfig selects the vector store backend.
type VectorStoreConfig struct {
	Provider string `yaml:"provider" validate:"oneof=memory chroma"`
	BaseURL  string `yaml:"base_url"`
	Tenant   string `yaml:"tenant"`
	Database string `yaml:"database"`
}

// AdapterDescriptor is the configuration record for one adapter. Loaded at
// startup and on hot-reload; mutated only by the reload path.
type AdapterDescriptor struct {
	Name              string                 `yaml:"name" validate:"required"`
	Type              string                 `yaml:"type" validate:"oneof=retriever"`
	Datasource        string                 `yaml:"datasource"`
	Implementation    string                 `yaml:"implementation" validate:"required"`
	Enabled           bool                   `yaml:"enabled"`
	Config            map[string]interface{} `yaml:"config"`
	InferenceProvider string                 `yaml:"inference_provider"`
	EmbeddingProvider string                 `yaml:"embedding_provider"`
	FaultTolerance    *CircuitBreakerConfig  `yaml:"fault_tolerance"`
}

// APIKeyConfig declares one client credential in the static key table.
// Adapters restricts the key to a subset of the enabled adapters; empty
// means the process defaults.
type APIKeyConfig struct {
	Key          string   `yaml:"key" validate:"required"`
	Enabled      bool     `yaml:"enabled"`
	Adapters     []string `yaml:"adapters"`
	SystemPrompt string   `yaml:"system_prompt"`
}

// ChatConfig tunes the orchestrator.
type ChatConfig struct {
	FallbackMessage    string        `yaml:"fallback_message"`
	NoResultsMessage   string        `yaml:"no_results_message"`
	RelevanceThreshold float64       `yaml:"relevance_threshold"`
	MaxContextItems    int           `yaml:"max_context_items"`
	HistoryTTL         time.Duration `yaml:"history_ttl"`
}

// knownAdapterConfigKeys are the adapter config map keys the factory
// understands. Anything else is warned about and ignored.
var knownAdapterConfigKeys = map[string]bool{
	"collection":           true,
	"confidence_threshold": true,
	"relevance_threshold":  true,
	"max_results":          true,
	"max_templates":        true,
	"template_library":     true,
	"domain_vocabulary":    true,
	"table":                true,
	"content_field":        true,
	"id_field":             true,
	"max_limit":            true,
	"max_retries":          true,
	"allow_partial":        true,
	"owner":                true,
	"endpoint":             true,
	"cache_ttl":            true,
	"result_limit":         true,
}

// LoadConfig reads, overlays, defaults, and validates the configuration.
// Any error here is fatal at startup and never reached at request time.
func LoadConfig(path string, logger Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, ErrMissingConfiguration)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %v: %w", path, err, ErrInvalidConfiguration)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger != nil {
		cfg.warnUnknownAdapterKeys(logger)
		logger.Info("Configuration loaded", map[string]interface{}{
			"operation":       "config_load",
			"path":            path,
			"adapter_count":   len(cfg.Adapters),
			"datasources":     len(cfg.Datasources),
			"redis_enabled":   cfg.Redis.Enabled,
			"strategy":        cfg.Execution.Strategy,
			"throttle_on":     cfg.Throttle.Enabled,
			"vector_provider": cfg.VectorStore.Provider,
		})
	}

	return cfg, nil
}

// applyEnvOverrides layers environment variables over file values.
// Explicit configuration wins over environment, environment over defaults.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ORBIT_REDIS_URL"); v != "" && c.Redis.URL == "" {
		c.Redis.URL = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("ORBIT_SERVER_ADDRESS"); v != "" && c.Server.Address == "" {
		c.Server.Address = v
	}
	if c.Inference.APIKey == "" {
		c.Inference.APIKey = firstNonEmpty(os.Getenv("ORBIT_INFERENCE_API_KEY"), os.Getenv("OPENAI_API_KEY"))
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = firstNonEmpty(os.Getenv("ORBIT_EMBEDDING_API_KEY"), os.Getenv("OPENAI_API_KEY"))
	}
	if v := os.Getenv("ORBIT_MAX_CONCURRENT_ADAPTERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Execution.MaxConcurrentAdapters = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":3000"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "orbit:quota:"
	}
	if c.Quota.ConfigCacheTTL == 0 {
		c.Quota.ConfigCacheTTL = 5 * time.Minute
	}
	if c.Throttle.ThresholdPercent == 0 {
		c.Throttle.ThresholdPercent = 0.70
	}
	if c.Throttle.MinDelayMs == 0 {
		c.Throttle.MinDelayMs = 100
	}
	if c.Throttle.MaxDelayMs == 0 {
		c.Throttle.MaxDelayMs = 5000
	}
	if c.Throttle.Curve == "" {
		c.Throttle.Curve = "linear"
	}
	if len(c.Throttle.PriorityMultipliers) == 0 {
		c.Throttle.PriorityMultipliers = map[int]float64{1: 0.5, 5: 1.0, 10: 2.0}
	}
	if len(c.Throttle.ExcludedPaths) == 0 {
		c.Throttle.ExcludedPaths = []string{"/health", "/metrics"}
	}
	if c.Execution.Strategy == "" {
		c.Execution.Strategy = "all"
	}
	if c.Execution.Timeout == 0 {
		c.Execution.Timeout = 30 * time.Second
	}
	if c.Execution.MaxConcurrentAdapters == 0 {
		c.Execution.MaxConcurrentAdapters = 5
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = 2
	}
	if c.CircuitBreaker.RecoveryTimeout == 0 {
		c.CircuitBreaker.RecoveryTimeout = 30 * time.Second
	}
	if c.CircuitBreaker.OperationTimeout == 0 {
		c.CircuitBreaker.OperationTimeout = 25 * time.Second
	}
	if c.CircuitBreaker.Isolation == "" {
		c.CircuitBreaker.Isolation = "pool"
	}
	if c.CircuitBreaker.MaxWorkers == 0 {
		c.CircuitBreaker.MaxWorkers = 4
	}
	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = "memory"
	}
	for i := range c.Adapters {
		if c.Adapters[i].Type == "" {
			c.Adapters[i].Type = "retriever"
		}
	}
	if c.Chat.RelevanceThreshold == 0 {
		c.Chat.RelevanceThreshold = 0.3
	}
	if c.Chat.MaxContextItems == 0 {
		c.Chat.MaxContextItems = 10
	}
	if c.Chat.NoResultsMessage == "" {
		c.Chat.NoResultsMessage = "I could not find relevant information for your question."
	}
	if c.Chat.HistoryTTL == 0 {
		c.Chat.HistoryTTL = 24 * time.Hour
	}
}

// Validate checks structural invariants that must hold before serving.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %v: %w", err, ErrInvalidConfiguration)
	}

	if c.Throttle.MinDelayMs > c.Throttle.MaxDelayMs {
		return fmt.Errorf("throttle min_delay_ms %d exceeds max_delay_ms %d: %w",
			c.Throttle.MinDelayMs, c.Throttle.MaxDelayMs, ErrInvalidConfiguration)
	}

	// Inner deadlines must be strictly less than the outer fan-out deadline.
	if c.CircuitBreaker.OperationTimeout >= c.Execution.Timeout {
		return fmt.Errorf("operation_timeout %v must be less than execution timeout %v: %w",
			c.CircuitBreaker.OperationTimeout, c.Execution.Timeout, ErrInvalidConfiguration)
	}

	names := make(map[string]bool, len(c.Adapters))
	for _, a := range c.Adapters {
		if names[a.Name] {
			return fmt.Errorf("duplicate adapter name %q: %w", a.Name, ErrInvalidConfiguration)
		}
		names[a.Name] = true
	}

	dsNames := make(map[string]bool, len(c.Datasources))
	for _, ds := range c.Datasources {
		if dsNames[ds.Name] {
			return fmt.Errorf("duplicate datasource name %q: %w", ds.Name, ErrInvalidConfiguration)
		}
		dsNames[ds.Name] = true
	}
	for _, a := range c.Adapters {
		if a.Datasource != "" && !dsNames[a.Datasource] {
			return fmt.Errorf("adapter %q references unknown datasource %q: %w",
				a.Name, a.Datasource, ErrInvalidConfiguration)
		}
	}

	return nil
}

func (c *Config) warnUnknownAdapterKeys(logger Logger) {
	for _, a := range c.Adapters {
		for key := range a.Config {
			if !knownAdapterConfigKeys[key] {
				logger.Warn("Unknown adapter config key", map[string]interface{}{
					"operation": "config_load",
					"adapter":   a.Name,
					"key":       key,
					"hint":      "key is ignored; check for typos",
				})
			}
		}
	}
}

// Resolved returns the breaker config for a descriptor, overlaying any
// fault_tolerance overrides on the process defaults.
func (c *Config) ResolvedBreakerConfig(d AdapterDescriptor) CircuitBreakerConfig {
	out := c.CircuitBreaker
	ft := d.FaultTolerance
	if ft == nil {
		return out
	}
	if ft.FailureThreshold > 0 {
		out.FailureThreshold = ft.FailureThreshold
	}
	if ft.SuccessThreshold > 0 {
		out.SuccessThreshold = ft.SuccessThreshold
	}
	if ft.RecoveryTimeout > 0 {
		out.RecoveryTimeout = ft.RecoveryTimeout
	}
	if ft.OperationTimeout > 0 {
		out.OperationTimeout = ft.OperationTimeout
	}
	if ft.Isolation != "" {
		out.Isolation = ft.Isolation
	}
	if ft.MaxWorkers > 0 {
		out.MaxWorkers = ft.MaxWorkers
	}
	return out
}

// StaticResolver builds a KeyResolver over the configured key table, or nil
// when no keys are configured. With a nil resolver the gateway accepts
// keyless requests against the process default adapters.
func (c *Config) StaticResolver() KeyResolver {
	if len(c.APIKeys) == 0 {
		return nil
	}
	records := make(map[string]*APIKeyRecord, len(c.APIKeys))
	for _, k := range c.APIKeys {
		records[k.Key] = &APIKeyRecord{
			Key:          k.Key,
			Active:       k.Enabled,
			AdapterNames: k.Adapters,
			SystemPrompt: k.SystemPrompt,
		}
	}
	return &StaticKeyResolver{Records: records}
}

// firstNonEmpty returns the first non-empty string from the provided values.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
