package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for askverse.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Vector       VectorConfig       `yaml:"vector"`
	Database     DatabaseConfig     `yaml:"database"`
	Confluence   ConfluenceConfig   `yaml:"confluence"`
	OpenAPI      OpenAPIConfig      `yaml:"openapi"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Privacy      PrivacyConfig      `yaml:"privacy"`
	Sync         SyncConfig         `yaml:"sync"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
}

// ServerConfig holds HTTP boundary settings.
type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	Debug           bool            `yaml:"debug"`
	RequireAuth     bool            `yaml:"require_auth"`
	CORSOrigins     []string        `yaml:"cors_origins"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// FailoverConfig lists fallback provider names tried after the default.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Temperature     float64              `yaml:"temperature"`
	MaxTokens       int                  `yaml:"max_tokens"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// EmbeddingConfig holds text embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "openai" or "" (disabled)
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// VectorConfig holds the document vector index settings.
type VectorConfig struct {
	Path      string `yaml:"path"`
	TopK      int    `yaml:"top_k"`
	BatchSize int    `yaml:"batch_size"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// ConfluenceConfig holds the Confluence connector settings.
type ConfluenceConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	Space             string        `yaml:"space"`
	Username          string        `yaml:"username"`
	APIToken          string        `yaml:"api_token"`
	PageSize          int           `yaml:"page_size"`
	SearchLimit       int           `yaml:"search_limit"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// AuthRule attaches a bearer token to API calls whose URL contains Match.
type AuthRule struct {
	Match string `yaml:"match"`
	Token string `yaml:"token"`
}

// OpenAPIConfig holds the API directory and invoker settings.
type OpenAPIConfig struct {
	SpecsDir          string        `yaml:"specs_dir"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxEndpoints      int           `yaml:"max_endpoints"`
	AuthRules         []AuthRule    `yaml:"auth_rules"`
	// BlockPrivateNetworks refuses calls to hosts resolving to private,
	// loopback or link-local addresses.
	BlockPrivateNetworks bool `yaml:"block_private_networks"`
}

// OrchestratorConfig tunes dispatch.
type OrchestratorConfig struct {
	MaxParallel  int           `yaml:"max_parallel"`
	AgentTimeout time.Duration `yaml:"agent_timeout"`
	// MaxEvidenceTokens caps how much source material is rendered into one prompt.
	MaxEvidenceTokens int `yaml:"max_evidence_tokens"`
}

// PrivacyConfig controls PII masking.
type PrivacyConfig struct {
	LLMPass bool `yaml:"llm_pass"`
}

// SyncConfig controls the background document sync job.
type SyncConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Schedule      string        `yaml:"schedule"`
	RetentionDays int           `yaml:"retention_days"`
	RunOnStart    bool          `yaml:"run_on_start"`
	Timeout       time.Duration `yaml:"timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// defaultDataDir returns the persistent data directory under $HOME/.askverse/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".askverse", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			CORSOrigins:     []string{"*"},
			RateLimit:       RateLimitConfig{Enabled: true, RequestsPerSecond: 5, Burst: 10},
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    180 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers: []ProviderConfig{
				{
					Name:    "openai",
					Type:    "openai",
					BaseURL: "https://api.openai.com/v1",
					Model:   "gpt-4-turbo-preview",
				},
			},
			Temperature: 0,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			CacheSize:  1024,
		},
		Vector: VectorConfig{
			Path:      filepath.Join(dataDir, "vectors.db"),
			TopK:      5,
			BatchSize: 100,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(dataDir, "askverse.db"),
		},
		Confluence: ConfluenceConfig{
			Enabled:           true,
			URL:               "https://cwiki.apache.org",
			Space:             "CONF",
			PageSize:          25,
			SearchLimit:       10,
			Timeout:           30 * time.Second,
			CacheTTL:          5 * time.Minute,
			RequestsPerSecond: 5,
		},
		OpenAPI: OpenAPIConfig{
			SpecsDir:          "data/api_specs",
			CallTimeout:       30 * time.Second,
			RequestsPerSecond: 2,
			MaxEndpoints:      5,
		},
		Orchestrator: OrchestratorConfig{
			MaxParallel:       4,
			AgentTimeout:      60 * time.Second,
			MaxEvidenceTokens: 6000,
		},
		Privacy: PrivacyConfig{LLMPass: true},
		Sync: SyncConfig{
			Enabled:       true,
			Schedule:      "@every 24h",
			RetentionDays: 30,
			Timeout:       30 * time.Minute,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a .env file (if present), a YAML config file, applies env var
// overrides, and decrypts secrets. A missing config file yields defaults.
func Load(path string) (*Config, error) {
	loadDotEnv()

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("ASKVERSE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv loads .env then .env.$ASKVERSE_ENV. Variables already present
// in the environment are never overwritten.
func loadDotEnv() {
	files := []string{".env"}
	if env := os.Getenv("ASKVERSE_ENV"); env != "" {
		files = append([]string{".env." + env}, files...)
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
