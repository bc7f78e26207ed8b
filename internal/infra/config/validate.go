package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateLLM(cfg, ve)
	validateEmbedding(cfg, ve)
	validateStorage(cfg, ve)
	validateConfluence(cfg, ve)
	validateOpenAPI(cfg, ve)
	validateOrchestrator(cfg, ve)
	validateSync(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		ve.Add("server.port must be in 1..65535, got %d", cfg.Server.Port)
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		if rl.RequestsPerSecond <= 0 {
			ve.Add("server.rate_limit.requests_per_second must be > 0 when enabled")
		}
		if rl.Burst <= 0 {
			ve.Add("server.rate_limit.burst must be > 0 when enabled")
		}
	}
}

var validProviderTypes = map[string]bool{
	"openai": true,
	"ollama": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must define at least one provider")
		return
	}
	names := make(map[string]bool, len(cfg.LLM.Providers))
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if names[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		names[p.Name] = true

		typ := p.Type
		if typ == "" {
			typ = p.Name
		}
		if !validProviderTypes[typ] {
			ve.Add("llm.providers[%d].type %q is not supported (openai, ollama)", i, typ)
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d].model must not be empty", i)
		}
		if p.BaseURL != "" {
			if _, err := url.ParseRequestURI(p.BaseURL); err != nil {
				ve.Add("llm.providers[%d].base_url is invalid: %v", i, err)
			}
		}
	}
	if !names[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Failover.Enabled {
		for _, fb := range cfg.LLM.Failover.Fallbacks {
			if !names[fb] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
			}
		}
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		ve.Add("llm.temperature must be in [0,2]")
	}
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	switch cfg.Embedding.Provider {
	case "":
	case "openai":
		if cfg.Embedding.Dimensions <= 0 {
			ve.Add("embedding.dimensions must be > 0")
		}
	default:
		ve.Add("embedding.provider %q is not supported (openai or empty)", cfg.Embedding.Provider)
	}
	if cfg.Embedding.CacheSize < 0 {
		ve.Add("embedding.cache_size must be >= 0")
	}
}

func validateStorage(cfg *Config, ve *ValidationError) {
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		ve.Add("database.driver %q is not supported (sqlite, postgres)", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		ve.Add("database.dsn must not be empty")
	}
	if cfg.Vector.Path == "" {
		ve.Add("vector.path must not be empty")
	}
	if cfg.Vector.TopK <= 0 {
		ve.Add("vector.top_k must be > 0")
	}
	if cfg.Vector.BatchSize <= 0 {
		ve.Add("vector.batch_size must be > 0")
	}
}

func validateConfluence(cfg *Config, ve *ValidationError) {
	c := cfg.Confluence
	if !c.Enabled {
		return
	}
	if _, err := url.ParseRequestURI(c.URL); err != nil {
		ve.Add("confluence.url is invalid: %v", err)
	}
	if c.Space == "" {
		ve.Add("confluence.space must not be empty when confluence is enabled")
	}
	if c.PageSize <= 0 {
		ve.Add("confluence.page_size must be > 0")
	}
	if c.RequestsPerSecond < 0 {
		ve.Add("confluence.requests_per_second must be >= 0")
	}
}

func validateOpenAPI(cfg *Config, ve *ValidationError) {
	if cfg.OpenAPI.CallTimeout <= 0 {
		ve.Add("openapi.call_timeout must be > 0")
	}
	if cfg.OpenAPI.MaxEndpoints < 0 {
		ve.Add("openapi.max_endpoints must be >= 0")
	}
	for i, r := range cfg.OpenAPI.AuthRules {
		if r.Match == "" {
			ve.Add("openapi.auth_rules[%d].match must not be empty", i)
		}
	}
}

func validateOrchestrator(cfg *Config, ve *ValidationError) {
	if cfg.Orchestrator.MaxParallel <= 0 {
		ve.Add("orchestrator.max_parallel must be > 0")
	}
	if cfg.Orchestrator.AgentTimeout <= 0 {
		ve.Add("orchestrator.agent_timeout must be > 0")
	}
}

func validateSync(cfg *Config, ve *ValidationError) {
	if !cfg.Sync.Enabled {
		return
	}
	if err := validateSchedule(cfg.Sync.Schedule); err != nil {
		ve.Add("sync.schedule: %v", err)
	}
	if cfg.Sync.RetentionDays <= 0 {
		ve.Add("sync.retention_days must be > 0")
	}
}

// validateSchedule accepts a Go duration or a standard cron expression
// (including descriptors such as "@every 1h" and "@daily").
func validateSchedule(s string) error {
	if s == "" {
		return fmt.Errorf("must not be empty")
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return fmt.Errorf("duration must be > 0")
		}
		return nil
	}
	if _, err := cron.ParseStandard(s); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", s, err)
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "json", "text":
	default:
		ve.Add("logger.format %q is not one of json, text", cfg.Logger.Format)
	}
}
