package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides maps ASKVERSE_* env vars to config fields. The plain
// names used by earlier deployments (OPENAI_API_KEY, POSTGRES_URL, ...) are
// honoured when the ASKVERSE_* form is absent.
func ApplyEnvOverrides(cfg *Config) {
	if v := firstEnv("ASKVERSE_API_HOST", "API_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := firstEnv("ASKVERSE_API_PORT", "API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := firstEnv("ASKVERSE_DEBUG", "DEBUG"); v != "" {
		cfg.Server.Debug = parseBool(v)
	}
	if v := os.Getenv("ASKVERSE_REQUIRE_AUTH"); v != "" {
		cfg.Server.RequireAuth = parseBool(v)
	}
	if v := os.Getenv("ASKVERSE_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitAndTrim(v, ",")
	}

	if v := os.Getenv("ASKVERSE_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := firstEnv("ASKVERSE_OPENAI_API_KEY", "OPENAI_API_KEY"); v != "" {
		for i := range cfg.LLM.Providers {
			if cfg.LLM.Providers[i].Type == "openai" && cfg.LLM.Providers[i].APIKey == "" {
				cfg.LLM.Providers[i].APIKey = v
			}
		}
		if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
	}
	if v := firstEnv("ASKVERSE_OPENAI_MODEL", "OPENAI_MODEL"); v != "" {
		if p := defaultProvider(cfg); p != nil {
			p.Model = v
		}
	}

	if v := firstEnv("ASKVERSE_DATABASE_URL", "POSTGRES_URL"); v != "" {
		cfg.Database.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			cfg.Database.Driver = "postgres"
		}
	}
	if v := os.Getenv("ASKVERSE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ASKVERSE_VECTOR_PATH"); v != "" {
		cfg.Vector.Path = v
	}

	if v := firstEnv("ASKVERSE_CONFLUENCE_URL", "CONFLUENCE_URL"); v != "" {
		cfg.Confluence.URL = v
	}
	if v := firstEnv("ASKVERSE_CONFLUENCE_SPACE", "CONFLUENCE_SPACE"); v != "" {
		cfg.Confluence.Space = v
	}
	if v := firstEnv("ASKVERSE_CONFLUENCE_USERNAME", "CONFLUENCE_USERNAME"); v != "" {
		cfg.Confluence.Username = v
	}
	if v := firstEnv("ASKVERSE_CONFLUENCE_API_TOKEN", "CONFLUENCE_API_TOKEN"); v != "" {
		cfg.Confluence.APIToken = v
	}

	if v := os.Getenv("ASKVERSE_API_SPECS_DIR"); v != "" {
		cfg.OpenAPI.SpecsDir = v
	}
	if v := firstEnv("ASKVERSE_WEATHER_API_KEY", "WEATHER_API_KEY"); v != "" {
		setAuthRule(cfg, "weather", v)
	}
	if v := firstEnv("ASKVERSE_MAPS_API_KEY", "MAPS_API_KEY"); v != "" {
		setAuthRule(cfg, "maps", v)
	}

	if v := os.Getenv("ASKVERSE_SYNC_SCHEDULE"); v != "" {
		cfg.Sync.Schedule = v
	}
	if v := os.Getenv("ASKVERSE_SYNC_ENABLED"); v != "" {
		cfg.Sync.Enabled = parseBool(v)
	}
	if v := os.Getenv("ASKVERSE_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.AgentTimeout = d
		}
	}

	if v := os.Getenv("ASKVERSE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("ASKVERSE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("ASKVERSE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("ASKVERSE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func defaultProvider(cfg *Config) *ProviderConfig {
	for i := range cfg.LLM.Providers {
		if cfg.LLM.Providers[i].Name == cfg.LLM.DefaultProvider {
			return &cfg.LLM.Providers[i]
		}
	}
	return nil
}

// setAuthRule replaces the token of the rule matching match, or appends one.
func setAuthRule(cfg *Config, match, token string) {
	for i := range cfg.OpenAPI.AuthRules {
		if cfg.OpenAPI.AuthRules[i].Match == match {
			cfg.OpenAPI.AuthRules[i].Token = token
			return
		}
	}
	cfg.OpenAPI.AuthRules = append(cfg.OpenAPI.AuthRules, AuthRule{Match: match, Token: token})
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
