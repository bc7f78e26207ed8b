package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"askverse/internal/domain"
	"askverse/internal/infra/config"
)

// Warmer is a provider that can preload its model before the first request.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
	warmers   map[string]Warmer
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
		warmers:   make(map[string]Warmer),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProvider creates a provider from its config entry.
func NewProvider(pc config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	typ := pc.Type
	if typ == "" {
		typ = pc.Name
	}
	switch typ {
	case "openai":
		return NewOpenAIProvider(pc, logger), nil
	case "ollama":
		return NewOllamaProvider(pc, logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider type %q", domain.ErrProviderNotFound, typ)
	}
}

// Build registers every configured provider (wrapped in a circuit breaker
// when enabled) and returns the registry plus the default provider, wrapped
// for failover when fallbacks are configured.
func Build(cfg config.LLMConfig, logger *slog.Logger) (*Registry, domain.LLMProvider, error) {
	registry := NewRegistry()

	for _, pc := range cfg.Providers {
		provider, err := NewProvider(pc, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
		w, canWarm := provider.(Warmer)
		if cfg.CircuitBreaker.Enabled {
			provider = NewCircuitBreakerProvider(provider, cfg.CircuitBreaker, logger)
		}
		if err := registry.Register(provider); err != nil {
			return nil, nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
		if canWarm {
			registry.warmers[provider.Name()] = w
		}
	}

	def, err := registry.Get(cfg.DefaultProvider)
	if err != nil {
		return nil, nil, fmt.Errorf("default llm provider: %w", err)
	}

	if cfg.Failover.Enabled && len(cfg.Failover.Fallbacks) > 0 {
		fallbacks := make([]domain.LLMProvider, 0, len(cfg.Failover.Fallbacks))
		for _, name := range cfg.Failover.Fallbacks {
			fb, err := registry.Get(name)
			if err != nil {
				return nil, nil, fmt.Errorf("failover provider %s: %w", name, err)
			}
			fallbacks = append(fallbacks, fb)
		}
		def = NewFailoverProvider(def, fallbacks, logger)
		logger.Info("model failover enabled", "fallbacks", cfg.Failover.Fallbacks)
	}

	return registry, def, nil
}

// Warmup preloads every provider that supports it. Failures are logged; a
// cold model only slows the first request.
func (r *Registry) Warmup(ctx context.Context, logger *slog.Logger) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, w := range r.warmers {
		if err := w.Warmup(ctx); err != nil {
			logger.Warn("llm warmup failed", "provider", name, "error", err)
		}
	}
}
