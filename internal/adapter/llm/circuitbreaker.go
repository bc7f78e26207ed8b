package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"askverse/internal/domain"
	"askverse/internal/infra/config"
)

const (
	breakerMaxFailures uint32 = 5
	breakerOpenFor            = 30 * time.Second
	breakerWindow             = 60 * time.Second
)

// CircuitBreakerProvider fails fast with domain.ErrCircuitOpen once the
// wrapped provider has failed MaxFailures times in a row.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
}

// NewCircuitBreakerProvider wraps inner. Zero settings use the defaults.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	trip := orDefault(cfg.MaxFailures, breakerMaxFailures)
	st := gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1,
		Interval:    orDefault(cfg.Interval, breakerWindow),
		Timeout:     orDefault(cfg.Timeout, breakerOpenFor),
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= trip },
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
		// A reply we could not parse, or a caller that gave up, is not an
		// outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrLLMResponse) || errors.Is(err, context.Canceled)
		},
	}
	return &CircuitBreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*domain.ChatResponse](st),
	}
}

func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("provider %q: %w: %v", p.inner.Name(), domain.ErrCircuitOpen, err)
	default:
		return nil, err
	}
}

func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State reports the breaker state.
func (p *CircuitBreakerProvider) State() gobreaker.State { return p.breaker.State() }

var _ domain.LLMProvider = (*CircuitBreakerProvider)(nil)

func orDefault[T int | uint32 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
