package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/imroc/req/v3"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"askverse/internal/domain"
	"askverse/internal/infra/config"
	"askverse/internal/infra/netguard"
)

const defaultCallTimeout = 30 * time.Second

// Invoker calls endpoints over HTTP. Each host gets its own rate limiter and
// circuit breaker.
type Invoker struct {
	client    *req.Client
	rules     []config.AuthRule
	rps       float64
	logger    *slog.Logger
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	breakers  map[string]*gobreaker.CircuitBreaker[*domain.APIResponse]
	breakerCB gobreaker.Settings
}

var _ domain.EndpointInvoker = (*Invoker)(nil)

// NewInvoker creates an Invoker from config.
func NewInvoker(cfg config.OpenAPIConfig, logger *slog.Logger) *Invoker {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	client := req.C().
		SetTimeout(timeout).
		SetUserAgent("askverse").
		SetCommonHeader("Accept", "application/json")
	if cfg.BlockPrivateNetworks {
		client.SetDial(netguard.NewDialer().DialContext)
	}
	return &Invoker{
		client:   client,
		rules:    cfg.AuthRules,
		rps:      cfg.RequestsPerSecond,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*domain.APIResponse]),
		breakerCB: gobreaker.Settings{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
		},
	}
}

// clientError marks 4xx responses, which do not count against a host's breaker.
type clientError struct {
	status int
	body   string
}

func (e *clientError) Error() string { return fmt.Sprintf("status %d: %s", e.status, e.body) }

// Invoke calls ep with params. Path parameters are substituted into the URL,
// header parameters become headers, and the rest go to the query string for
// GET and DELETE or to a JSON body otherwise.
func (i *Invoker) Invoke(ctx context.Context, ep domain.Endpoint, params map[string]any) (*domain.APIResponse, error) {
	target, query, headers, body, err := buildRequest(ep, params)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid url %q", domain.ErrEndpointCall, target)
	}

	if err := i.limiter(u.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: rate limiter: %v", domain.ErrEndpointCall, u.Host, err)
	}

	resp, err := i.breaker(u.Host).Execute(func() (*domain.APIResponse, error) {
		return i.send(ctx, ep.Method, target, query, headers, body)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrEndpointCall, u.Host, domain.ErrCircuitOpen)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, domain.NewSubSystemError("openapi", "openapi.Invoke", domain.ErrTimeout, ep.Method+" "+target)
		}
		return nil, err
	}
	return resp, nil
}

func (i *Invoker) send(ctx context.Context, method, target string, query url.Values, headers map[string]string, body any) (*domain.APIResponse, error) {
	r := i.client.R().SetContext(ctx).SetQueryParamsFromValues(query).SetHeaders(headers)
	if token := i.tokenFor(target); token != "" {
		r.SetBearerAuthToken(token)
	}
	if body != nil {
		r.SetBodyJsonMarshal(body)
	}

	start := time.Now()
	resp, err := r.Send(method, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrEndpointCall, method, target, err)
	}

	raw := resp.Bytes()
	i.logger.Debug("api call",
		"endpoint", method+" "+target,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := string(raw)
		if len(detail) > 256 {
			detail = detail[:256] + "..."
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: %w: %s %s", domain.ErrEndpointCall, domain.ErrRateLimit, method, target)
		case resp.StatusCode < 500:
			return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrEndpointCall, method, target, &clientError{status: resp.StatusCode, body: detail})
		default:
			return nil, fmt.Errorf("%w: %s %s: status %d: %s", domain.ErrEndpointCall, method, target, resp.StatusCode, detail)
		}
	}

	out := &domain.APIResponse{Status: resp.StatusCode}
	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
		out.Body = decoded
	} else {
		out.Body = string(raw)
	}
	return out, nil
}

// tokenFor returns the bearer token of the first auth rule whose match
// string occurs in the URL.
func (i *Invoker) tokenFor(target string) string {
	lower := strings.ToLower(target)
	for _, r := range i.rules {
		if r.Token != "" && r.Match != "" && strings.Contains(lower, strings.ToLower(r.Match)) {
			return r.Token
		}
	}
	return ""
}

func (i *Invoker) limiter(host string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()
	l, ok := i.limiters[host]
	if !ok {
		limit := rate.Inf
		if i.rps > 0 {
			limit = rate.Limit(i.rps)
		}
		l = rate.NewLimiter(limit, max(1, int(i.rps)))
		i.limiters[host] = l
	}
	return l
}

func (i *Invoker) breaker(host string) *gobreaker.CircuitBreaker[*domain.APIResponse] {
	i.mu.Lock()
	defer i.mu.Unlock()
	cb, ok := i.breakers[host]
	if !ok {
		settings := i.breakerCB
		settings.Name = "api:" + host
		settings.IsSuccessful = func(err error) bool {
			var ce *clientError
			return err == nil || errors.As(err, &ce) || errors.Is(err, context.Canceled)
		}
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			i.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		}
		cb = gobreaker.NewCircuitBreaker[*domain.APIResponse](settings)
		i.breakers[host] = cb
	}
	return cb
}

// buildRequest places params according to the endpoint's declarations.
// Undeclared params follow the method default.
func buildRequest(ep domain.Endpoint, params map[string]any) (string, url.Values, map[string]string, any, error) {
	target := ep.URL
	query := url.Values{}
	headers := map[string]string{}
	bodyFields := map[string]any{}
	var explicitBody any

	declared := make(map[string]string, len(ep.Parameters))
	for _, p := range ep.Parameters {
		declared[p.Name] = p.In
	}

	sendsQuery := ep.Method == http.MethodGet || ep.Method == http.MethodDelete || ep.Method == ""
	for name, v := range params {
		switch declared[name] {
		case "path":
			placeholder := "{" + name + "}"
			if !strings.Contains(target, placeholder) {
				return "", nil, nil, nil, fmt.Errorf("%w: path parameter %q not in %s", domain.ErrParamsInvalid, name, ep.Path)
			}
			target = strings.ReplaceAll(target, placeholder, url.PathEscape(fmt.Sprint(v)))
		case "header":
			headers[name] = fmt.Sprint(v)
		case "query":
			addQuery(query, name, v)
		default:
			if name == "body" && !sendsQuery {
				explicitBody = v
				continue
			}
			if sendsQuery {
				addQuery(query, name, v)
			} else {
				bodyFields[name] = v
			}
		}
	}

	if strings.Contains(target, "{") {
		return "", nil, nil, nil, fmt.Errorf("%w: unresolved path parameters in %s", domain.ErrParamsInvalid, target)
	}

	var body any
	switch {
	case explicitBody != nil:
		body = explicitBody
	case len(bodyFields) > 0:
		body = bodyFields
	}
	return target, query, headers, body, nil
}

func addQuery(q url.Values, name string, v any) {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			q.Add(name, fmt.Sprint(item))
		}
		return
	}
	q.Set(name, fmt.Sprint(v))
}
