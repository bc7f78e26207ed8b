package openapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askverse/internal/domain"
	"askverse/internal/infra/config"
)

func newInvoker(rules ...config.AuthRule) *Invoker {
	return NewInvoker(config.OpenAPIConfig{CallTimeout: 2 * time.Second, AuthRules: rules}, slog.Default())
}

func TestInvokeGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/forecast/New%20York", r.URL.EscapedPath())
		assert.Equal(t, "3", r.URL.Query().Get("days"))
		assert.Equal(t, "x1", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp": 21.5}`))
	}))
	defer srv.Close()

	ep := domain.Endpoint{
		Method: "GET",
		Path:   "/forecast/{city}",
		URL:    srv.URL + "/forecast/{city}",
		Parameters: []domain.Parameter{
			{Name: "city", In: "path"},
			{Name: "X-Trace", In: "header"},
		},
	}
	resp, err := newInvoker().Invoke(context.Background(), ep, map[string]any{"city": "New York", "days": 3, "X-Trace": "x1"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, map[string]any{"temp": 21.5}, resp.Body)
}

func TestInvokePOSTSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Empty(t, r.URL.RawQuery)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "a@b.c", body["email"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("subscribed"))
	}))
	defer srv.Close()

	ep := domain.Endpoint{Method: "POST", Path: "/alerts", URL: srv.URL + "/alerts"}
	resp, err := newInvoker().Invoke(context.Background(), ep, map[string]any{"email": "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, "subscribed", resp.Body, "non-JSON bodies fall back to text")
}

func TestInvokeAuthRules(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	inv := newInvoker(
		config.AuthRule{Match: "weather", Token: "wk"},
		config.AuthRule{Match: "maps", Token: "mk"},
	)
	ctx := context.Background()

	_, err := inv.Invoke(ctx, domain.Endpoint{Method: "GET", URL: srv.URL + "/weather/today"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer wk", got.Load())

	_, err = inv.Invoke(ctx, domain.Endpoint{Method: "GET", URL: srv.URL + "/maps/route"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer mk", got.Load())

	_, err = inv.Invoke(ctx, domain.Endpoint{Method: "GET", URL: srv.URL + "/other"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "", got.Load())
}

func TestInvokeNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newInvoker().Invoke(context.Background(), domain.Endpoint{Method: "GET", URL: srv.URL}, nil)
	assert.ErrorIs(t, err, domain.ErrEndpointCall)
	assert.Contains(t, err.Error(), "status 400")
}

func TestInvokeBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	inv := newInvoker()
	ep := domain.Endpoint{Method: "GET", URL: srv.URL}
	for i := 0; i < 6; i++ {
		_, err := inv.Invoke(context.Background(), ep, nil)
		require.Error(t, err)
	}
	_, err := inv.Invoke(context.Background(), ep, nil)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, int32(6), calls.Load(), "gobreaker default trips after more than five consecutive failures")
}

func TestInvokeClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	inv := newInvoker()
	ep := domain.Endpoint{Method: "GET", URL: srv.URL}
	for i := 0; i < 10; i++ {
		_, err := inv.Invoke(context.Background(), ep, nil)
		assert.NotErrorIs(t, err, domain.ErrCircuitOpen)
	}
}

func TestInvokeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	inv := NewInvoker(config.OpenAPIConfig{CallTimeout: 50 * time.Millisecond}, slog.Default())
	_, err := inv.Invoke(context.Background(), domain.Endpoint{Method: "GET", URL: srv.URL}, nil)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.CodeEndpointTimeout, domain.ErrorCodeOf(err))
}

func TestBuildRequestUnresolvedPath(t *testing.T) {
	ep := domain.Endpoint{Method: "GET", Path: "/x/{id}", URL: "https://h/x/{id}", Parameters: []domain.Parameter{{Name: "id", In: "path"}}}
	_, _, _, _, err := buildRequest(ep, nil)
	assert.ErrorIs(t, err, domain.ErrParamsInvalid)
}

func TestBuildRequestExplicitBody(t *testing.T) {
	ep := domain.Endpoint{Method: "PUT", URL: "https://h/items"}
	_, q, _, body, err := buildRequest(ep, map[string]any{"body": map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.Empty(t, q)
	assert.Equal(t, map[string]any{"a": 1}, body)
}

func TestInvokeInvalidURL(t *testing.T) {
	_, err := newInvoker().Invoke(context.Background(), domain.Endpoint{Method: "GET", URL: "/relative"}, nil)
	assert.ErrorIs(t, err, domain.ErrEndpointCall)
}

func TestInvokeBlocksPrivateNetworks(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	inv := NewInvoker(config.OpenAPIConfig{CallTimeout: 2 * time.Second, BlockPrivateNetworks: true}, slog.Default())
	_, err := inv.Invoke(context.Background(), domain.Endpoint{Method: "GET", URL: srv.URL + "/internal"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrHostBlocked)
	assert.Zero(t, hits.Load())
}
