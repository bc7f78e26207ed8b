// Package httpapi exposes the query service over HTTP and WebSocket.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"askverse/internal/domain"
	"askverse/internal/infra/config"
	"askverse/internal/infra/middleware"
	"askverse/internal/usecase/auth"
)

// QueryProcessor answers queries.
type QueryProcessor interface {
	Process(ctx context.Context, query string, qctx map[string]any) *domain.OrchestrationResult
}

// Authenticator resolves API key credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, clientID, secret string) (*auth.Principal, error)
}

// SyncTrigger starts background document syncs.
type SyncTrigger interface {
	Trigger(ctx context.Context) error
	Running() bool
}

// EndpointLister lists indexed API endpoints.
type EndpointLister interface {
	List() []domain.Endpoint
}

// DocumentCounter reports the size of the document index.
type DocumentCounter interface {
	Count(ctx context.Context) (int, error)
}

// Deps holds the services behind the API. Sync, APIs and Documents may be
// nil; the matching routes then report the feature as unavailable.
type Deps struct {
	Queries   QueryProcessor
	Repo      domain.Repository
	Auth      Authenticator
	Sync      SyncTrigger
	APIs      EndpointLister
	Documents DocumentCounter
	Logger    *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	deps      Deps
	cfg       config.ServerConfig
	logger    *slog.Logger
	metrics   *Metrics
	startTime time.Time
	httpSrv   *http.Server
	boundAddr string
	handler   http.Handler
	sockets   sync.Map // connID (uint64) -> *socket
	nextID    atomic.Uint64
}

// NewServer builds the server and its routes. ctx bounds background
// middleware goroutines.
func NewServer(ctx context.Context, deps Deps, cfg config.ServerConfig) *Server {
	s := &Server{
		deps:      deps,
		cfg:       cfg,
		logger:    deps.Logger,
		metrics:   &Metrics{},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /api/v1/query", s.requireAuth(s.handleQuery))
	mux.HandleFunc("GET /api/v1/queries", s.requireAuth(s.handleListQueries))
	mux.HandleFunc("GET /api/v1/queries/{id}", s.requireAuth(s.handleGetQuery))
	mux.HandleFunc("POST /api/v1/sync", s.requireAuth(s.handleTriggerSync))
	mux.HandleFunc("GET /api/v1/sync/status", s.requireAuth(s.handleSyncStatus))
	mux.HandleFunc("GET /api/v1/apis", s.requireAuth(s.handleListAPIs))
	mux.HandleFunc("GET /api/v1/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("GET /api/v1/ws", s.handleWebSocket)

	mws := []middleware.Middleware{
		middleware.Recover(s.logger),
		middleware.Logger(s.logger),
		middleware.SecurityHeaders,
		middleware.CORS(cfg.CORSOrigins),
	}
	if rl := cfg.RateLimit; rl.Enabled {
		mws = append(mws, middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
		}))
	}
	s.handler = middleware.Chain(mux, mws...)
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Metrics returns the server's counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("httpapi listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.httpSrv.RegisterOnShutdown(s.closeSockets)

	s.logger.Info("http server started", "addr", s.boundAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("httpapi serve: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return s.Stop(context.WithoutCancel(ctx))
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }
