package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/forum-core/internal/audit"
	"github.com/nerrad567/forum-core/internal/auth"
	"github.com/nerrad567/forum-core/internal/infrastructure/config"
	"github.com/nerrad567/forum-core/internal/infrastructure/logging"
	"github.com/nerrad567/forum-core/internal/infrastructure/ratelimit"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// RateLimiter throttles requests by key. ratelimit.RedisLimiter satisfies it.
type RateLimiter interface {
	ratelimit.Limiter
	Key(parts ...string) string
}

// HealthChecker is a dependency whose liveness is reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Sessions *auth.Manager
	Codec    auth.AccessTokenCodec
	Audit    audit.Repository         // optional: GET /audit returns 503 without it
	Limiter  RateLimiter              // optional: auth endpoints unthrottled without it
	Presence PresencePublisher        // optional: presence stays local without it
	Health   map[string]HealthChecker // optional: extra components reported by /health
	Version  string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and presence hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	sessions *auth.Manager
	codec    auth.AccessTokenCodec
	audit    audit.Repository
	limiter  RateLimiter
	health   map[string]HealthChecker
	version  string
	server   *http.Server
	hub      *Hub
	tickets  *ticketStore
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but the presence hub
// and ticket store exist from here on so Handler can be served directly.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Codec == nil {
		return nil, fmt.Errorf("access token codec is required")
	}

	logger := deps.Logger.With("component", "api")
	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   logger,
		sessions: deps.Sessions,
		codec:    deps.Codec,
		audit:    deps.Audit,
		limiter:  deps.Limiter,
		health:   deps.Health,
		version:  deps.Version,
		hub:      NewHub(deps.WS, logger, deps.Presence),
		tickets:  newTicketStore(),
	}, nil
}

// Handler returns the router with every route and middleware installed.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the presence hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the presence hub and ticket cleanup, then launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
