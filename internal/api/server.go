package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/seyacat/milsim-sub000/internal/config"
	"github.com/seyacat/milsim-sub000/internal/session"
	"github.com/seyacat/milsim-sub000/internal/store"
)

// Server is the HTTP API server with WebSocket support.
// It combines the REST router with the room hub for real-time updates.
type Server struct {
	router      *chi.Mux
	hub         *Hub
	rateLimiter *IPRateLimiter
	httpSrv     *http.Server
	log         zerolog.Logger
}

// NewServer creates the API server with production configuration.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// This enables testing by allowing the server to be constructed without
// starting goroutines or opening network listeners.
//
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(cfg config.AppConfig, registry *session.Registry, st *store.Store, tokens *TokenManager, log zerolog.Logger) *Server {
	origins := NewOriginChecker(cfg.Server.CORSOrigins)
	hub := NewHub(registry, tokens, origins, log)
	registry.SetBroadcaster(hub)

	s := &Server{
		hub:         hub,
		rateLimiter: NewIPRateLimiter(DefaultRateLimitConfig),
		log:         log.With().Str("service", "api").Logger(),
	}
	s.router = NewRouter(RouterConfig{
		Registry:    registry,
		Store:       st,
		Tokens:      tokens,
		Hub:         hub,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log,
	})
	return s
}

// Start begins the HTTP server AND starts background workers.
// This is the ONLY method that starts goroutines or opens network listeners.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("api server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
// Use this in integration tests instead of calling Start().
func (s *Server) Router() http.Handler {
	return s.router
}

// Stop performs graceful shutdown of the listener and background workers.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Interface("rate_limit", s.rateLimiter.GetStats()).Msg("api server stopping")
	s.rateLimiter.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
