package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/seyacat/milsim-sub000/internal/session"
	"github.com/seyacat/milsim-sub000/internal/store"
)

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Registry: registry,
//	    Store:    st,
//	    Tokens:   tokens,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Registry is the game session registry (required)
	Registry *session.Registry

	// Store is the persistence layer (required)
	Store *store.Store

	// Tokens signs and verifies bearer tokens (required)
	Tokens *TokenManager

	// Hub handles WebSocket upgrades. Optional; if nil the /ws route is
	// not mounted, which keeps router construction pure for REST tests.
	Hub *Hub

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, uses the localhost defaults.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool

	// Logger is used by handlers for error reporting.
	Logger zerolog.Logger
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE - it has no side effects:
//   - No goroutines are started
//   - No network listeners are opened
//   - No background workers are launched
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	// CORS configuration
	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{
		registry: cfg.Registry,
		store:    cfg.Store,
		tokens:   cfg.Tokens,
		log:      cfg.Logger,
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)

		// Everything below requires a bearer token
		r.Group(func(r chi.Router) {
			r.Use(cfg.Tokens.Middleware)

			r.Get("/games", h.handleListGames)
			r.Post("/games", h.handleCreateGame)
			r.Get("/history", h.handleGetHistory)

			r.Route("/games/{id}", func(r chi.Router) {
				r.Get("/", h.handleGetGame)
				r.Patch("/", h.handlePatchGame)
				r.Delete("/", h.handleDeleteGame)

				r.Post("/join", h.handleJoinGame)
				r.Post("/leave", h.handleLeaveGame)

				r.Post("/start", h.handleLifecycle(session.ActionStartGame))
				r.Post("/pause", h.handleLifecycle(session.ActionPauseGame))
				r.Post("/resume", h.handleLifecycle(session.ActionResumeGame))
				r.Post("/end", h.handleLifecycle(session.ActionEndGame))
				r.Post("/restart", h.handleLifecycle(session.ActionRestartGame))
				r.Post("/add-time", h.handleLifecycle(session.ActionAddTime))
				r.Post("/update-time", h.handleLifecycle(session.ActionUpdateGameTime))

				r.Get("/players", h.handleGetPlayers)
				r.Get("/results", h.handleGetResults)
				r.Get("/instances", h.handleGetInstances)
			})
		})
	})

	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.HandleWebSocket)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	return r
}
