package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/clockdesk/clockdesk/internal/handler"
	"github.com/clockdesk/clockdesk/internal/middleware"
)

// Handlers groups the HTTP handlers mounted by NewRouter.
type Handlers struct {
	Root       *handler.Handler
	Health     *handler.HealthHandler
	Metrics    *handler.MetricsHandler
	Sync       *handler.SyncHandler
	Runs       *handler.RunsHandler
	Identities *handler.IdentityHandler
	APIKeys    *handler.APIKeyHandler
}

// RouterConfig carries middleware settings.
type RouterConfig struct {
	Logger      *slog.Logger
	Auth        middleware.AuthConfig
	RateLimit   middleware.RateLimitConfig
	Security    middleware.SecurityConfig
	CORS        middleware.CORSConfig
	MaxBodySize int64
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(h Handlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.Security(cfg.Security))
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.MaxBodySize > 0 {
		r.Use(middleware.MaxBodySize(cfg.MaxBodySize))
	}

	// Probes and metrics (no auth required)
	r.Get("/healthz", h.Health.Healthz)
	r.Get("/readyz", h.Health.Readyz)
	if h.Metrics != nil {
		r.Get("/metrics", h.Metrics.Metrics)
	}
	r.Get("/", h.Root.Index)

	r.Route("/api/v1", func(r chi.Router) {
		// IP limiting runs before auth so key guessing is bounded too.
		r.Use(middleware.RateLimitIP(cfg.RateLimit))
		r.Use(middleware.Auth(cfg.Auth))
		r.Use(middleware.RateLimitAPI(cfg.RateLimit))

		r.Route("/sync", func(r chi.Router) {
			r.With(middleware.RequireWrite()).Post("/", h.Sync.Trigger)
			r.With(middleware.RequireRead()).Get("/status", h.Sync.Status)
			if h.Runs != nil {
				r.With(middleware.RequireRead()).Get("/runs", h.Runs.List)
			}
		})

		r.With(middleware.RequireRead()).Get("/session", h.Identities.Session)

		r.Route("/identities", func(r chi.Router) {
			r.With(middleware.RequireRead()).Get("/", h.Identities.List)
			r.With(middleware.RequireWrite()).Post("/touch", h.Identities.Touch)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin())
				r.Post("/ownership-transfer", h.Identities.TransferOwnership)
				r.Put("/{id}/role", h.Identities.SetRole)
				r.Delete("/{id}", h.Identities.Delete)
			})

			// Directory-wide operations span every tenant.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireOperator())
				r.Get("/bogus", h.Identities.FindBogus)
				r.Delete("/bogus", h.Identities.DeleteBogus)
				r.Get("/overview", h.Identities.Overview)
			})
		})

		// API key management (requires admin scope for mutations)
		r.Route("/api-keys", func(r chi.Router) {
			r.With(middleware.RequireRead()).Get("/", h.APIKeys.ListAPIKeys)
			r.With(middleware.RequireAdmin()).Post("/", h.APIKeys.CreateAPIKey)
			r.With(middleware.RequireAdmin()).Delete("/{key_id}", h.APIKeys.RevokeAPIKey)
			r.With(middleware.RequireAdmin()).Post("/{key_id}/rotate", h.APIKeys.RotateAPIKey)
		})
	})

	r.NotFound(h.Root.NotFound)
	r.MethodNotAllowed(h.Root.MethodNotAllowed)

	return r
}
