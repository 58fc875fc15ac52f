package api

import (
	"net/http"
	"time"

	"github.com/Rrens/ally-chat/internal/api/handler"
	customMiddleware "github.com/Rrens/ally-chat/internal/api/middleware"
	"github.com/Rrens/ally-chat/internal/config"
	"github.com/Rrens/ally-chat/internal/identity"
	"github.com/Rrens/ally-chat/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Dependencies are the collaborators the HTTP layer is built from
type Dependencies struct {
	Config      *config.Config
	Assistant   handler.Assistant
	JWT         *security.JWTManager
	Hub         *identity.Hub
	RateLimiter customMiddleware.Limiter // nil disables rate limiting
	Blobs       handler.BlobReader       // nil disables the uploads route
	Ready       map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout(cfg)))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	authMiddleware := customMiddleware.NewAuthMiddleware(deps.JWT)

	authHandler := handler.NewAuthHandler(deps.Hub)
	quotaHandler := handler.NewQuotaHandler(deps.Assistant, cfg.Quota.DailyLimit)
	chatHandler := handler.NewChatHandler(deps.Assistant, cfg.Uploads.MaxBytes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Ready))

		if deps.Blobs != nil {
			r.Get("/uploads/{name}", handler.NewUploadHandler(deps.Blobs).Serve)
		}

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			if deps.RateLimiter != nil {
				r.Use(customMiddleware.NewRateLimitMiddleware(deps.RateLimiter).Limit)
			}

			r.Get("/me", authHandler.Me)
			r.Post("/auth/signout", authHandler.SignOut)

			r.Get("/quota", quotaHandler.Get)
			r.Get("/quota/affordability", quotaHandler.Affordability)
			r.Get("/stats", quotaHandler.Stats)

			r.Route("/chats/{model}", func(r chi.Router) {
				r.Get("/", chatHandler.List)
				r.Delete("/", chatHandler.Clear)
				r.Post("/messages", chatHandler.Send)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", chatHandler.Get)
					r.Delete("/", chatHandler.Delete)
					r.Get("/messages", chatHandler.Messages)
				})
			})
		})
	})

	return r
}

// requestTimeout leaves the inference call room inside the server write timeout
func requestTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.WriteTimeout > 5*time.Second {
		return cfg.Server.WriteTimeout - 5*time.Second
	}
	return 60 * time.Second
}
