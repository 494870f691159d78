package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Rrens/llm-gateway/internal/api/handler"
	customMiddleware "github.com/Rrens/llm-gateway/internal/api/middleware"
	"github.com/Rrens/llm-gateway/internal/audit"
	"github.com/Rrens/llm-gateway/internal/security"
)

// Dependencies holds everything the router wires into handlers
type Dependencies struct {
	Guard       *security.Guard
	Audit       *audit.Sink
	Completions handler.Completer
	Sessions    handler.SessionManager
	Models      handler.ModelSource
	Health      handler.HealthReporter
	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter customMiddleware.Limiter
	// TrustProxyHeaders derives the client address from X-Forwarded-For /
	// X-Real-IP instead of the connection.
	TrustProxyHeaders bool
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	chatHandler := handler.NewChatHandler(deps.Completions)
	sessionHandler := handler.NewSessionHandler(deps.Sessions)
	modelsHandler := handler.NewModelsHandler(deps.Models, deps.Audit)

	authMiddleware := customMiddleware.NewAuthMiddleware(deps.Guard)

	// Public routes
	r.Get("/", handler.Root)
	r.Get("/health", handler.HealthCheck(deps.Health))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		if deps.RateLimiter != nil {
			r.Use(customMiddleware.NewRateLimitMiddleware(deps.RateLimiter).Limit)
		}

		r.Route("/v1", func(r chi.Router) {
			r.Post("/chat/completions", chatHandler.Completions)
			r.Get("/models", modelsHandler.List)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Post("/", sessionHandler.Create)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Delete("/", sessionHandler.Delete)
					r.Get("/messages", sessionHandler.Messages)
				})
			})
		})
	})

	return r
}
