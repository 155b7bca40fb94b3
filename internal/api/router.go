package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Thainyx11/GameMaster/internal/api/middleware"
	"github.com/Thainyx11/GameMaster/internal/chat"
	"github.com/Thainyx11/GameMaster/internal/handlers"
	"github.com/Thainyx11/GameMaster/internal/openrouter"
	"github.com/Thainyx11/GameMaster/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, st store.DataStore, llm *openrouter.Client, session *chat.Session) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // 64KB max body, messages cap at 10K chars
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - the SPA may be served from another origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Create handler and auth middleware
	h := handlers.NewHandler(st, llm, session, logger)
	auth := middleware.NewAuthMiddleware(st)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/register", h.Register)

	// Authenticated routes (require bearer token)
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/models", h.Models)

		r.Post("/conversations", h.CreateConversation)
		r.Get("/conversations", h.ListConversations)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Delete("/conversations/{id}", h.DeleteConversation)
		r.Patch("/conversations/{id}/model", h.UpdateModel)
		r.Get("/conversations/{id}/export/{format}", h.ExportConversation)

		r.Post("/chat/message", h.SendMessage)

		r.Get("/instructions", h.GetInstructions)
		r.Put("/instructions", h.UpdateInstructions)
	})

	return r
}
