package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragbox-backend/internal/handler"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// Dependencies holds all injected services needed by the router.
type Dependencies struct {
	DB                 handler.DBPinger
	AuthService         *service.AuthService
	FrontendURL         string
	Version             string
	Metrics             *middleware.Metrics
	MetricsReg          *prometheus.Registry
	InternalAuthSecret  string

	Conversations handler.ConversationStore
	Messages      handler.ConversationOwnerCheck
	Orchestrator  handler.Orchestrator
	Ratings       handler.RatingStore
	Documents     *service.DocumentService
	Universes     *service.UniverseService
	Users         middleware.UserEnsurer
	AuditLogs     handler.AuditStore
	Analytics     *repository.AnalyticsRepository

	GeneralRateLimiter *middleware.RateLimiter
	ChatRateLimiter    *middleware.RateLimiter
}

// internalAuthOnly wraps a handler with a simple internal auth check. Used
// for admin/service-to-service endpoints with no end-user Firebase session.
func internalAuthOnly(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Internal-Auth")
		if secret == "" || token != secret {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	}
}

// New creates and configures the Chi router with all routes. Grounded in
// the teacher's router.go layering: global middleware, a public group, an
// internal-service-auth group, and a Firebase-or-internal-auth user group.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	r.Get("/api/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	if deps.AuditLogs != nil {
		r.Get("/api/admin/audit-logs", internalAuthOnly(deps.InternalAuthSecret, handler.ListAuditLogs(deps.AuditLogs)))
	}
	if deps.Analytics != nil {
		r.Get("/api/admin/conversations/top-thumbs-down", internalAuthOnly(deps.InternalAuthSecret, handler.ListTopThumbsDownConversations(deps.Analytics)))
		r.Get("/api/admin/conversations/{id}/stats", internalAuthOnly(deps.InternalAuthSecret, handler.GetConversationStats(deps.Analytics)))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOrFirebaseAuth(deps.AuthService, deps.InternalAuthSecret, deps.Users))
		if deps.GeneralRateLimiter != nil {
			r.Use(middleware.RateLimit(deps.GeneralRateLimiter))
		}

		timeout30s := middleware.Timeout(30 * time.Second)

		r.With(timeout30s).Post("/api/conversations", handler.CreateConversation(deps.Conversations))
		r.With(timeout30s).Get("/api/conversations", handler.ListConversations(deps.Conversations))
		r.With(timeout30s).Get("/api/conversations/{id}", handler.GetConversation(deps.Conversations))
		r.With(timeout30s).Post("/api/conversations/{id}/archive", handler.ArchiveConversation(deps.Conversations))

		// Chat turns call an LLM; no write timeout, separate stricter rate limit.
		chatHandler := handler.PostMessage(deps.Orchestrator, deps.Messages)
		if deps.ChatRateLimiter != nil {
			r.With(middleware.RateLimit(deps.ChatRateLimiter)).Post("/api/conversations/{id}/messages", chatHandler)
		} else {
			r.Post("/api/conversations/{id}/messages", chatHandler)
		}

		r.With(timeout30s).Post("/api/messages/{id}/rating", handler.RateMessage(deps.Ratings))

		r.With(timeout30s).Post("/api/documents", handler.RequestDocumentUpload(deps.Documents))
		r.With(timeout30s).Get("/api/documents", handler.ListDocumentsHandler(deps.Documents))
		r.With(timeout30s).Get("/api/documents/{id}", handler.GetDocumentHandler(deps.Documents))

		r.With(timeout30s).Post("/api/universes", handler.CreateUniverse(deps.Universes))
		r.With(timeout30s).Get("/api/universes", handler.ListUniverses(deps.Universes))
		r.With(timeout30s).Post("/api/universes/{id}/access", handler.GrantUniverseAccess(deps.Universes))
		r.With(timeout30s).Get("/api/universes/accessible", handler.ListAccessibleUniverses(deps.Universes))
		r.With(timeout30s).Get("/api/universes/default", handler.GetDefaultUniverse(deps.Universes))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "route not found"})
	})

	return r
}
