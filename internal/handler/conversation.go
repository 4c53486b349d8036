package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// ConversationStore is the persistence surface conversation handlers need.
// Satisfied by *repository.ConversationRepository.
type ConversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error)
	Archive(ctx context.Context, id string) error
}

// CreateConversationRequest is the body of POST /api/conversations.
type CreateConversationRequest struct {
	Title      string  `json:"title"`
	UniverseID *string `json:"universeId,omitempty"`
	Provider   string  `json:"provider,omitempty"`
	UseTools   bool    `json:"useTools"`
}

// CreateConversation handles POST /api/conversations.
func CreateConversation(store ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "missing user")
			return
		}

		var req CreateConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		provider := req.Provider
		if provider == "" {
			provider = "mistral"
		}

		conv := &model.Conversation{
			ID:         uuid.NewString(),
			UserID:     userID,
			Title:      req.Title,
			Provider:   provider,
			UseTools:   req.UseTools,
			UniverseID: req.UniverseID,
			CreatedAt:  time.Now().UTC(),
			UpdatedAt:  time.Now().UTC(),
		}
		if err := store.Create(r.Context(), conv); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
		respondJSON(w, http.StatusCreated, conv)
	}
}

// ListConversations handles GET /api/conversations.
func ListConversations(store ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "missing user")
			return
		}

		limit, offset := pagination(r, 20, 200)
		conversations, err := store.ListByUser(r.Context(), userID, limit, offset)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list conversations")
			return
		}
		respondJSON(w, http.StatusOK, conversations)
	}
}

// GetConversation handles GET /api/conversations/{id}.
func GetConversation(store ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		conv, err := store.GetByID(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if conv.UserID != middleware.UserIDFromContext(r.Context()) {
			respondError(w, http.StatusForbidden, "forbidden")
			return
		}
		respondJSON(w, http.StatusOK, conv)
	}
}

// ArchiveConversation handles POST /api/conversations/{id}/archive.
func ArchiveConversation(store ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		conv, err := store.GetByID(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if conv.UserID != middleware.UserIDFromContext(r.Context()) {
			respondError(w, http.StatusForbidden, "forbidden")
			return
		}
		if err := store.Archive(r.Context(), id); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to archive conversation")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func pagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
