package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// Orchestrator runs one conversational turn. Satisfied by
// *service.OrchestratorService.
type Orchestrator interface {
	Orchestrate(ctx context.Context, p service.OrchestrateParams) (*service.OrchestrateResult, error)
}

// ConversationOwnerCheck loads a conversation to verify its owner before a
// message is posted to it.
type ConversationOwnerCheck interface {
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
}

// PostMessageRequest is the body of POST /api/conversations/{id}/messages.
type PostMessageRequest struct {
	Message          string `json:"message"`
	UseTools         bool   `json:"useTools"`
	RerankPreference *bool  `json:"rerankPreference,omitempty"`
}

// PostMessage handles POST /api/conversations/{id}/messages — persists the
// user turn, runs retrieval + generation, persists and returns the answer.
func PostMessage(orchestrator Orchestrator, conversations ConversationOwnerCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := chi.URLParam(r, "id")

		conv, err := conversations.GetByID(r.Context(), conversationID)
		if err != nil || conv == nil {
			respondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if conv.UserID != middleware.UserIDFromContext(r.Context()) {
			respondError(w, http.StatusForbidden, "forbidden")
			return
		}

		var req PostMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Message == "" {
			respondError(w, http.StatusBadRequest, "message is required")
			return
		}

		result, err := orchestrator.Orchestrate(r.Context(), service.OrchestrateParams{
			ConversationID:   conversationID,
			UserMessage:      req.Message,
			UseTools:         req.UseTools,
			RerankPreference: req.RerankPreference,
		})
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to generate a response")
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

// RatingStore persists thumbs up/down ratings. Satisfied by
// *repository.RatingRepository.
type RatingStore interface {
	Upsert(ctx context.Context, rating *model.MessageRating) error
}

// RateMessageRequest is the body of POST /api/messages/{id}/rating.
type RateMessageRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback,omitempty"`
}

// RateMessage handles POST /api/messages/{id}/rating. A negative rating
// triggers pg_notify('thumbs_down_created', ...) inside RatingStore.Upsert,
// waking the thumbs-down analyser worker (§4.9).
func RateMessage(ratings RatingStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := chi.URLParam(r, "id")
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "missing user")
			return
		}

		var req RateMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Rating != 1 && req.Rating != -1 {
			respondError(w, http.StatusBadRequest, "rating must be 1 or -1")
			return
		}

		rating := &model.MessageRating{
			ID:        uuid.NewString(),
			MessageID: messageID,
			UserID:    userID,
			Rating:    req.Rating,
			Feedback:  req.Feedback,
		}
		if err := ratings.Upsert(r.Context(), rating); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to save rating")
			return
		}
		respondJSON(w, http.StatusOK, rating)
	}
}
