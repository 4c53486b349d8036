package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// analyticsStore is the surface *repository.AnalyticsRepository exposes to HTTP.
type analyticsStore interface {
	ConversationStats(ctx context.Context, conversationID string) (*model.ConversationStats, error)
	TopByThumbsDown(ctx context.Context, limit int) ([]model.ConversationStats, error)
}

// GetConversationStats handles GET /api/admin/conversations/{id}/stats.
func GetConversationStats(analytics analyticsStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		stats, err := analytics.ConversationStats(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to fetch conversation stats")
			return
		}
		if stats == nil {
			respondError(w, http.StatusNotFound, "no stats for conversation")
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

// ListTopThumbsDownConversations handles GET /api/admin/conversations/top-thumbs-down,
// surfacing the conversations most flagged by users for quality review (§4.11).
func ListTopThumbsDownConversations(analytics analyticsStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
			limit = n
		}
		list, err := analytics.TopByThumbsDown(r.Context(), limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to fetch top conversations")
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}
