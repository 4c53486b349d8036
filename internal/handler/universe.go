package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// universeService is the surface *service.UniverseService exposes to HTTP.
type universeService interface {
	Create(ctx context.Context, universe *model.ProductUniverse) error
	List(ctx context.Context) ([]model.ProductUniverse, error)
	GrantAccess(ctx context.Context, userID, universeID string, isDefault bool) error
	AccessibleTo(ctx context.Context, userID string) ([]model.ProductUniverse, error)
	DefaultFor(ctx context.Context, userID string) (*model.ProductUniverse, error)
}

// CreateUniverseRequest is the body of POST /api/universes.
type CreateUniverseRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateUniverse handles POST /api/universes.
func CreateUniverse(universes universeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUniverseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		universe := &model.ProductUniverse{Name: req.Name, Description: req.Description}
		if err := universes.Create(r.Context(), universe); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusCreated, universe)
	}
}

// ListUniverses handles GET /api/universes.
func ListUniverses(universes universeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := universes.List(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list universes")
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// GrantUniverseAccessRequest is the body of POST /api/universes/{id}/access.
type GrantUniverseAccessRequest struct {
	UserID    string `json:"userId"`
	IsDefault bool   `json:"isDefault"`
}

// GrantUniverseAccess handles POST /api/universes/{id}/access.
func GrantUniverseAccess(universes universeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		universeID := chi.URLParam(r, "id")

		var req GrantUniverseAccessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" {
			respondError(w, http.StatusBadRequest, "userId is required")
			return
		}

		if err := universes.GrantAccess(r.Context(), req.UserID, universeID, req.IsDefault); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListAccessibleUniverses handles GET /api/universes/accessible: the
// universes the authenticated caller may scope retrieval to (§4.5).
func ListAccessibleUniverses(universes universeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		list, err := universes.AccessibleTo(r.Context(), userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list accessible universes")
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// GetDefaultUniverse handles GET /api/universes/default.
func GetDefaultUniverse(universes universeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		universe, err := universes.DefaultFor(r.Context(), userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to resolve default universe")
			return
		}
		if universe == nil {
			respondJSON(w, http.StatusOK, nil)
			return
		}
		respondJSON(w, http.StatusOK, universe)
	}
}
