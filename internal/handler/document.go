package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// documentService is the read surface *service.DocumentService exposes.
type documentService interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context, universeID *string, limit, offset int) ([]model.Document, int, error)
}

// RequestUploadRequest is the body of POST /api/documents.
type RequestUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// uploadRequester matches service.DocumentService.RequestUpload's signature.
type uploadRequester interface {
	RequestUpload(ctx context.Context, filename, contentType string, sizeBytes int64) (*service.UploadResponse, error)
}

// RequestDocumentUpload handles POST /api/documents: validates the upload
// request, enqueues an ingestion_jobs row, and returns a signed PUT URL
// (§4.4 — document rows are created only by the ingest worker, never here).
func RequestDocumentUpload(docs uploadRequester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RequestUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Filename == "" {
			respondError(w, http.StatusBadRequest, "filename is required")
			return
		}

		resp, err := docs.RequestUpload(r.Context(), req.Filename, req.ContentType, req.SizeBytes)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusAccepted, resp)
	}
}

// GetDocumentHandler handles GET /api/documents/{id}.
func GetDocumentHandler(docs documentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		doc, err := docs.GetDocument(r.Context(), id)
		if err != nil || doc == nil {
			respondError(w, http.StatusNotFound, "document not found")
			return
		}
		respondJSON(w, http.StatusOK, doc)
	}
}

// ListDocumentsHandler handles GET /api/documents.
func ListDocumentsHandler(docs documentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var universeID *string
		if v := r.URL.Query().Get("universeId"); v != "" {
			universeID = &v
		}
		limit, offset := pagination(r, 50, 500)

		documents, total, err := docs.ListDocuments(r.Context(), universeID, limit, offset)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list documents")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"documents": documents,
			"total":     total,
		})
	}
}
