package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
)

// AuditStore is the surface *repository.AuditRepo exposes to HTTP.
type AuditStore interface {
	List(ctx context.Context, f repository.ListFilter) ([]model.AuditLog, int, error)
}

// ListAuditLogsResponse is the body of GET /api/admin/audit-logs.
type ListAuditLogsResponse struct {
	Entries []model.AuditLog `json:"entries"`
	Total   int              `json:"total"`
}

// ListAuditLogs handles GET /api/admin/audit-logs: paginated, filterable
// access to the hash-chained audit trail, for compliance review. Mounted
// behind internal auth only (§4.10) since it exposes user IDs and IPs.
func ListAuditLogs(audit AuditStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := repository.ListFilter{
			UserID:    q.Get("userId"),
			Action:    q.Get("action"),
			Severity:  q.Get("severity"),
			StartDate: q.Get("startDate"),
			EndDate:   q.Get("endDate"),
		}
		if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
			f.Limit = limit
		}
		if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
			f.Offset = offset
		}

		entries, total, err := audit.List(r.Context(), f)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list audit logs")
			return
		}
		respondJSON(w, http.StatusOK, ListAuditLogsResponse{Entries: entries, Total: total})
	}
}
