package api

import (
	"net/http"

	"github.com/nerrad567/forum-core/internal/audit"
)

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: filter by event type (login_failed, token_reuse, ...)
//   - user_id: filter by subject account
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	limit, offset := pageParams(r)
	filter := audit.Filter{
		Action: q.Get("action"),
		UserID: q.Get("user_id"),
		Limit:  limit,
		Offset: offset,
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
