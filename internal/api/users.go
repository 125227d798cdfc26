package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/forum-core/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type setRoleRequest struct {
	Role auth.Role `json:"role"`
}

type setStatusRequest struct {
	Status auth.Status `json:"status"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns a page of user accounts.
//
// Query parameters:
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	users, total, err := s.sessions.ListUsers(r.Context(), limit, offset)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users":  users,
		"count":  len(users),
		"total":  total,
		"offset": offset,
	})
}

// handleSetRole changes another user's role.
func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	actor, _ := IdentityFrom(r.Context())
	user, err := s.sessions.SetRole(r.Context(), actor, chi.URLParam(r, "id"), req.Role)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleSetStatus suspends, bans or reinstates another user. A suspended
// or banned user's presence connections are closed as well.
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	actor, _ := IdentityFrom(r.Context())
	user, err := s.sessions.SetStatus(r.Context(), actor, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	if user.Status.Blocked() {
		s.hub.Disconnect(user.ID)
	}
	writeJSON(w, http.StatusOK, user)
}

// pageParams reads limit and offset, ignoring malformed values.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
