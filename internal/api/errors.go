package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/forum-core/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int      `json:"status"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeUnauthorized    = "unauthorised"
	ErrCodeForbidden       = "forbidden"
	ErrCodeConflict        = "conflict"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
	ErrCodeTooManyRequests = "too_many_requests"
	ErrCodeUnavailable     = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeAuthError maps a session-manager or gate error onto a response.
// Anything that is not an *auth.Error is logged and reported as a 500
// without leaking its text.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *auth.Error
	if !errors.As(err, &authErr) {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeInternalError(w, "internal server error")
		return
	}

	status, code := statusForKind(authErr.Kind)
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: authErr.Message,
		Details: authErr.Details,
	})
}

func statusForKind(kind error) (int, string) {
	switch {
	case errors.Is(kind, auth.ErrValidation):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(kind, auth.ErrAuthentication):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(kind, auth.ErrAuthorization):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(kind, auth.ErrConflict):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(kind, auth.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	}
	return http.StatusInternalServerError, ErrCodeInternal
}
