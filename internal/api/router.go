package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/forum-core/internal/auth"
)

// healthCheckTimeout bounds each dependency probe made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			// Anonymous endpoints, throttled per client IP.
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware("auth"))
				r.Post("/register", s.handleRegister)
				r.Post("/login", s.handleLogin)
				r.Post("/refresh", s.handleRefresh)
				r.Post("/logout", s.handleLogout)
				r.Post("/verify-email", s.handleVerifyEmail)
				r.Post("/password/forgot", s.handleForgotPassword)
				r.Post("/password/reset", s.handleResetPassword)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Post("/logout-all", s.handleLogoutAll)
				r.Post("/password", s.handleChangePassword)
				r.Get("/me", s.handleMe)
				r.Get("/sessions", s.handleSessions)
				r.Post("/ws-ticket", s.handleWSTicket)
			})
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/users", func(r chi.Router) {
				r.With(requireMinimumRole(auth.RoleModerator)).Get("/", s.handleListUsers)
				r.With(requirePermission(auth.PermUserRole)).Patch("/{id}/role", s.handleSetRole)
				// Suspend versus ban is decided by the requested status.
				r.With(requireRole(auth.RoleModerator, auth.RoleAdmin)).Patch("/{id}/status", s.handleSetStatus)
			})

			r.With(requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth reports the server and dependency status. Any failing
// dependency turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.health))

	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", "component", name, "error", err)
			components[name] = "unavailable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	resp := map[string]any{
		"status":  status,
		"version": s.version,
		"clients": s.hub.ClientCount(),
	}
	if len(components) > 0 {
		resp["components"] = components
	}
	writeJSON(w, code, resp)
}
