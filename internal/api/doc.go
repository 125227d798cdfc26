// Package api implements the HTTP REST API and presence WebSocket for the forum core.
//
// This package provides:
//   - Account endpoints: register, login, refresh, logout, password flows
//   - Moderation endpoints for role and status changes
//   - Audit trail queries
//   - A presence WebSocket hub with ticket-based authentication
//   - Middleware stack (request ID, logging, recovery, CORS, rate limiting)
//
// # Sessions
//
// Login and refresh return a short-lived access token in the JSON body and
// set the rotating refresh token as an HttpOnly, SameSite=Strict cookie
// scoped to /api/v1/auth. Clients that cannot hold cookies may send the
// refresh token in the request body instead.
//
// Protected routes read the access token from the Authorization header.
// The caller's identity travels in the request context; handlers read it
// with IdentityFrom.
//
// # Graceful Degradation
//
// Redis, MQTT and the audit store are optional. Without Redis the auth
// endpoints are not throttled; a Redis error lets the request through.
package api
