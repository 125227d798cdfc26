package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/forum-core/internal/auth"
)

// Auth constants.
const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	defaultRefreshCookie = "forum_refresh"
	defaultCookiePath    = "/api/v1/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type registerRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// IncludeRefreshToken asks for the refresh token in the response body
	// as well as the cookie, for clients without a cookie jar.
	IncludeRefreshToken bool `json:"include_refresh_token"`
}

type refreshRequest struct {
	RefreshToken        string `json:"refresh_token"`
	IncludeRefreshToken bool   `json:"include_refresh_token"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// sessionResponse is returned by login and refresh.
type sessionResponse struct {
	User         *auth.User `json:"user"`
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RefreshToken string     `json:"refresh_token,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleRegister opens a PENDING_VERIFICATION account. No session is issued.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.sessions.Register(r.Context(), auth.RegisterInput{
		Email:       req.Email,
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleLogin authenticates by e-mail and password and opens a session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := s.sessions.Login(r.Context(), auth.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	})
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	s.writeSession(w, session, req.IncludeRefreshToken)
}

// handleRefresh rotates the refresh token. The token is read from the
// body when present, otherwise from the cookie.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	raw := s.refreshTokenFrom(r, req.RefreshToken)
	session, err := s.sessions.Refresh(r.Context(), raw, r.UserAgent(), clientIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrAuthentication) {
			s.clearRefreshCookie(w)
		}
		s.writeAuthError(w, r, err)
		return
	}
	s.writeSession(w, session, req.IncludeRefreshToken)
}

// handleLogout revokes the presented refresh token. It always succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	if err := s.sessions.Logout(r.Context(), s.refreshTokenFrom(r, req.RefreshToken)); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// handleLogoutAll ends every session of the caller.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	if err := s.sessions.LogoutAll(r.Context(), id.UserID); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	s.hub.Disconnect(id.UserID)
	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out from all devices"})
}

// handleVerifyEmail consumes an e-mail verification token.
func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.sessions.VerifyEmail(r.Context(), req.Token); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Email verified successfully"})
}

// handleForgotPassword starts a reset. The response is the same whether
// or not the address has an account.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.sessions.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// handleResetPassword sets a new password from a reset token and ends
// every session of the account.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.sessions.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password has been reset"})
}

// handleChangePassword re-checks the current password and sets a new one.
// Every session, including the caller's, ends.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, _ := IdentityFrom(r.Context())
	if err := s.sessions.ChangePassword(r.Context(), id.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	s.hub.Disconnect(id.UserID)
	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password changed successfully. Please log in again"})
}

// handleMe returns the caller's account and effective permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	user, err := s.sessions.Me(r.Context(), id.UserID)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": auth.PermissionsForRole(user.Role),
	})
}

// handleSessions lists the caller's live sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	sessions, err := s.sessions.ActiveSessions(r.Context(), id.UserID)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []auth.RefreshToken{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the access token in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	user, err := s.sessions.Me(r.Context(), id.UserID)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	if user.Status.Blocked() {
		writeForbidden(w, "Account is not active")
		return
	}
	id.Role = user.Role
	ticket := s.tickets.issue(id, time.Now())

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ─── Helpers ───────────────────────────────────────────────────────

// writeSession sets the refresh cookie and writes the access token.
func (s *Server) writeSession(w http.ResponseWriter, session *auth.Session, includeRefresh bool) {
	s.setRefreshCookie(w, session.RefreshToken, session.RefreshTokenExpiresAt)

	resp := sessionResponse{
		User:        session.User,
		AccessToken: session.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(session.AccessTokenExpiresAt).Seconds()),
		ExpiresAt:   session.AccessTokenExpiresAt,
	}
	if includeRefresh {
		resp.RefreshToken = session.RefreshToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cookieName() string {
	if s.cfg.Cookie.Name != "" {
		return s.cfg.Cookie.Name
	}
	return defaultRefreshCookie
}

func (s *Server) cookiePath() string {
	if s.cfg.Cookie.Path != "" {
		return s.cfg.Cookie.Path
	}
	return defaultCookiePath
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, raw string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    raw,
		Path:     s.cookiePath(),
		Domain:   s.cfg.Cookie.Domain,
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		Secure:   s.cfg.Cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    "",
		Path:     s.cookiePath(),
		Domain:   s.cfg.Cookie.Domain,
		MaxAge:   -1,
		Secure:   s.cfg.Cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshTokenFrom prefers an explicit body value over the cookie.
func (s *Server) refreshTokenFrom(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if c, err := r.Cookie(s.cookieName()); err == nil {
		return c.Value
	}
	return ""
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for endpoints where an empty body is
// valid, such as cookie-only refresh and logout.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeBadRequest(w, "invalid JSON body")
	return false
}

// ─── WebSocket Tickets ─────────────────────────────────────────────

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	identity  auth.Identity
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue stores a new ticket for id.
func (ts *ticketStore) issue(id auth.Identity, now time.Time) string {
	ticket := generateTicket()
	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{identity: id, expiresAt: now.Add(ticketTTL)}
	ts.mu.Unlock()
	return ticket
}

// consume checks a ticket and removes it (single-use).
func (ts *ticketStore) consume(ticket string, now time.Time) (auth.Identity, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return auth.Identity{}, false
	}
	delete(ts.tickets, ticket)

	if !now.Before(entry.expiresAt) {
		return auth.Identity{}, false
	}
	return entry.identity, true
}

// cleanExpired removes expired tickets from the store.
func (ts *ticketStore) cleanExpired(now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for ticket, entry := range ts.tickets {
		if now.After(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop runs cleanExpired periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.cleanExpired(now)
		}
	}
}
