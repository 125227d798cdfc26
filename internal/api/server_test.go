package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/forum-core/internal/audit"
	"github.com/nerrad567/forum-core/internal/auth"
	"github.com/nerrad567/forum-core/internal/events"
	"github.com/nerrad567/forum-core/internal/infrastructure/config"
	"github.com/nerrad567/forum-core/internal/infrastructure/database"
	"github.com/nerrad567/forum-core/internal/infrastructure/logging"
	_ "github.com/nerrad567/forum-core/migrations" // registers the schema
)

const (
	testSecret   = "test-secret-key-that-is-at-least-32-chars"
	testPassword = "correct-horse-1"
)

// plainHasher keeps tests fast; bcrypt is covered in the auth package.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }
func (plainHasher) Verify(password, hash string) (bool, error) {
	return hash == "plain:"+password, nil
}

// captureMailer keeps the last one-time tokens per address.
type captureMailer struct {
	mu           sync.Mutex
	verification map[string]string
	reset        map[string]string
}

func (m *captureMailer) SendVerification(_ context.Context, u *auth.User, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verification[u.Email] = token
	return nil
}

func (m *captureMailer) SendPasswordReset(_ context.Context, u *auth.User, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset[u.Email] = token
	return nil
}

func (m *captureMailer) resetToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reset[email]
}

func (m *captureMailer) verificationToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verification[email]
}

// testEnv is a server wired to a real SQLite store.
type testEnv struct {
	srv     *Server
	handler http.Handler
	users   *auth.SQLiteUserRepository
	tokens  *auth.SQLiteTokenRepository
	mailer  *captureMailer
}

type envOption func(*Deps)

func testServer(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	log := logging.Discard()
	codec, err := auth.NewJWTCodec(auth.CodecConfig{
		Secret: testSecret, Issuer: "forum-core", Audience: "forum-clients", TTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewJWTCodec() error: %v", err)
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	users := auth.NewUserRepository(db.DB)
	tokens := auth.NewTokenRepository(db.DB)
	mailer := &captureMailer{verification: map[string]string{}, reset: map[string]string{}}

	manager, err := auth.NewManager(auth.Deps{
		Users:  users,
		Tokens: tokens,
		Hasher: plainHasher{},
		Codec:  codec,
		Config: auth.DefaultConfig(),
		Events: events.New(events.Deps{Audit: auditRepo, Logger: log}),
		Mailer: mailer,
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			Cookie:   config.CookieConfig{Name: "forum_refresh", Path: "/api/v1/auth", Secure: true},
		},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   log,
		Sessions: manager,
		Codec:    codec,
		Audit:    auditRepo,
		Version:  "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &testEnv{srv: srv, handler: srv.Handler(), users: users, tokens: tokens, mailer: mailer}
}

// createUser inserts an account that can log in with testPassword.
func (e *testEnv) createUser(t *testing.T, name string, role auth.Role, status auth.Status) *auth.User {
	t.Helper()
	u := &auth.User{
		Email:         name + "@example.com",
		Username:      name,
		DisplayName:   name,
		PasswordHash:  "plain:" + testPassword,
		Role:          role,
		Status:        status,
		EmailVerified: status != auth.StatusPending,
	}
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating %s: %v", name, err)
	}
	return u
}

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) requestOption {
	return func(r *http.Request) { r.AddCookie(c) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "api-test")
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// login returns the access token and refresh cookie for name.
func (e *testEnv) login(t *testing.T, name string) (string, *http.Cookie) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email": name + "@example.com", "password": testPassword,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", name, w.Code, w.Body.String())
	}
	var resp sessionResponse
	decodeBody(t, w, &resp)
	return resp.AccessToken, refreshCookie(t, w)
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "forum_refresh" {
			return c
		}
	}
	t.Fatal("response did not set the refresh cookie")
	return nil
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	decodeBody(t, w, &e)
	return e
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without session manager should fail")
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

type checkerFunc func(context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealth_Degraded(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Health = map[string]HealthChecker{
			"database": checkerFunc(func(context.Context) error { return nil }),
			"redis":    checkerFunc(func(context.Context) error { return errors.New("connection refused") }),
		}
	})

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var resp struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	decodeBody(t, w, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Components["database"] != "ok" || resp.Components["redis"] != "unavailable" {
		t.Errorf("components = %v", resp.Components)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", nil, func(r *http.Request) {
		r.Header.Set("X-Request-ID", "client-123")
	})
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodOptions, "/api/v1/auth/login", nil, func(r *http.Request) {
		r.Header.Set("Origin", "http://localhost:3000")
	})

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"https://forum.example"}
	})
	w := env.do(t, http.MethodGet, "/api/v1/health", nil, func(r *http.Request) {
		r.Header.Set("Origin", "https://evil.example")
	})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want none", got)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if e := decodeError(t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %q", e.Code)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind error
		want int
	}{
		{auth.ErrValidation, http.StatusBadRequest},
		{auth.ErrAuthentication, http.StatusUnauthorized},
		{auth.ErrAuthorization, http.StatusForbidden},
		{auth.ErrConflict, http.StatusConflict},
		{auth.ErrNotFound, http.StatusNotFound},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusForKind(tt.kind); got != tt.want {
			t.Errorf("statusForKind(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestWriteAuthError_HidesInternalErrors(t *testing.T) {
	env := testServer(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	env.srv.writeAuthError(w, r, errors.New("sqlite: disk I/O error at /var/lib/forum.db"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Message != "internal server error" {
		t.Errorf("message = %q leaks the cause", e.Message)
	}
}
