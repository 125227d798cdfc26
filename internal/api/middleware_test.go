package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/forum-core/internal/auth"
	"github.com/nerrad567/forum-core/internal/infrastructure/ratelimit"
)

// fakeLimiter allows the first n requests per key.
type fakeLimiter struct {
	mu    sync.Mutex
	n     int
	seen  map[string]int
	err   error
	keys  []string
	retry time.Duration
}

func (l *fakeLimiter) Key(parts ...string) string {
	return "rl:" + strings.Join(parts, ":")
}

func (l *fakeLimiter) Allow(_ context.Context, key string) (ratelimit.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.err != nil {
		return ratelimit.Decision{}, l.err
	}
	l.seen[key]++
	used := l.seen[key]
	if used > l.n {
		return ratelimit.Decision{Allowed: false, Limit: l.n, Remaining: 0, RetryAfter: l.retry}, nil
	}
	return ratelimit.Decision{Allowed: true, Limit: l.n, Remaining: int64(l.n - used)}, nil
}

func TestRateLimit_AuthEndpoints(t *testing.T) {
	limiter := &fakeLimiter{n: 2, seen: map[string]int{}, retry: 1500 * time.Millisecond}
	env := testServer(t, func(d *Deps) { d.Limiter = limiter })

	body := map[string]any{"email": "nobody@example.com", "password": testPassword}
	for i := range 2 {
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", body)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("X-RateLimit-Limit = %q", got)
		}
	}

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third attempt status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if e := decodeError(t, w); e.Code != ErrCodeTooManyRequests {
		t.Errorf("code = %q", e.Code)
	}

	if limiter.keys[0] != "rl:auth:192.0.2.1" {
		t.Errorf("key = %q, want scope and client IP", limiter.keys[0])
	}

	// Health is not throttled.
	if w := env.do(t, http.MethodGet, "/api/v1/health", nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	limiter := &fakeLimiter{seen: map[string]int{}, err: errors.New("redis: connection refused")}
	env := testServer(t, func(d *Deps) { d.Limiter = limiter })
	env.createUser(t, "alice", auth.RoleUser, auth.StatusActive)

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email": "alice@example.com", "password": testPassword,
	})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when the limiter is down", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("no rate limit headers without a decision")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := bearerToken(r)
		if got != tt.want || ok != tt.ok {
			t.Errorf("bearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	r.Header.Set("X-Forwarded-For", "10.0.0.1")
	if got := clientIP(r); got != "203.0.113.7" {
		t.Errorf("clientIP = %q, want remote address host", got)
	}

	r.RemoteAddr = "[2001:db8::1]:443"
	if got := clientIP(r); got != "2001:db8::1" {
		t.Errorf("clientIP(v6) = %q", got)
	}
}

func TestGate_WithoutIdentity(t *testing.T) {
	h := requirePermission(auth.PermAuditRead)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(withIdentity(r.Context(), auth.Identity{UserID: "usr-1", Role: auth.RoleAdmin}))
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	h := requireRole(auth.RoleModerator, auth.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name string
		id   *auth.Identity
		want int
	}{
		{"no identity", nil, http.StatusUnauthorized},
		{"user", &auth.Identity{UserID: "usr-1", Role: auth.RoleUser}, http.StatusForbidden},
		{"moderator", &auth.Identity{UserID: "usr-2", Role: auth.RoleModerator}, http.StatusOK},
		{"admin", &auth.Identity{UserID: "usr-3", Role: auth.RoleAdmin}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.id != nil {
				r = r.WithContext(withIdentity(r.Context(), *tt.id))
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
