package auth

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/forum-core/internal/infrastructure/database"
	_ "github.com/nerrad567/forum-core/migrations" // registers the schema
)

const testSecret = "test-secret-key-that-is-at-least-32-chars"

// testDB opens a temp-file SQLite database with the forum schema applied.
// It is closed when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
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
	return db.DB
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// spyHasher is a fast PasswordHasher that counts comparisons. onVerify,
// when set, runs during each comparison.
type spyHasher struct {
	verifies atomic.Int64
	onVerify func()
}

func (h *spyHasher) Hash(password string) (string, error) {
	return "plain:" + password, nil
}

func (h *spyHasher) Verify(password, hash string) (bool, error) {
	h.verifies.Add(1)
	if h.onVerify != nil {
		h.onVerify()
	}
	return hash == "plain:"+password, nil
}

// eventRecorder collects emitted security events.
type eventRecorder struct {
	mu     sync.Mutex
	events []SecurityEvent
}

func (r *eventRecorder) Emit(_ context.Context, ev SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(typ EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// captureMailer keeps the last tokens handed out for delivery.
type captureMailer struct {
	mu           sync.Mutex
	verification map[string]string
	reset        map[string]string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{verification: map[string]string{}, reset: map[string]string{}}
}

func (m *captureMailer) SendVerification(_ context.Context, u *User, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verification[u.Email] = token
	return nil
}

func (m *captureMailer) SendPasswordReset(_ context.Context, u *User, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset[u.Email] = token
	return nil
}

// testEnv bundles a Manager with direct access to its collaborators.
type testEnv struct {
	db     *sql.DB
	users  *SQLiteUserRepository
	tokens *SQLiteTokenRepository
	hasher *spyHasher
	clock  *fakeClock
	events *eventRecorder
	mailer *captureMailer
	mgr    *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testDB(t)
	env := &testEnv{
		db:     db,
		users:  NewUserRepository(db),
		tokens: NewTokenRepository(db),
		hasher: &spyHasher{},
		clock:  newFakeClock(),
		events: &eventRecorder{},
		mailer: newCaptureMailer(),
	}

	codec, err := NewJWTCodec(CodecConfig{
		Secret:   testSecret,
		Issuer:   "forum-core",
		Audience: "forum-clients",
		TTL:      15 * time.Minute,
		Now:      env.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewJWTCodec() error = %v", err)
	}

	env.mgr, err = NewManager(Deps{
		Users:  env.users,
		Tokens: env.tokens,
		Hasher: env.hasher,
		Codec:  codec,
		Config: DefaultConfig(),
		Events: env.events,
		Mailer: env.mailer,
		Now:    env.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return env
}

// seedUser inserts an account with password "Passw0rd" directly.
func (e *testEnv) seedUser(t *testing.T, username string, role Role, status Status) *User {
	t.Helper()

	u := &User{
		Email:        strings.ToLower(username) + "@example.com",
		Username:     username,
		DisplayName:  username,
		PasswordHash: "plain:Passw0rd",
		Role:         role,
		Status:       status,
		CreatedAt:    e.clock.Now(),
	}
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return u
}

// login opens a session for a seeded user.
func (e *testEnv) login(t *testing.T, u *User) *Session {
	t.Helper()

	s, err := e.mgr.Login(context.Background(), LoginInput{
		Email: u.Email, Password: "Passw0rd", UserAgent: "test-agent", IP: "192.0.2.1",
	})
	if err != nil {
		t.Fatalf("Login(%s) error = %v", u.Email, err)
	}
	return s
}

// liveTokens counts the user's live refresh tokens.
func (e *testEnv) liveTokens(t *testing.T, userID string) int {
	t.Helper()

	tokens, err := e.tokens.ListActiveByUser(context.Background(), userID, e.clock.Now())
	if err != nil {
		t.Fatalf("ListActiveByUser() error = %v", err)
	}
	return len(tokens)
}

// wantKind fails the test unless err is an *Error of the given kind.
func wantKind(t *testing.T, err, kind error) *Error {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %v, got nil", kind)
	}
	var authErr *Error
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if authErr.Kind != kind {
		t.Fatalf("kind = %v, want %v (message %q)", authErr.Kind, kind, authErr.Message)
	}
	return authErr
}
