package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedLedgerUser(t *testing.T, repo *SQLiteUserRepository, name string) *User {
	t.Helper()
	u := &User{Email: name + "@x.com", Username: name, PasswordHash: "h", Status: StatusActive}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return u
}

func TestTokenRepository_CreateAndGetByHash(t *testing.T) {
	db := testDB(t)
	user := seedLedgerUser(t, NewUserRepository(db), "tokenuser")
	repo := NewTokenRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := &RefreshToken{
		TokenHash: HashToken("raw-refresh-token"),
		UserID:    user.ID,
		UserAgent: "Firefox on Linux",
		IP:        "192.0.2.10",
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		CreatedAt: now,
	}
	if err := repo.Create(ctx, token); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(token.ID) != len("rt-")+16 {
		t.Errorf("ID = %q, want rt-<16>", token.ID)
	}

	got, err := repo.GetByHash(ctx, token.TokenHash)
	if err != nil {
		t.Fatalf("GetByHash() error = %v", err)
	}
	if got.UserID != user.ID || got.UserAgent != "Firefox on Linux" || got.IP != "192.0.2.10" {
		t.Errorf("got %+v", got)
	}
	if !got.ExpiresAt.Equal(token.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, token.ExpiresAt)
	}
	if got.Revoked() {
		t.Error("new token should be live")
	}

	if _, err := repo.GetByHash(ctx, HashToken("unknown")); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("GetByHash(unknown) error = %v, want ErrTokenNotFound", err)
	}

	dup := &RefreshToken{TokenHash: token.TokenHash, UserID: user.ID, ExpiresAt: token.ExpiresAt}
	if err := repo.Create(ctx, dup); err == nil {
		t.Error("duplicate token hash should be rejected")
	}
}

func TestTokenRepository_RevokeIsConditional(t *testing.T) {
	db := testDB(t)
	user := seedLedgerUser(t, NewUserRepository(db), "revokeuser")
	repo := NewTokenRepository(db)
	ctx := context.Background()

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := &RefreshToken{TokenHash: HashToken("revoke-me"), UserID: user.ID, ExpiresAt: first.Add(time.Hour)}
	if err := repo.Create(ctx, token); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ok, err := repo.Revoke(ctx, token.TokenHash, "", first)
	if err != nil || !ok {
		t.Fatalf("first Revoke() = %v, %v", ok, err)
	}
	ok, err = repo.Revoke(ctx, token.TokenHash, "other", first.Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("second Revoke() = %v, %v; want false", ok, err)
	}

	got, _ := repo.GetByHash(ctx, token.TokenHash)
	if got.RevokedAt == nil || !got.RevokedAt.Equal(first) {
		t.Errorf("RevokedAt = %v, want original %v", got.RevokedAt, first)
	}
	if got.ReplacedBy != "" {
		t.Errorf("ReplacedBy = %q, second revoke must not write", got.ReplacedBy)
	}
}

func TestTokenRepository_Rotate(t *testing.T) {
	db := testDB(t)
	user := seedLedgerUser(t, NewUserRepository(db), "rotateuser")
	repo := NewTokenRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := &RefreshToken{TokenHash: HashToken("old"), UserID: user.ID, ExpiresAt: now.Add(time.Hour)}
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	next := &RefreshToken{TokenHash: HashToken("next"), UserID: user.ID, ExpiresAt: now.Add(2 * time.Hour)}
	if err := repo.Rotate(ctx, old.TokenHash, next, now); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	gotOld, _ := repo.GetByHash(ctx, old.TokenHash)
	if !gotOld.Revoked() || gotOld.ReplacedBy != next.TokenHash {
		t.Errorf("old token = %+v", gotOld)
	}
	if _, err := repo.GetByHash(ctx, next.TokenHash); err != nil {
		t.Errorf("next token missing: %v", err)
	}

	// A second rotation of the same token must insert nothing.
	again := &RefreshToken{TokenHash: HashToken("again"), UserID: user.ID, ExpiresAt: now.Add(2 * time.Hour)}
	if err := repo.Rotate(ctx, old.TokenHash, again, now); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("second Rotate() error = %v, want ErrTokenRevoked", err)
	}
	if _, err := repo.GetByHash(ctx, again.TokenHash); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("failed rotation inserted a token: %v", err)
	}
}

func TestTokenRepository_RevokeAllAndList(t *testing.T) {
	db := testDB(t)
	users := NewUserRepository(db)
	alice := seedLedgerUser(t, users, "alice")
	bob := seedLedgerUser(t, users, "bob")
	repo := NewTokenRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, raw := range []string{"a1", "a2", "a3"} {
		tok := &RefreshToken{TokenHash: HashToken(raw), UserID: alice.ID,
			ExpiresAt: now.Add(time.Hour), CreatedAt: now.Add(time.Duration(i) * time.Second)}
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := repo.Create(ctx, &RefreshToken{TokenHash: HashToken("b1"), UserID: bob.ID, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repo.Revoke(ctx, HashToken("a1"), "", now); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	active, err := repo.ListActiveByUser(ctx, alice.ID, now)
	if err != nil {
		t.Fatalf("ListActiveByUser() error = %v", err)
	}
	if len(active) != 2 || active[0].TokenHash != HashToken("a3") {
		t.Errorf("active = %+v, want a3 then a2", active)
	}

	n, err := repo.RevokeAllForUser(ctx, alice.ID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RevokeAllForUser() error = %v", err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2 (already revoked rows untouched)", n)
	}

	first, _ := repo.GetByHash(ctx, HashToken("a1"))
	if !first.RevokedAt.Equal(now) {
		t.Error("RevokeAllForUser() rewrote an existing revocation time")
	}

	bobActive, _ := repo.ListActiveByUser(ctx, bob.ID, now)
	if len(bobActive) != 1 {
		t.Errorf("bob's tokens touched: %d live", len(bobActive))
	}
}

func TestTokenRepository_DeleteExpired(t *testing.T) {
	db := testDB(t)
	user := seedLedgerUser(t, NewUserRepository(db), "sweepuser")
	repo := NewTokenRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fixtures := map[string]time.Time{
		"expired":         now.Add(-time.Hour),
		"revoked-current": now.Add(time.Hour),
		"live":            now.Add(time.Hour),
	}
	for raw, exp := range fixtures {
		if err := repo.Create(ctx, &RefreshToken{TokenHash: HashToken(raw), UserID: user.ID, ExpiresAt: exp}); err != nil {
			t.Fatalf("Create(%s) error = %v", raw, err)
		}
	}
	repo.Revoke(ctx, HashToken("revoked-current"), "", now) //nolint:errcheck // fixture

	n, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, err := repo.GetByHash(ctx, HashToken("revoked-current")); err != nil {
		t.Error("revoked but unexpired token must be kept for reuse detection")
	}

	active, err := repo.CountActive(ctx, now)
	if err != nil {
		t.Fatalf("CountActive() error = %v", err)
	}
	if active != 1 {
		t.Errorf("active = %d, want 1", active)
	}
}
