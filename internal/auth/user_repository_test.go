package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestUserRepository_CreateAndLookups(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := &User{Email: "Alice@Example.com", Username: "Alice", PasswordHash: "h"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(u.ID) != len("usr-")+8 {
		t.Errorf("ID = %q, want usr-<8>", u.ID)
	}
	if u.Role != RoleUser || u.Status != StatusPending {
		t.Errorf("defaults = %s/%s", u.Role, u.Status)
	}

	for name, lookup := range map[string]func() (*User, error){
		"by id":       func() (*User, error) { return repo.GetByID(ctx, u.ID) },
		"by email":    func() (*User, error) { return repo.GetByEmail(ctx, "alice@example.COM") },
		"by username": func() (*User, error) { return repo.GetByUsername(ctx, "ALICE") },
	} {
		got, err := lookup()
		if err != nil {
			t.Fatalf("%s: error = %v", name, err)
		}
		if got.ID != u.ID {
			t.Errorf("%s: ID = %q, want %q", name, got.ID, u.ID)
		}
	}

	if _, err := repo.GetByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByEmail(missing) error = %v, want ErrUserNotFound", err)
	}

	exists, err := repo.EmailExists(ctx, "ALICE@example.com")
	if err != nil || !exists {
		t.Errorf("EmailExists() = %v, %v", exists, err)
	}
	exists, err = repo.UsernameExists(ctx, "bob")
	if err != nil || exists {
		t.Errorf("UsernameExists(bob) = %v, %v", exists, err)
	}
}

func TestUserRepository_UniqueViolations(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, &User{Email: "a@x.com", Username: "alice", PasswordHash: "h"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(ctx, &User{Email: "A@X.COM", Username: "other", PasswordHash: "h"})
	if !errors.Is(err, ErrEmailExists) {
		t.Errorf("duplicate email error = %v, want ErrEmailExists", err)
	}
	err = repo.Create(ctx, &User{Email: "b@x.com", Username: "ALICE", PasswordHash: "h"})
	if !errors.Is(err, ErrUsernameExists) {
		t.Errorf("duplicate username error = %v, want ErrUsernameExists", err)
	}
}

func TestUserRepository_UpdatePartial(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := &User{Email: "a@x.com", Username: "alice", DisplayName: "Alice", PasswordHash: "h",
		VerificationTokenHash: "vhash"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	role := RoleModerator
	cleared := ""
	got, err := repo.Update(ctx, u.ID, UserUpdate{Role: &role, VerificationTokenHash: &cleared})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Role != RoleModerator {
		t.Errorf("Role = %q", got.Role)
	}
	if got.DisplayName != "Alice" {
		t.Errorf("DisplayName changed to %q", got.DisplayName)
	}
	if got.VerificationTokenHash != "" {
		t.Error("verification token should be cleared")
	}

	expires := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	reset := "rhash"
	got, err = repo.Update(ctx, u.ID, UserUpdate{ResetTokenHash: &reset, ResetTokenExpiresAt: &expires})
	if err != nil {
		t.Fatalf("Update(reset) error = %v", err)
	}
	if got.ResetTokenExpiresAt == nil || !got.ResetTokenExpiresAt.Equal(expires) {
		t.Errorf("ResetTokenExpiresAt = %v, want %v", got.ResetTokenExpiresAt, expires)
	}
	byReset, err := repo.GetByResetToken(ctx, "rhash")
	if err != nil || byReset.ID != u.ID {
		t.Errorf("GetByResetToken() = %v, %v", byReset, err)
	}

	if _, err := repo.Update(ctx, "usr-missing", UserUpdate{Role: &role}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Update(missing) error = %v", err)
	}
}

func TestUserRepository_FailedLoginsAndLock(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := &User{Email: "a@x.com", Username: "alice", PasswordHash: "h", Status: StatusActive}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Concurrent increments must not lose updates.
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.IncrementFailedLogins(ctx, u.ID); err != nil {
				t.Errorf("IncrementFailedLogins() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := repo.GetByID(ctx, u.ID)
	if got.FailedLoginCount != 20 {
		t.Errorf("FailedLoginCount = %d, want 20", got.FailedLoginCount)
	}

	until := time.Now().Add(30 * time.Minute)
	if err := repo.Lock(ctx, u.ID, until); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	got, _ = repo.GetByID(ctx, u.ID)
	if !got.IsLocked(time.Now()) {
		t.Error("user should be locked")
	}
	if got.FailedLoginCount != 0 {
		t.Errorf("Lock() should restart the count, got %d", got.FailedLoginCount)
	}

	if err := repo.RecordLogin(ctx, u.ID, "203.0.113.9", time.Now()); err != nil {
		t.Fatalf("RecordLogin() error = %v", err)
	}
	got, _ = repo.GetByID(ctx, u.ID)
	if got.LockedUntil != nil || got.LastLoginIP != "203.0.113.9" || got.LastLoginAt == nil {
		t.Errorf("RecordLogin() state = locked %v ip %q at %v", got.LockedUntil, got.LastLoginIP, got.LastLoginAt)
	}

	if _, err := repo.IncrementFailedLogins(ctx, "usr-missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("IncrementFailedLogins(missing) error = %v", err)
	}
}

func TestUserRepository_RecordLoginSkipsBlocked(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := &User{Email: "b@x.com", Username: "bob", PasswordHash: "h", Status: StatusBanned}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repo.IncrementFailedLogins(ctx, u.ID); err != nil {
		t.Fatalf("IncrementFailedLogins() error = %v", err)
	}

	if err := repo.RecordLogin(ctx, u.ID, "203.0.113.9", time.Now()); !errors.Is(err, ErrUserBlocked) {
		t.Fatalf("RecordLogin(banned) error = %v, want ErrUserBlocked", err)
	}
	got, _ := repo.GetByID(ctx, u.ID)
	if got.LastLoginAt != nil || got.FailedLoginCount != 1 {
		t.Errorf("blocked account changed: last login %v, failures %d", got.LastLoginAt, got.FailedLoginCount)
	}

	if err := repo.RecordLogin(ctx, "usr-missing", "", time.Now()); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("RecordLogin(missing) error = %v", err)
	}
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := &User{Email: "a@x.com", Username: "alice", PasswordHash: "old"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.UpdatePassword(ctx, u.ID, "new"); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, u.ID)
	if got.PasswordHash != "new" {
		t.Errorf("PasswordHash = %q", got.PasswordHash)
	}
	if err := repo.UpdatePassword(ctx, "usr-missing", "x"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UpdatePassword(missing) error = %v", err)
	}
}

func TestUserRepository_ListAndCount(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"ann", "ben", "cat"} {
		u := &User{Email: name + "@x.com", Username: name, PasswordHash: "h",
			CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := repo.Create(ctx, u); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}

	page, err := repo.List(ctx, 2, 1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page) != 2 || page[0].Username != "ben" || page[1].Username != "cat" {
		t.Errorf("List(2,1) = %+v", page)
	}

	count, err := repo.Count(ctx)
	if err != nil || count != 3 {
		t.Errorf("Count() = %d, %v", count, err)
	}
}
