package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// CredentialStore persists user accounts. Lookups by email and username
// are case-insensitive.
type CredentialStore interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByVerificationToken(ctx context.Context, tokenHash string) (*User, error)
	GetByResetToken(ctx context.Context, tokenHash string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	IncrementFailedLogins(ctx context.Context, id string) (int, error)
	Lock(ctx context.Context, id string, until time.Time) error
	RecordLogin(ctx context.Context, id, ip string, at time.Time) error
	List(ctx context.Context, limit, offset int) ([]User, error)
	Count(ctx context.Context) (int, error)
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s) //nolint:errcheck // rows written outside this package
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

const userColumns = `id, email, username, password_hash, display_name, role, status,
	email_verified, failed_login_count, locked_until, verification_token,
	reset_token, reset_token_expires_at, last_login_at, last_login_ip,
	created_at, updated_at`

// SQLiteUserRepository implements CredentialStore on SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Create inserts a new account. ID and timestamps are filled in when empty.
// Duplicate email or username returns ErrEmailExists or ErrUsernameExists.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.UpdatedAt = user.CreatedAt
	if user.Role == "" {
		user.Role = RoleUser
	}
	if user.Status == "" {
		user.Status = StatusPending
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, display_name, role, status,
			email_verified, verification_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Username, user.PasswordHash, user.DisplayName,
		string(user.Role), string(user.Status), boolToInt(user.EmailVerified),
		nullString(user.VerificationTokenHash),
		formatTime(user.CreatedAt), formatTime(user.UpdatedAt),
	)
	if err != nil {
		if field, ok := uniqueViolation(err); ok {
			if field == "username" {
				return ErrUsernameExists
			}
			return ErrEmailExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByEmail retrieves a user by e-mail, ignoring case.
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, "email = ? COLLATE NOCASE", strings.TrimSpace(email))
}

// GetByUsername retrieves a user by username, ignoring case.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getOne(ctx, "username = ? COLLATE NOCASE", strings.TrimSpace(username))
}

// GetByVerificationToken retrieves the user holding a verification token hash.
func (r *SQLiteUserRepository) GetByVerificationToken(ctx context.Context, tokenHash string) (*User, error) {
	return r.getOne(ctx, "verification_token = ?", tokenHash)
}

// GetByResetToken retrieves the user holding a reset token hash. Expiry is
// the caller's decision.
func (r *SQLiteUserRepository) GetByResetToken(ctx context.Context, tokenHash string) (*User, error) {
	return r.getOne(ctx, "reset_token = ?", tokenHash)
}

// EmailExists reports whether any account uses email, ignoring case.
func (r *SQLiteUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "email = ? COLLATE NOCASE", strings.TrimSpace(email))
}

// UsernameExists reports whether any account uses username, ignoring case.
func (r *SQLiteUserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "username = ? COLLATE NOCASE", strings.TrimSpace(username))
}

// Update applies the non-nil fields of upd and returns the updated user.
func (r *SQLiteUserRepository) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now())}

	if upd.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *upd.DisplayName)
	}
	if upd.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, string(*upd.Role))
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.EmailVerified != nil {
		sets = append(sets, "email_verified = ?")
		args = append(args, boolToInt(*upd.EmailVerified))
	}
	if upd.VerificationTokenHash != nil {
		sets = append(sets, "verification_token = ?")
		args = append(args, nullString(*upd.VerificationTokenHash))
	}
	if upd.ResetTokenHash != nil {
		sets = append(sets, "reset_token = ?")
		args = append(args, nullString(*upd.ResetTokenHash))
	}
	if upd.ResetTokenExpiresAt != nil {
		sets = append(sets, "reset_token_expires_at = ?")
		args = append(args, nullTime(*upd.ResetTokenExpiresAt))
	}
	args = append(args, id)

	query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = ?" //nolint:gosec // column list is fixed, values are parameterised
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return nil, ErrUserNotFound
	}
	return r.GetByID(ctx, id)
}

// UpdatePassword replaces the password hash and clears any pending reset
// token and lockout state.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, reset_token = NULL, reset_token_expires_at = NULL,
			failed_login_count = 0, locked_until = NULL, updated_at = ?
		 WHERE id = ?`,
		passwordHash, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrUserNotFound
	}
	return nil
}

// IncrementFailedLogins bumps the failure counter in a single statement and
// returns the new count.
func (r *SQLiteUserRepository) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET failed_login_count = failed_login_count + 1
		 WHERE id = ? RETURNING failed_login_count`, id,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("incrementing failed logins: %w", err)
	}
	return count, nil
}

// Lock sets locked_until and restarts the failure count for the next window.
func (r *SQLiteUserRepository) Lock(ctx context.Context, id string, until time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET locked_until = ?, failed_login_count = 0 WHERE id = ?",
		formatTime(until), id,
	)
	if err != nil {
		return fmt.Errorf("locking user: %w", err)
	}
	return nil
}

// RecordLogin clears lockout state and stamps the successful login. It
// returns ErrUserBlocked, and changes nothing, when the account is
// suspended or banned at the time of the write.
func (r *SQLiteUserRepository) RecordLogin(ctx context.Context, id, ip string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET failed_login_count = 0, locked_until = NULL,
			last_login_at = ?, last_login_ip = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		formatTime(at), nullString(ip), id, string(StatusSuspended), string(StatusBanned),
	)
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n > 0 {
		return nil
	}
	found, err := r.exists(ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if !found {
		return ErrUserNotFound
	}
	return ErrUserBlocked
}

// List returns a page of users, oldest first.
func (r *SQLiteUserRepository) List(ctx context.Context, limit, offset int) ([]User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// Count returns the total number of accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func (r *SQLiteUserRepository) getOne(ctx context.Context, where string, arg any) (*User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, arg)
	return scanUser(row)
}

func (r *SQLiteUserRepository) exists(ctx context.Context, where string, arg any) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM users WHERE "+where+" LIMIT 1", arg).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking user existence: %w", err)
	}
	return true, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var u User
	var role, status string
	var verified int
	var lockedUntil, verification, reset, resetExpires, lastLoginAt, lastLoginIP sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.DisplayName,
		&role, &status, &verified, &u.FailedLoginCount, &lockedUntil,
		&verification, &reset, &resetExpires, &lastLoginAt, &lastLoginIP,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	u.Status = Status(status)
	u.EmailVerified = verified != 0
	u.LockedUntil = parseNullTime(lockedUntil)
	u.VerificationTokenHash = verification.String
	u.ResetTokenHash = reset.String
	u.ResetTokenExpiresAt = parseNullTime(resetExpires)
	u.LastLoginAt = parseNullTime(lastLoginAt)
	u.LastLoginIP = lastLoginIP.String
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// uniqueViolation reports whether err is a UNIQUE constraint failure and
// which users column it hit.
func uniqueViolation(err error) (field string, ok bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return "", false
	}
	msg := sqliteErr.Error()
	switch {
	case strings.Contains(msg, "users.username"):
		return "username", true
	case strings.Contains(msg, "users.email"):
		return "email", true
	}
	return "", true
}
