package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenLedger persists refresh-token records keyed by token hash.
//
// A revoked row never becomes live again: every revoking statement is
// conditional on revoked_at IS NULL.
type TokenLedger interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	Revoke(ctx context.Context, tokenHash, replacedBy string, at time.Time) (bool, error)
	Rotate(ctx context.Context, oldHash string, next *RefreshToken, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	ListActiveByUser(ctx context.Context, userID string, at time.Time) ([]RefreshToken, error)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const tokenColumns = `id, token_hash, user_id, user_agent, ip, expires_at, created_at, revoked_at, replaced_by`

// SQLiteTokenRepository implements TokenLedger on SQLite.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new SQLite-backed token ledger.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// Create inserts a live token. ID and CreatedAt are filled in when empty.
func (r *SQLiteTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	if err := insertToken(ctx, r.db, token); err != nil {
		return fmt.Errorf("creating refresh token: %w", err)
	}
	return nil
}

// GetByHash returns the record for tokenHash, live or not.
func (r *SQLiteTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens WHERE token_hash = ?", tokenHash)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("getting refresh token by hash: %w", err)
	}
	return t, nil
}

// Revoke marks a live token revoked. It reports false when no live row
// matched, which covers both unknown and already revoked tokens.
func (r *SQLiteTokenRepository) Revoke(ctx context.Context, tokenHash, replacedBy string, at time.Time) (bool, error) {
	ok, err := revokeLive(ctx, r.db, tokenHash, replacedBy, at)
	if err != nil {
		return false, fmt.Errorf("revoking token: %w", err)
	}
	return ok, nil
}

// Rotate revokes oldHash and inserts next in one transaction. The
// conditional revoke runs first; if it matches no live row the
// transaction is abandoned and ErrTokenRevoked is returned, so at most one
// of several concurrent rotations of the same token can succeed.
func (r *SQLiteTokenRepository) Rotate(ctx context.Context, oldHash string, next *RefreshToken, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	ok, err := revokeLive(ctx, tx, oldHash, next.TokenHash, at)
	if err != nil {
		return fmt.Errorf("revoking old token: %w", err)
	}
	if !ok {
		return ErrTokenRevoked
	}

	if err := insertToken(ctx, tx, next); err != nil {
		return fmt.Errorf("creating rotated token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live token owned by userID and returns
// how many were revoked.
func (r *SQLiteTokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL",
		formatTime(at), userID)
	if err != nil {
		return 0, fmt.Errorf("revoking all tokens for user: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

// DeleteExpired removes tokens that expired at or before before. Revoked
// tokens are kept until they expire so replays are still recognised.
func (r *SQLiteTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ?", formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

// CountActive returns how many tokens are neither revoked nor expired at at.
func (r *SQLiteTokenRepository) CountActive(ctx context.Context, at time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM refresh_tokens WHERE revoked_at IS NULL AND expires_at > ?",
		formatTime(at)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active tokens: %w", err)
	}
	return n, nil
}

// ListActiveByUser returns the user's live tokens, newest first.
func (r *SQLiteTokenRepository) ListActiveByUser(ctx context.Context, userID string, at time.Time) ([]RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+tokenColumns+` FROM refresh_tokens
		 WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
		 ORDER BY created_at DESC`, userID, formatTime(at))
	if err != nil {
		return nil, fmt.Errorf("listing active tokens: %w", err)
	}
	defer rows.Close()

	tokens := []RefreshToken{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tokens: %w", err)
	}
	return tokens, nil
}

func revokeLive(ctx context.Context, ex execer, tokenHash, replacedBy string, at time.Time) (bool, error) {
	result, err := ex.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?, replaced_by = ?
		 WHERE token_hash = ? AND revoked_at IS NULL`,
		formatTime(at), nullString(replacedBy), tokenHash)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func insertToken(ctx context.Context, ex execer, t *RefreshToken) error {
	if t.ID == "" {
		t.ID = "rt-" + uuid.NewString()[:16]
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, token_hash, user_id, user_agent, ip, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TokenHash, t.UserID, nullString(t.UserAgent), nullString(t.IP),
		formatTime(t.ExpiresAt), formatTime(t.CreatedAt),
	)
	return err
}

func scanToken(s scanner) (*RefreshToken, error) {
	var t RefreshToken
	var userAgent, ip, revokedAt, replacedBy sql.NullString
	var expiresAt, createdAt string

	if err := s.Scan(&t.ID, &t.TokenHash, &t.UserID, &userAgent, &ip,
		&expiresAt, &createdAt, &revokedAt, &replacedBy); err != nil {
		return nil, err
	}

	t.UserAgent = userAgent.String
	t.IP = ip.String
	t.ExpiresAt = parseTime(expiresAt)
	t.CreatedAt = parseTime(createdAt)
	t.RevokedAt = parseNullTime(revokedAt)
	t.ReplacedBy = replacedBy.String
	return &t, nil
}
