package auth

import (
	"errors"
	"time"
)

// Role is a rung on the forum's moderation ladder.
type Role string

const (
	// RoleUser is an ordinary member.
	RoleUser Role = "USER"

	// RoleModerator can pin, lock and clean up content and suspend users.
	RoleModerator Role = "MODERATOR"

	// RoleAdmin runs the forum: categories, menus, ads, bans and role grants.
	RoleAdmin Role = "ADMIN"
)

// ValidRoles lists roles from lowest to highest rank.
var ValidRoles = []Role{RoleUser, RoleModerator, RoleAdmin}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return roleRank(r) >= 0
}

// Status is an account's lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING_VERIFICATION"
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusBanned    Status = "BANNED"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusBanned:
		return true
	}
	return false
}

// Blocked reports whether the status forbids issuing new access tokens.
func (s Status) Blocked() bool {
	return s == StatusSuspended || s == StatusBanned
}

// User is a forum account. Secrets and lockout bookkeeping never serialise.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"display_name"`
	PasswordHash  string     `json:"-"`
	Role          Role       `json:"role"`
	Status        Status     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	FailedLoginCount      int        `json:"-"`
	LockedUntil           *time.Time `json:"-"`
	LastLoginIP           string     `json:"-"`
	VerificationTokenHash string     `json:"-"`
	ResetTokenHash        string     `json:"-"`
	ResetTokenExpiresAt   *time.Time `json:"-"`
}

// IsLocked reports whether the account is inside a lockout window at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// UserUpdate carries the fields to change in a partial update. Nil fields
// are left alone; a pointer to "" (or a zero time) clears a nullable column.
type UserUpdate struct {
	DisplayName           *string
	Role                  *Role
	Status                *Status
	EmailVerified         *bool
	VerificationTokenHash *string
	ResetTokenHash        *string
	ResetTokenExpiresAt   *time.Time
}

// RefreshToken is a row in the token ledger. The raw token is never stored.
type RefreshToken struct {
	ID         string     `json:"id"`
	TokenHash  string     `json:"-"`
	UserID     string     `json:"user_id"`
	UserAgent  string     `json:"user_agent,omitempty"`
	IP         string     `json:"ip,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	ReplacedBy string     `json:"-"`
}

// Revoked reports whether the token has left the live state.
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Expired reports whether the token is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Session is the token pair handed to a client after login or refresh.
type Session struct {
	User                  *User     `json:"user"`
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"-"`
	RefreshTokenExpiresAt time.Time `json:"-"`
}

// Identity is the authenticated caller as carried through a request.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

// Storage sentinel errors. The session manager translates these into
// typed errors before they reach callers.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrEmailExists    = errors.New("email already exists")
	ErrUsernameExists = errors.New("username already exists")
	ErrTokenNotFound  = errors.New("refresh token not found")
	ErrTokenRevoked   = errors.New("refresh token already revoked")
	ErrUserBlocked    = errors.New("user is suspended or banned")
)
