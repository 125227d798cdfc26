package auth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Config holds the session lifecycle policy.
type Config struct {
	RefreshTokenTTL  time.Duration
	MaxFailedLogins  int
	LockoutDuration  time.Duration
	ResetTokenTTL    time.Duration
	DefaultListLimit int
}

// DefaultConfig returns the standard policy: 7-day refresh tokens, lockout
// for 30 minutes after 5 failures, 1-hour reset tokens.
func DefaultConfig() Config {
	return Config{
		RefreshTokenTTL:  7 * 24 * time.Hour,
		MaxFailedLogins:  5,
		LockoutDuration:  30 * time.Minute,
		ResetTokenTTL:    time.Hour,
		DefaultListLimit: 50,
	}
}

// Deps are the collaborators a Manager is built from. Users, Tokens,
// Hasher and Codec are required.
type Deps struct {
	Users  CredentialStore
	Tokens TokenLedger
	Hasher PasswordHasher
	Codec  AccessTokenCodec
	Config Config

	Events EventSink
	Mailer Mailer
	Now    func() time.Time
}

// Manager runs registration, login, refresh-token rotation, logout and
// password flows. It holds no per-user state between calls; every
// decision re-reads the stores.
type Manager struct {
	users  CredentialStore
	tokens TokenLedger
	hasher PasswordHasher
	codec  AccessTokenCodec
	cfg    Config
	events EventSink
	mailer Mailer
	now    func() time.Time
}

// NewManager validates deps and fills in defaults for the optional ones.
func NewManager(deps Deps) (*Manager, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("auth: credential store is required")
	case deps.Tokens == nil:
		return nil, errors.New("auth: token ledger is required")
	case deps.Hasher == nil:
		return nil, errors.New("auth: password hasher is required")
	case deps.Codec == nil:
		return nil, errors.New("auth: access token codec is required")
	}

	cfg := deps.Config
	def := DefaultConfig()
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = def.RefreshTokenTTL
	}
	if cfg.MaxFailedLogins <= 0 {
		cfg.MaxFailedLogins = def.MaxFailedLogins
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = def.LockoutDuration
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = def.ResetTokenTTL
	}
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = def.DefaultListLimit
	}

	m := &Manager{
		users:  deps.Users,
		tokens: deps.Tokens,
		hasher: deps.Hasher,
		codec:  deps.Codec,
		cfg:    cfg,
		events: deps.Events,
		mailer: deps.Mailer,
		now:    deps.Now,
	}
	if m.events == nil {
		m.events = nopSink{}
	}
	if m.mailer == nil {
		m.mailer = nopMailer{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// RegisterInput is the data needed to open an account.
type RegisterInput struct {
	Email       string
	Username    string
	Password    string
	DisplayName string
	IP          string
	UserAgent   string
}

// RegisterResult is the created account and a message for the client.
type RegisterResult struct {
	User    *User  `json:"user"`
	Message string `json:"message"`
}

// Register validates the input, rejects duplicates and creates a
// PENDING_VERIFICATION account. No session is issued.
func (m *Manager) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := normaliseEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	displayName := strings.TrimSpace(in.DisplayName)

	var problems []string
	problems = append(problems, ValidateEmail(email)...)
	problems = append(problems, ValidateUsername(username)...)
	problems = append(problems, ValidatePassword(in.Password)...)
	problems = append(problems, validateDisplayName(displayName)...)
	if len(problems) > 0 {
		return nil, newValidationError("Validation failed", problems...)
	}

	exists, err := m.users.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, newConflictError("Email is already registered")
	}
	exists, err = m.users.UsernameExists(ctx, username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, newConflictError("Username is already taken")
	}

	hash, err := m.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	verification, err := generateOneTimeToken()
	if err != nil {
		return nil, err
	}

	if displayName == "" {
		displayName = username
	}
	user := &User{
		Email:                 email,
		Username:              username,
		DisplayName:           displayName,
		PasswordHash:          hash,
		Role:                  RoleUser,
		Status:                StatusPending,
		VerificationTokenHash: HashToken(verification),
		CreatedAt:             m.now().UTC(),
	}
	if err := m.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, ErrEmailExists):
			return nil, newConflictError("Email is already registered")
		case errors.Is(err, ErrUsernameExists):
			return nil, newConflictError("Username is already taken")
		}
		return nil, err
	}

	details := map[string]any{"username": user.Username}
	if err := m.mailer.SendVerification(ctx, user, verification); err != nil {
		details["delivery_failed"] = true
	}
	m.emit(ctx, SecurityEvent{Type: EventRegistered, UserID: user.ID, IP: in.IP, UserAgent: in.UserAgent, Details: details})

	return &RegisterResult{User: user, Message: msgRegistered}, nil
}

// LoginInput carries credentials and the client's diagnostic fingerprint.
type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IP        string
}

// Login authenticates by e-mail and password and opens a session.
//
// A locked account is rejected before the password is compared. A wrong
// password counts toward lockout. Status is checked only after the
// password matches.
func (m *Manager) Login(ctx context.Context, in LoginInput) (*Session, error) {
	now := m.now()

	user, err := m.users.GetByEmail(ctx, normaliseEmail(in.Email))
	if errors.Is(err, ErrUserNotFound) {
		m.emit(ctx, SecurityEvent{Type: EventLoginFailed, IP: in.IP, UserAgent: in.UserAgent,
			Details: map[string]any{"reason": "unknown_email"}})
		return nil, newAuthenticationError(msgInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}

	if user.IsLocked(now) {
		minutes := int(math.Ceil(user.LockedUntil.Sub(now).Minutes()))
		m.emit(ctx, SecurityEvent{Type: EventLoginRejected, UserID: user.ID, IP: in.IP, UserAgent: in.UserAgent,
			Details: map[string]any{"reason": "locked"}})
		return nil, newAuthenticationError(fmt.Sprintf(
			"Account is temporarily locked due to too many failed login attempts. Try again in %d minute%s",
			minutes, plural(minutes)))
	}

	ok, err := m.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := m.recordFailure(ctx, user, in, now); err != nil {
			return nil, err
		}
		return nil, newAuthenticationError(msgInvalidCredentials)
	}

	if user.Status.Blocked() {
		return nil, m.rejectBlocked(ctx, user.ID, user.Status, in)
	}

	// The password check is slow; a moderator may have blocked the
	// account meanwhile. RecordLogin only succeeds for an unblocked account.
	if err := m.users.RecordLogin(ctx, user.ID, in.IP, now); err != nil {
		if errors.Is(err, ErrUserBlocked) {
			return nil, m.rejectBlockedNow(ctx, user.ID, in)
		}
		return nil, err
	}
	user.FailedLoginCount = 0
	user.LockedUntil = nil
	lastLogin := now.UTC()
	user.LastLoginAt = &lastLogin

	session, err := m.openSession(ctx, user, in.UserAgent, in.IP, now)
	if err != nil {
		return nil, err
	}

	// A block that lands between RecordLogin and the token insert has
	// already run its revocation, so withdraw the new token here.
	current, err := m.users.GetByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if current.Status.Blocked() {
		if _, err := m.tokens.Revoke(ctx, HashToken(session.RefreshToken), "", now); err != nil {
			return nil, err
		}
		return nil, m.rejectBlocked(ctx, user.ID, current.Status, in)
	}

	m.emit(ctx, SecurityEvent{Type: EventLoginSucceeded, UserID: user.ID, IP: in.IP, UserAgent: in.UserAgent})
	return session, nil
}

// rejectBlocked records a login refused because of status and returns
// the error naming it.
func (m *Manager) rejectBlocked(ctx context.Context, userID string, status Status, in LoginInput) error {
	m.emit(ctx, SecurityEvent{Type: EventLoginRejected, UserID: userID, IP: in.IP, UserAgent: in.UserAgent,
		Details: map[string]any{"reason": strings.ToLower(string(status))}})
	return newAuthenticationError(fmt.Sprintf("Account is %s", strings.ToLower(string(status))))
}

// rejectBlockedNow re-reads the status before rejecting.
func (m *Manager) rejectBlockedNow(ctx context.Context, userID string, in LoginInput) error {
	current, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !current.Status.Blocked() {
		// Lifted again in the meantime; let the client retry.
		return newAuthenticationError(msgAccountNotActive)
	}
	return m.rejectBlocked(ctx, userID, current.Status, in)
}

// recordFailure bumps the failure counter and locks the account once it
// reaches the configured threshold.
func (m *Manager) recordFailure(ctx context.Context, user *User, in LoginInput, now time.Time) error {
	count, err := m.users.IncrementFailedLogins(ctx, user.ID)
	if err != nil {
		return err
	}
	m.emit(ctx, SecurityEvent{Type: EventLoginFailed, UserID: user.ID, IP: in.IP, UserAgent: in.UserAgent,
		Details: map[string]any{"reason": "bad_password", "failed_count": count}})

	if count < m.cfg.MaxFailedLogins {
		return nil
	}
	until := now.Add(m.cfg.LockoutDuration)
	if err := m.users.Lock(ctx, user.ID, until); err != nil {
		return err
	}
	m.emit(ctx, SecurityEvent{Type: EventAccountLocked, UserID: user.ID, IP: in.IP, UserAgent: in.UserAgent,
		Details: map[string]any{"locked_until": until.UTC()}})
	return nil
}

// Refresh exchanges a live refresh token for a new pair and revokes the
// presented one. Presenting a token that is already revoked is treated as
// theft: every live session of its owner is revoked.
func (m *Manager) Refresh(ctx context.Context, raw, userAgent, ip string) (*Session, error) {
	if raw == "" {
		return nil, newAuthenticationError(msgRefreshRequired)
	}
	now := m.now()
	oldHash := HashToken(raw)

	stored, err := m.tokens.GetByHash(ctx, oldHash)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, newAuthenticationError(msgInvalidRefreshToken)
	}
	if err != nil {
		return nil, err
	}

	if stored.Revoked() {
		return nil, m.handleReuse(ctx, stored.UserID, userAgent, ip, now)
	}
	if stored.Expired(now) {
		return nil, newAuthenticationError(msgRefreshExpired)
	}

	user, err := m.users.GetByID(ctx, stored.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, newAuthenticationError(msgAccountNotActive)
	}
	if err != nil {
		return nil, err
	}
	if user.Status.Blocked() {
		return nil, newAuthenticationError(msgAccountNotActive)
	}

	access, accessExp, err := m.codec.Issue(user)
	if err != nil {
		return nil, err
	}
	nextRaw, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	next := &RefreshToken{
		TokenHash: HashToken(nextRaw),
		UserID:    user.ID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: now.Add(m.cfg.RefreshTokenTTL),
		CreatedAt: now.UTC(),
	}

	if err := m.tokens.Rotate(ctx, oldHash, next, now); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return nil, m.handleReuse(ctx, stored.UserID, userAgent, ip, now)
		}
		return nil, err
	}

	current, err := m.users.GetByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if current.Status.Blocked() {
		if _, err := m.tokens.Revoke(ctx, next.TokenHash, "", now); err != nil {
			return nil, err
		}
		return nil, newAuthenticationError(msgAccountNotActive)
	}

	m.emit(ctx, SecurityEvent{Type: EventTokenRefreshed, UserID: user.ID, IP: ip, UserAgent: userAgent})
	return &Session{
		User:                  user,
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          nextRaw,
		RefreshTokenExpiresAt: next.ExpiresAt,
	}, nil
}

// handleReuse revokes every live token of userID and returns the error the
// caller must surface. Revocation happens before the error is returned.
func (m *Manager) handleReuse(ctx context.Context, userID, userAgent, ip string, now time.Time) error {
	n, err := m.tokens.RevokeAllForUser(ctx, userID, now)
	if err != nil {
		return err
	}
	m.emit(ctx, SecurityEvent{Type: EventTokenReuse, UserID: userID, IP: ip, UserAgent: userAgent,
		Details: map[string]any{"revoked_sessions": n}})
	return newAuthenticationError(msgTokenRevoked)
}

// Logout revokes the given refresh token. Unknown, empty or already
// revoked tokens are not an error.
func (m *Manager) Logout(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	hash := HashToken(raw)

	stored, err := m.tokens.GetByHash(ctx, hash)
	if errors.Is(err, ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	revoked, err := m.tokens.Revoke(ctx, hash, "", m.now())
	if err != nil {
		return err
	}
	if revoked {
		m.emit(ctx, SecurityEvent{Type: EventLogout, UserID: stored.UserID})
	}
	return nil
}

// LogoutAll revokes every live session of userID.
func (m *Manager) LogoutAll(ctx context.Context, userID string) error {
	n, err := m.tokens.RevokeAllForUser(ctx, userID, m.now())
	if err != nil {
		return err
	}
	m.emit(ctx, SecurityEvent{Type: EventLogoutAll, UserID: userID, Details: map[string]any{"revoked_sessions": n}})
	return nil
}

// ChangePassword re-checks the current password, stores the new one and
// ends every session of the user.
func (m *Manager) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := m.users.GetByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return newNotFoundError(msgUserNotFound)
	}
	if err != nil {
		return err
	}

	ok, err := m.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return newAuthenticationError("Current password is incorrect")
	}

	if problems := ValidatePassword(next); len(problems) > 0 {
		return newValidationError("Validation failed", problems...)
	}

	if err := m.setPassword(ctx, user.ID, next); err != nil {
		return err
	}
	m.emit(ctx, SecurityEvent{Type: EventPasswordChanged, UserID: user.ID})
	return nil
}

// RequestPasswordReset issues a 1-hour reset token when the address
// belongs to an account. The returned message is the same either way.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := m.users.GetByEmail(ctx, normaliseEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return msgResetRequested, nil
	}
	if err != nil {
		return "", err
	}

	raw, err := generateOneTimeToken()
	if err != nil {
		return "", err
	}
	hash := HashToken(raw)
	expires := m.now().Add(m.cfg.ResetTokenTTL)
	if _, err := m.users.Update(ctx, user.ID, UserUpdate{
		ResetTokenHash:      &hash,
		ResetTokenExpiresAt: &expires,
	}); err != nil {
		return "", err
	}

	details := map[string]any{}
	if err := m.mailer.SendPasswordReset(ctx, user, raw); err != nil {
		details["delivery_failed"] = true
	}
	m.emit(ctx, SecurityEvent{Type: EventPasswordResetRequested, UserID: user.ID, Details: details})
	return msgResetRequested, nil
}

// ResetPassword consumes a reset token, sets the new password, clears
// lockout state and ends every session of the user.
func (m *Manager) ResetPassword(ctx context.Context, token, next string) error {
	if problems := ValidatePassword(next); len(problems) > 0 {
		return newValidationError("Validation failed", problems...)
	}
	if token == "" {
		return newValidationError(msgInvalidReset)
	}

	user, err := m.users.GetByResetToken(ctx, HashToken(token))
	if errors.Is(err, ErrUserNotFound) {
		return newValidationError(msgInvalidReset)
	}
	if err != nil {
		return err
	}
	if user.ResetTokenExpiresAt == nil || !user.ResetTokenExpiresAt.After(m.now()) {
		return newValidationError(msgInvalidReset)
	}

	if err := m.setPassword(ctx, user.ID, next); err != nil {
		return err
	}
	m.emit(ctx, SecurityEvent{Type: EventPasswordReset, UserID: user.ID})
	return nil
}

// setPassword hashes and stores a new password, then revokes all sessions.
func (m *Manager) setPassword(ctx context.Context, userID, password string) error {
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := m.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	_, err = m.tokens.RevokeAllForUser(ctx, userID, m.now())
	return err
}

// VerifyEmail consumes a verification token and activates a pending
// account. Suspended or banned accounts keep their status.
func (m *Manager) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return newValidationError(msgInvalidVerification)
	}

	user, err := m.users.GetByVerificationToken(ctx, HashToken(token))
	if errors.Is(err, ErrUserNotFound) {
		return newValidationError(msgInvalidVerification)
	}
	if err != nil {
		return err
	}

	verified := true
	cleared := ""
	upd := UserUpdate{EmailVerified: &verified, VerificationTokenHash: &cleared}
	if user.Status == StatusPending {
		active := StatusActive
		upd.Status = &active
	}
	if _, err := m.users.Update(ctx, user.ID, upd); err != nil {
		return err
	}
	m.emit(ctx, SecurityEvent{Type: EventEmailVerified, UserID: user.ID})
	return nil
}

// ActiveSessions lists the user's live refresh tokens.
func (m *Manager) ActiveSessions(ctx context.Context, userID string) ([]RefreshToken, error) {
	return m.tokens.ListActiveByUser(ctx, userID, m.now())
}

// SweepExpired deletes expired ledger rows and returns how many went.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	return m.tokens.DeleteExpired(ctx, m.now())
}

// Me returns the current state of the caller's account.
func (m *Manager) Me(ctx context.Context, userID string) (*User, error) {
	user, err := m.users.GetByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, newNotFoundError(msgUserNotFound)
	}
	return user, err
}

// ListUsers returns a page of accounts and the total count.
func (m *Manager) ListUsers(ctx context.Context, limit, offset int) ([]User, int, error) {
	if limit <= 0 || limit > 200 { //nolint:mnd // max page size
		limit = m.cfg.DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	users, err := m.users.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := m.users.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// openSession issues an access token and a fresh refresh token for user.
func (m *Manager) openSession(ctx context.Context, user *User, userAgent, ip string, now time.Time) (*Session, error) {
	access, accessExp, err := m.codec.Issue(user)
	if err != nil {
		return nil, err
	}
	raw, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	rt := &RefreshToken{
		TokenHash: HashToken(raw),
		UserID:    user.ID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: now.Add(m.cfg.RefreshTokenTTL),
		CreatedAt: now.UTC(),
	}
	if err := m.tokens.Create(ctx, rt); err != nil {
		return nil, err
	}
	return &Session{
		User:                  user,
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          raw,
		RefreshTokenExpiresAt: rt.ExpiresAt,
	}, nil
}

func (m *Manager) emit(ctx context.Context, ev SecurityEvent) {
	if ev.At.IsZero() {
		ev.At = m.now().UTC()
	}
	m.events.Emit(ctx, ev)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
