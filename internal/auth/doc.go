// Package auth provides the forum's session lifecycle and authorisation.
//
// Manager handles registration, login with lockout, refresh-token rotation
// with reuse detection, logout, password change and reset, and e-mail
// verification. It depends only on the CredentialStore, TokenLedger,
// PasswordHasher and AccessTokenCodec interfaces passed to NewManager, and
// reports security events through an EventSink instead of logging.
//
// Refresh tokens are opaque random strings stored as SHA-256 hashes. Each
// refresh revokes the presented token and issues a new one inside a single
// ledger transaction; presenting a revoked token revokes every session of
// its owner.
//
// Authorisation is a static role ladder (USER < MODERATOR < ADMIN) and a
// permission table checked by RequireRole, RequireMinimumRole and
// RequirePermission. Failures are *Error values whose Kind matches
// ErrValidation, ErrAuthentication, ErrAuthorization, ErrConflict or
// ErrNotFound.
package auth
