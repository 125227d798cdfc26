package auth

import (
	"errors"
	"strings"
)

// Error kinds. Match them with errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrAuthentication = errors.New("authentication error")
	ErrAuthorization  = errors.New("authorization error")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
)

// Error is a failure the caller can show to the user. Message is safe to
// display; Details lists individual field problems for validation errors.
type Error struct {
	Kind    error
	Message string
	Details []string
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

// Unwrap exposes the kind so errors.Is(err, ErrAuthentication) works.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newValidationError(msg string, details ...string) *Error {
	return &Error{Kind: ErrValidation, Message: msg, Details: details}
}

func newAuthenticationError(msg string) *Error {
	return &Error{Kind: ErrAuthentication, Message: msg}
}

func newAuthorizationError(msg string) *Error {
	return &Error{Kind: ErrAuthorization, Message: msg}
}

func newConflictError(msg string) *Error {
	return &Error{Kind: ErrConflict, Message: msg}
}

func newNotFoundError(msg string) *Error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

// User-facing messages shared between operations.
const (
	msgInvalidCredentials  = "Invalid email or password"
	msgInvalidRefreshToken = "Invalid refresh token"
	msgTokenRevoked        = "Token has been revoked"
	msgRefreshExpired      = "Refresh token expired"
	msgRefreshRequired     = "Refresh token required"
	msgAccountNotActive    = "Account is not active"
	msgInvalidVerification = "Invalid or expired verification token"
	msgInvalidReset        = "Invalid or expired reset token"
	msgResetRequested      = "If an account with that email exists, a password reset link has been sent"
	msgRegistered          = "Registration successful. Please check your email to verify your account"
	msgInsufficientRole    = "Insufficient permissions"
	msgInvalidPermission   = "Invalid permission"
	msgUserNotFound        = "User not found"
)
