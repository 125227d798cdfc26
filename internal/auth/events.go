package auth

import (
	"context"
	"time"
)

// EventType names a security-relevant occurrence.
type EventType string

const (
	EventRegistered             EventType = "register"
	EventLoginSucceeded         EventType = "login"
	EventLoginFailed            EventType = "login_failed"
	EventLoginRejected          EventType = "login_rejected"
	EventAccountLocked          EventType = "account_locked"
	EventTokenRefreshed         EventType = "token_refreshed"
	EventTokenReuse             EventType = "token_reuse"
	EventLogout                 EventType = "logout"
	EventLogoutAll              EventType = "logout_all"
	EventPasswordChanged        EventType = "password_changed"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordReset          EventType = "password_reset"
	EventEmailVerified          EventType = "email_verified"
	EventRoleChanged            EventType = "role_changed"
	EventStatusChanged          EventType = "status_changed"
)

// SecurityEvent describes something the audit trail and monitoring care
// about. UserID is the subject account; ActorID is set when someone else
// acted on it.
type SecurityEvent struct {
	Type      EventType      `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	At        time.Time      `json:"at"`
	Details   map[string]any `json:"details,omitempty"`
}

// EventSink receives security events. Emit must not block for long and
// has no way to fail the operation that produced the event.
type EventSink interface {
	Emit(ctx context.Context, ev SecurityEvent)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev SecurityEvent)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev SecurityEvent) { f(ctx, ev) }

type nopSink struct{}

func (nopSink) Emit(context.Context, SecurityEvent) {}

// Mailer delivers one-time tokens to account holders. Delivery itself is
// outside the forum core; the default does nothing.
type Mailer interface {
	SendVerification(ctx context.Context, user *User, token string) error
	SendPasswordReset(ctx context.Context, user *User, token string) error
}

type nopMailer struct{}

func (nopMailer) SendVerification(context.Context, *User, string) error  { return nil }
func (nopMailer) SendPasswordReset(context.Context, *User, string) error { return nil }
