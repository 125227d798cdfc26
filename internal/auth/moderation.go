package auth

import (
	"context"
	"errors"
)

// SetRole changes target's role on behalf of actor. The actor needs
// user:role, may not act on themselves, must outrank the target and may
// not grant a role above their own.
func (m *Manager) SetRole(ctx context.Context, actor Identity, targetID string, role Role) (*User, error) {
	if !role.IsValid() {
		return nil, newValidationError("Validation failed", "Role must be one of USER, MODERATOR, ADMIN")
	}
	if err := RequirePermission(actor.Role, PermUserRole); err != nil {
		return nil, err
	}
	if actor.UserID == targetID {
		return nil, newAuthorizationError("You cannot change your own role")
	}

	target, err := m.moderationTarget(ctx, actor, targetID)
	if err != nil {
		return nil, err
	}
	if roleRank(role) > roleRank(actor.Role) {
		return nil, newAuthorizationError("You cannot grant a role above your own")
	}
	if target.Role == role {
		return target, nil
	}

	updated, err := m.users.Update(ctx, target.ID, UserUpdate{Role: &role})
	if err != nil {
		return nil, err
	}
	m.emit(ctx, SecurityEvent{Type: EventRoleChanged, UserID: target.ID, ActorID: actor.UserID,
		Details: map[string]any{"from": string(target.Role), "to": string(role)}})
	return updated, nil
}

// SetStatus suspends, bans or reinstates target on behalf of actor.
// Suspending needs user:suspend, banning needs user:ban, and lifting a
// status needs the permission that imposed it. Suspending or banning ends
// every session of the target.
func (m *Manager) SetStatus(ctx context.Context, actor Identity, targetID string, status Status) (*User, error) {
	if status != StatusActive && status != StatusSuspended && status != StatusBanned {
		return nil, newValidationError("Validation failed", "Status must be one of ACTIVE, SUSPENDED, BANNED")
	}
	if err := RequirePermission(actor.Role, statusPermission(status)); err != nil {
		return nil, err
	}
	if actor.UserID == targetID {
		return nil, newAuthorizationError("You cannot change your own status")
	}

	target, err := m.moderationTarget(ctx, actor, targetID)
	if err != nil {
		return nil, err
	}
	if target.Status == status {
		return target, nil
	}
	if status == StatusActive && target.Status.Blocked() {
		if err := RequirePermission(actor.Role, statusPermission(target.Status)); err != nil {
			return nil, err
		}
	}

	updated, err := m.users.Update(ctx, target.ID, UserUpdate{Status: &status})
	if err != nil {
		return nil, err
	}

	details := map[string]any{"from": string(target.Status), "to": string(status)}
	if status.Blocked() {
		n, err := m.tokens.RevokeAllForUser(ctx, target.ID, m.now())
		if err != nil {
			return nil, err
		}
		details["revoked_sessions"] = n
	}
	m.emit(ctx, SecurityEvent{Type: EventStatusChanged, UserID: target.ID, ActorID: actor.UserID, Details: details})
	return updated, nil
}

// moderationTarget loads targetID and checks that actor strictly outranks it.
func (m *Manager) moderationTarget(ctx context.Context, actor Identity, targetID string) (*User, error) {
	target, err := m.users.GetByID(ctx, targetID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, newNotFoundError(msgUserNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !IsHigherRole(actor.Role, target.Role) {
		return nil, newAuthorizationError("You can only moderate users with a lower role")
	}
	return target, nil
}

func statusPermission(s Status) Permission {
	if s == StatusBanned {
		return PermUserBan
	}
	return PermUserSuspend
}
