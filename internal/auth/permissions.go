package auth

// Permission names a guarded action.
type Permission string

// Permission constants.
const (
	PermTopicCreate    Permission = "topic:create"
	PermTopicPin       Permission = "topic:pin"
	PermTopicLock      Permission = "topic:lock"
	PermTopicDeleteAny Permission = "topic:delete:any"
	PermPostEditAny    Permission = "post:edit:any"
	PermPostDeleteAny  Permission = "post:delete:any"
	PermTagManage      Permission = "tag:manage"
	PermCategoryManage Permission = "category:manage"
	PermMenuManage     Permission = "menu:manage"
	PermAdManage       Permission = "ad:manage"
	PermUserSuspend    Permission = "user:suspend"
	PermUserBan        Permission = "user:ban"
	PermUserRole       Permission = "user:role"
	PermReportReview   Permission = "report:review"
	PermAuditRead      Permission = "audit:read"
)

var (
	everyone  = []Role{RoleUser, RoleModerator, RoleAdmin}
	staff     = []Role{RoleModerator, RoleAdmin}
	adminOnly = []Role{RoleAdmin}
)

// permissionRoles maps each permission to the roles allowed to use it.
// This table is the single source of truth for authorisation.
var permissionRoles = map[Permission][]Role{
	PermTopicCreate:    everyone,
	PermTopicPin:       staff,
	PermTopicLock:      staff,
	PermTopicDeleteAny: staff,
	PermPostEditAny:    staff,
	PermPostDeleteAny:  staff,
	PermTagManage:      staff,
	PermReportReview:   staff,
	PermUserSuspend:    staff,
	PermCategoryManage: adminOnly,
	PermMenuManage:     adminOnly,
	PermAdManage:       adminOnly,
	PermUserBan:        adminOnly,
	PermUserRole:       adminOnly,
	PermAuditRead:      adminOnly,
}

// roleRank orders roles; unknown roles rank below everything.
func roleRank(r Role) int {
	switch r {
	case RoleUser:
		return 0
	case RoleModerator:
		return 1
	case RoleAdmin:
		return 2 //nolint:mnd // top of the ladder
	}
	return -1
}

// RequireRole passes only when role is one of allowed.
func RequireRole(role Role, allowed ...Role) error {
	for _, a := range allowed {
		if role == a {
			return nil
		}
	}
	return newAuthorizationError(msgInsufficientRole)
}

// RequireMinimumRole passes when role ranks at or above minimum.
func RequireMinimumRole(role, minimum Role) error {
	if !role.IsValid() || roleRank(role) < roleRank(minimum) {
		return newAuthorizationError(msgInsufficientRole)
	}
	return nil
}

// RequirePermission passes when role may use perm. An unknown permission
// always fails.
func RequirePermission(role Role, perm Permission) error {
	roles, ok := permissionRoles[perm]
	if !ok {
		return newAuthorizationError(msgInvalidPermission)
	}
	return RequireRole(role, roles...)
}

// HasPermission reports whether role may use perm.
func HasPermission(role Role, perm Permission) bool {
	return RequirePermission(role, perm) == nil
}

// IsHigherRole reports whether a strictly outranks b.
func IsHigherRole(a, b Role) bool {
	return a.IsValid() && roleRank(a) > roleRank(b)
}

// PermissionsForRole returns every permission granted to role.
func PermissionsForRole(role Role) []Permission {
	var perms []Permission
	for perm, roles := range permissionRoles {
		for _, r := range roles {
			if r == role {
				perms = append(perms, perm)
				break
			}
		}
	}
	return perms
}
