package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermIdentityRead  Permission = "identity:read"
	PermUserInvite    Permission = "user:invite"
	PermUserManageAll Permission = "user:manage:all"
	PermGatewayManage Permission = "gateway:manage"
	PermAuditRead     Permission = "audit:read"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
// Organization scoping of org_admin is enforced by the service.
var rolePermissions = map[Role][]Permission{
	RoleOrgUser: {
		PermIdentityRead,
	},
	RoleOrgAdmin: {
		PermIdentityRead,
		PermUserInvite,
	},
	RoleSysAdmin: {
		PermIdentityRead,
		PermUserInvite,
		PermUserManageAll,
		PermGatewayManage,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// RolesWith returns the roles granted perm, for route guards.
func RolesWith(perm Permission) []Role {
	var roles []Role
	for _, r := range ValidRoles {
		if HasPermission(r, perm) {
			roles = append(roles, r)
		}
	}
	return roles
}
