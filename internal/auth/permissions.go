package auth

// Permission represents a named capability in the control plane.
type Permission string

// Permission constants.
const (
	PermCtlRead   Permission = "ctl:read"
	PermCtlWrite  Permission = "ctl:write"
	PermAuditRead Permission = "audit:read"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermCtlRead},
	RoleOperator: {PermCtlRead, PermCtlWrite},
	RoleAdmin:    {PermCtlRead, PermCtlWrite, PermAuditRead},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to role.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
