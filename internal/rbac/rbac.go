package rbac

type Role string
type Action string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

const (
	ActionReadSuggestions   Action = "suggestions:read"
	ActionWriteSuggestions  Action = "suggestions:write"
	ActionReadDashboard     Action = "dashboard:read"
	ActionManageDepartments Action = "departments:manage"
	ActionManageStaff       Action = "staff:manage"
)

// Can is the operation gate. Department scoping of suggestion access is
// separate, see Scope.
func Can(role Role, action Action) bool {
	switch role {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return action == ActionReadSuggestions || action == ActionWriteSuggestions || action == ActionReadDashboard
	default:
		return false
	}
}

// Normalize maps unknown roles to the least privileged one.
func Normalize(role string) Role {
	if parsed, ok := Parse(role); ok {
		return parsed
	}
	return RoleAdmin
}

func Parse(role string) (Role, bool) {
	switch Role(role) {
	case RoleAdmin, RoleSuperAdmin:
		return Role(role), true
	default:
		return "", false
	}
}
