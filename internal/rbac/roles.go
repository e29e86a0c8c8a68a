package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"   // a customer running campaigns against their own balance
	RoleSupport    = "support" // read-only access across owners
	RoleFinance    = "finance" // may trigger settlement and sweeps
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// CanReadAcrossOwners reports whether role may read records owned by other users.
func CanReadAcrossOwners(role string) bool {
	switch role {
	case RoleSupport, RoleFinance, RoleSuperAdmin:
		return true
	default:
		return false
	}
}
