package auth

// Admin role constants.
const (
	RoleViewer     = "viewer"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// AllAdminRoles returns all valid admin roles.
func AllAdminRoles() []string {
	return []string{RoleViewer, RoleAdmin, RoleSuperAdmin}
}

// PayoutRoles returns the roles allowed to record commission payouts.
func PayoutRoles() []string {
	return []string{RoleAdmin, RoleSuperAdmin}
}

// AffiliateSuspended is the affiliate status that blocks access to the ledger.
const AffiliateSuspended = "suspended"
