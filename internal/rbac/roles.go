package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleMember     = "member"
	RoleViewer     = "viewer"
	RoleSuperAdmin = "super_admin" // platform staff
)

// Managers may change lines, forwarding and whisper settings.
var Managers = []string{RoleOwner, RoleAdmin}

// Readers may view call history and projections.
var Readers = []string{RoleOwner, RoleAdmin, RoleMember, RoleViewer}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
