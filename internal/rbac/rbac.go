package rbac

import "docgate/api/internal/auth"

type Role string

const (
	RoleDeveloper  Role = "developer"
	RoleAdmin      Role = "admin"
	RoleAuthor     Role = "author"
	RoleIdentified Role = "identified"
	RoleAnonymous  Role = "anonymous"
)

// Roles is the fixed column order used by permission tables.
var Roles = []Role{RoleAdmin, RoleAuthor, RoleIdentified, RoleAnonymous}

const (
	AdminDatabase   = "Admin"
	AccessModes     = "AccessModes"
	AccessUsers     = "AccessUsers"
	Developers      = "Developers"
	Schemas         = "Schemas"
	AllCollections  = "*"
	reservedAdminDB = "admin"
)

// ResolveRole picks the effective role of a user. developerRole comes from
// the Developers collection and memberRole from AccessUsers; either may be
// empty. AccessUsers cannot grant the developer role.
func ResolveRole(user, developerRole, memberRole string) Role {
	switch {
	case user == "":
		return RoleAnonymous
	case developerRole != "":
		return Role(developerRole)
	case memberRole != "" && Role(memberRole) != RoleDeveloper:
		return Role(memberRole)
	default:
		return RoleIdentified
	}
}

// GrantRequest describes one authorization endpoint call.
type GrantRequest struct {
	Database   string
	Collection string
	User       string
	Role       Role
	Requested  auth.Mode
	// Permission is the AccessModes entry for (role, database, collection),
	// meaningful only when HasPermission is set.
	Permission    string
	HasPermission bool
	Superuser     string
}

// Grant returns the mode a key is issued with. The result is always a
// subset of the requested mode.
func Grant(req GrantRequest) auth.Mode {
	requested := auth.NewMode(string(req.Requested))
	if req.Collection == AllCollections {
		requested = requested.Intersect(auth.DatabaseSet)
	} else {
		requested = requested.Intersect(auth.CollectionSet)
	}

	var permission auth.Mode
	switch {
	case req.Database == reservedAdminDB:
		permission = ""
	case req.Database == AdminDatabase && req.Collection == Developers:
		if req.Role == RoleDeveloper && req.Superuser != "" && req.User == req.Superuser {
			permission = requested
		}
	case req.Database == AdminDatabase && req.Collection == AccessUsers:
		if req.Role == RoleDeveloper || req.Role == RoleAdmin {
			permission = requested
		}
	case req.HasPermission:
		permission = auth.Mode(req.Permission)
	case req.Role == RoleDeveloper:
		permission = requested
	}
	return requested.Intersect(permission)
}
