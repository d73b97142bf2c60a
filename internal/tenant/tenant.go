package tenant

import "github.com/bwmarrin/snowflake"

// Role is the caller's membership role inside an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	default:
		return false
	}
}

// Elevated reports whether the role may perform administrative operations
// such as deleting tasks or reshaping boards.
func (r Role) Elevated() bool {
	return r == RoleOwner || r == RoleAdmin
}

// CanWrite reports whether the role may mutate board content at all.
func (r Role) CanWrite() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleMember
}

// Context identifies the caller for a single operation. Services take it as
// an explicit parameter; request contexts only carry copies for logging and
// never stand in for it.
type Context struct {
	OrgID     snowflake.ID
	ProjectID snowflake.ID
	UserID    snowflake.ID
	Role      Role
}

func (c Context) Valid() bool {
	return c.OrgID != 0 && c.UserID != 0 && c.Role.Valid()
}
