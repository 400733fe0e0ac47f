package workflow

import "strings"

// Role is the closed set of organizational roles an Actor can hold.
type Role string

const (
	RoleEmployee       Role = "employee"
	RoleSectionManager Role = "section_manager"
	RoleManager        Role = "manager"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleEmployee, RoleSectionManager, RoleManager:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// ParseRole maps an identity claim onto a Role. Unknown values are rejected
// instead of being defaulted to a lower privilege.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.IsValid()
}

// AllRoles returns the roles in ascending order of authority.
func AllRoles() []Role {
	return []Role{RoleEmployee, RoleSectionManager, RoleManager}
}

// Actor is the authenticated caller of an engine operation. It is derived
// per call from the identity provider and never persisted.
type Actor struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Role       Role   `json:"role"`
	Department string `json:"department"`
}

// IsValid reports whether the actor can be scoped: it needs an id, a known
// role, and a department when the role is limited to one.
func (a Actor) IsValid() bool {
	if a.ID == "" || !a.Role.IsValid() {
		return false
	}
	return a.Role != RoleSectionManager || strings.TrimSpace(a.Department) != ""
}

// IsApprover reports whether the actor's role appears on any edge of the
// default policy table.
func (a Actor) IsApprover() bool {
	return defaultPolicy.Grants(a.Role)
}
