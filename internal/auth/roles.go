package auth

import (
	"slices"

	"github.com/google/uuid"
)

// Role is a member's role inside a tenant.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleMember  Role = "member"
	RoleService Role = "service"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleService:
		return true
	}
	return false
}

// AutomationManagers may reach the automation screens and endpoints.
var AutomationManagers = []Role{RoleOwner, RoleAdmin}

// RelayCallers may use the relay: managers testing rules and the scheduler's
// service sessions.
var RelayCallers = []Role{RoleOwner, RoleAdmin, RoleService}

// Member is the authenticated caller.
type Member struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role
}

// Decision is the outcome of Guard.
type Decision int

const (
	Redirect Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "redirect"
}

// Guard allows member when its role is one of required. A zero Member
// (no session) is always redirected.
func Guard(required []Role, member Member) Decision {
	if member.TenantID == uuid.Nil || !member.Role.Valid() {
		return Redirect
	}
	if slices.Contains(required, member.Role) {
		return Allow
	}
	return Redirect
}
