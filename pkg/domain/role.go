package domain

import (
	dErrors "civicwatch/pkg/domain-errors"
)

// Role is the capability carried by a resolved session.
type Role string

const (
	RoleCitizen    Role = "CITIZEN"
	RoleOfficial   Role = "OFFICIAL"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCitizen, RoleOfficial, RoleSuperAdmin:
		return r, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+s)
	}
}

// IsStaff reports whether the role may act on cases it does not own.
func (r Role) IsStaff() bool {
	return r == RoleOfficial || r == RoleSuperAdmin
}

// Actor is the resolved caller identity. Core operations take it as an
// explicit argument instead of reading it from ambient state.
type Actor struct {
	ID   UserID
	Role Role
}

// Valid reports whether the actor carries a usable identity.
func (a Actor) Valid() bool {
	if a.ID.IsNil() {
		return false
	}
	_, err := ParseRole(string(a.Role))
	return err == nil
}
