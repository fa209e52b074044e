package models

import "fmt"

type Role string

const (
	RoleUser   Role = "user"
	RoleHoster Role = "hoster"
	RoleAdmin  Role = "admin"
)

// ParseRole rejects unknown role strings at the boundary.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleHoster, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Elevated reports whether the role may validate and redeem tickets and
// read orders it does not own.
func (r Role) Elevated() bool {
	return r == RoleHoster || r == RoleAdmin
}

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}
