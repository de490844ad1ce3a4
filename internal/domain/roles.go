// Package domain defines shared domain constants, records and storage contracts.
package domain

import "strings"

const (
	// RoleUser represents a standard user with no elevated privileges.
	RoleUser = "user"
	// RoleAdmin represents a group administrator.
	RoleAdmin = "admin"
	// RoleOwner represents a bot owner added by the real owner.
	RoleOwner = "owner"
	// RoleRealOwner represents the configured real owner; it always wins.
	RoleRealOwner = "real_owner"
)

// Role levels, strictly increasing with privilege.
const (
	RoleLevelUser      = 1
	RoleLevelAdmin     = 2
	RoleLevelOwner     = 3
	RoleLevelRealOwner = 4
)

// Roles lists every role from least to most privileged.
var Roles = []string{RoleUser, RoleAdmin, RoleOwner, RoleRealOwner}

// RoleLevel returns the integer level of role, or 0 when the role is unknown.
func RoleLevel(role string) int {
	switch role {
	case RoleUser:
		return RoleLevelUser
	case RoleAdmin:
		return RoleLevelAdmin
	case RoleOwner:
		return RoleLevelOwner
	case RoleRealOwner:
		return RoleLevelRealOwner
	default:
		return 0
	}
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	return RoleLevel(role) > 0
}

// ParseRole normalizes user input ("Admin", " owner ") into a role.
func ParseRole(raw string) (string, bool) {
	role := strings.ToLower(strings.TrimSpace(raw))
	role = strings.ReplaceAll(role, "-", "_")
	return role, ValidRole(role)
}
