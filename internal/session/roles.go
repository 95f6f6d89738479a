package session

import (
	"strings"

	"github.com/sitegate/pkg/models"
)

// Role constants
const (
	RoleUser   = "user"
	RoleAuthor = "author"
	RoleAdmin  = "admin"
)

// adminAliases are the role names the API uses for administrators
var adminAliases = []string{"admin", "role.admin", "superuser"}

// IsAdminRole reports whether name is one of the administrator role names
func IsAdminRole(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, alias := range adminAliases {
		if name == alias {
			return true
		}
	}
	return false
}

// GetRoleHierarchy returns the role hierarchy level (higher number = more permissions)
func GetRoleHierarchy(role string) int {
	if IsAdminRole(role) {
		return 3
	}
	switch strings.ToLower(strings.TrimPrefix(role, "role.")) {
	case RoleAuthor:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// IsAuthorized reports whether user may see content requiring requiredRole.
// An empty requiredRole admits any authenticated user.
func IsAuthorized(user *models.User, requiredRole string) bool {
	if user == nil {
		return false
	}
	if requiredRole == "" {
		return true
	}

	have := user.RoleName()
	need := GetRoleHierarchy(requiredRole)
	if need == 0 {
		// unknown role names only match themselves
		return strings.EqualFold(have, requiredRole)
	}
	return GetRoleHierarchy(have) >= need
}
