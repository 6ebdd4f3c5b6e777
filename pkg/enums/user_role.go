package enums

// UserRole identifies what a caller is allowed to do.
type UserRole string

const (
	UserRoleStudent UserRole = "student"
	UserRoleStaff   UserRole = "staff"
	UserRoleAdmin   UserRole = "admin"
)

var validUserRoles = []UserRole{
	UserRoleStudent,
	UserRoleStaff,
	UserRoleAdmin,
}

// IsValid reports whether the role is one of the supported values.
func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if r == candidate {
			return true
		}
	}
	return false
}

// CanDeliver reports whether the role may confirm counter deliveries.
func (r UserRole) CanDeliver() bool {
	return r == UserRoleStaff || r == UserRoleAdmin
}

// ParseUserRole converts raw input into a UserRole.
func ParseUserRole(value string) (UserRole, bool) {
	role := UserRole(value)
	if role.IsValid() {
		return role, true
	}
	return "", false
}
