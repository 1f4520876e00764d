package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of portal roles issued by the backend.
type Role string

const (
	RolePatient    Role = "patient"
	RoleProvider   Role = "provider"
	RoleResearcher Role = "researcher"
	RolePharmco    Role = "pharmco"
	RoleCaregiver  Role = "caregiver"
	RoleCompliance Role = "compliance"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// AllRoles lists every valid role in a stable order.
var AllRoles = []Role{
	RolePatient,
	RoleProvider,
	RoleResearcher,
	RolePharmco,
	RoleCaregiver,
	RoleCompliance,
	RoleAdmin,
	RoleSuperadmin,
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

// DashboardPath is the front-end landing page for the role.
func (r Role) DashboardPath() string {
	if !r.Valid() {
		return "/dashboard"
	}
	return "/dashboard/" + string(r)
}

// User is the cached copy of the backend's identity record.
type User struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	Role               Role   `json:"role"`
	EmailVerified      bool   `json:"email_verified"`
	TwoFactorEnabled   bool   `json:"two_factor_enabled"`
	DataSharingConsent bool   `json:"data_sharing_consent"`
}

// FullName joins first and last name, falling back to the email address.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Permissions projects the user's role into capability flags. A nil user has
// no capabilities.
func (u *User) Permissions() PermissionSet {
	if u == nil {
		return PermissionSet{}
	}
	return PermissionsFor(u.Role)
}
