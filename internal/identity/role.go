package identity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is one of the fixed portal roles.
type Role string

const (
	RoleCustomer Role = "customer"
	RolePartner  Role = "partner"
	RoleSupport  Role = "support"
	RoleAdmin    Role = "admin"
)

// Roles lists every role in display order.
func Roles() []Role {
	return []Role{RoleCustomer, RolePartner, RoleSupport, RoleAdmin}
}

var dashboardRoutes = map[Role]string{
	RoleCustomer: "/customer/dashboard",
	RolePartner:  "/partner/dashboard",
	RoleSupport:  "/support/dashboard",
	RoleAdmin:    "/admin/dashboard",
}

// ParseRole normalises raw input into a Role. ok is false for unknown roles.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}

// Valid reports whether r belongs to the role enumeration.
func (r Role) Valid() bool {
	_, ok := dashboardRoutes[r]
	return ok
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// Label returns a human readable role name. A Caser keeps state, so each
// call builds its own.
func (r Role) Label() string {
	if r == "" {
		return ""
	}
	return cases.Title(language.English).String(string(r))
}

// DashboardRoute returns the landing route for the role, or the login entry
// point for unknown roles.
func (r Role) DashboardRoute() string {
	if route, ok := dashboardRoutes[r]; ok {
		return route
	}
	return "/login"
}

// In reports whether r is a member of roles.
func (r Role) In(roles []Role) bool {
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}
