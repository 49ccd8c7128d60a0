// Package guard authorises navigations: authentication first, then the
// route's role list, then its single permission.
package guard

import (
	"net/url"
	"sort"
	"strings"

	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/permission"
)

// Entry points used for redirects.
const (
	LoginRoute        = "/login"
	UnauthorizedRoute = "/unauthorized"
	ReturnParam       = "returnUrl"
)

// Outcome of a navigation attempt.
type Outcome int

const (
	Allow Outcome = iota
	RedirectLogin
	RedirectUnauthorized
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "login"
	case RedirectUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Decision is the result of Decide. Location is empty when the navigation
// is allowed.
type Decision struct {
	Outcome  Outcome
	Location string
}

// Allowed reports whether the navigation may proceed.
func (d Decision) Allowed() bool { return d.Outcome == Allow }

// Rule is the authorization metadata of a protected route. Pattern is an
// exact path or a prefix ending in "/*".
type Rule struct {
	Pattern    string
	Roles      []identity.Role
	Permission *permission.Check
}

// Subject is what the guard needs to know about the navigating session.
type Subject interface {
	IsAuthenticated() bool
	CurrentRole() identity.Role
}

// Decide evaluates one navigation to path under rule.
func Decide(subject Subject, eval permission.Evaluator, rule Rule, path string) Decision {
	if !subject.IsAuthenticated() {
		return Decision{Outcome: RedirectLogin, Location: LoginLocation(path)}
	}
	if len(rule.Roles) > 0 && !subject.CurrentRole().In(rule.Roles) {
		return Decision{Outcome: RedirectUnauthorized, Location: UnauthorizedRoute}
	}
	if rule.Permission != nil && !eval.Allowed(*rule.Permission) {
		return Decision{Outcome: RedirectUnauthorized, Location: UnauthorizedRoute}
	}
	return Decision{Outcome: Allow}
}

// LoginLocation returns the login route carrying target as return-target.
func LoginLocation(target string) string {
	if target == "" {
		return LoginRoute
	}
	q := url.Values{}
	q.Set(ReturnParam, target)
	return LoginRoute + "?" + q.Encode()
}

// SafeReturn reports whether target is a local path that may be used as a
// post-login redirect.
func SafeReturn(target string) bool {
	if target == "" || !strings.HasPrefix(target, "/") {
		return false
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}

// Table holds the static route rules. The longest matching pattern wins.
type Table struct {
	rules []Rule
}

// NewTable builds a Table from rules.
func NewTable(rules ...Rule) Table {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Pattern) > len(sorted[j].Pattern)
	})
	return Table{rules: sorted}
}

// Match returns the rule governing path.
func (t Table) Match(path string) (Rule, bool) {
	for _, r := range t.rules {
		if matches(r.Pattern, path) {
			return r, true
		}
	}
	return Rule{}, false
}

func matches(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return path == pattern
}

func check(c permission.Check) *permission.Check { return &c }

// PortalRoutes is the route metadata of the portal.
func PortalRoutes() Table {
	return NewTable(
		Rule{Pattern: "/customer/*", Roles: []identity.Role{identity.RoleCustomer}},
		Rule{Pattern: "/partner/*", Roles: []identity.Role{identity.RolePartner}},
		Rule{Pattern: "/support/*", Roles: []identity.Role{identity.RoleSupport}},
		Rule{Pattern: "/admin/*", Roles: []identity.Role{identity.RoleAdmin}},
		Rule{Pattern: "/admin/users/*", Roles: []identity.Role{identity.RoleAdmin}, Permission: check(permission.CheckViewUsers)},
		Rule{Pattern: "/admin/permissions/*", Roles: []identity.Role{identity.RoleAdmin}, Permission: check(permission.CheckViewPermissions)},
		Rule{
			Pattern:    "/admin/audit-logs/*",
			Roles:      []identity.Role{identity.RoleAdmin, identity.RoleSupport},
			Permission: check(permission.CheckViewAuditLogs),
		},
		Rule{Pattern: "/dashboard"},
		Rule{Pattern: "/logout"},
	)
}
