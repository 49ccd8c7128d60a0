package permission

import (
	"github.com/gadgetcloud/portal/internal/identity"
)

// Source exposes the current RoleSet. *Cache satisfies it.
type Source interface {
	Get() *RoleSet
}

// Evaluator answers permission questions against a Source. All decisions
// deny when the source holds no set.
type Evaluator struct {
	source Source
}

// NewEvaluator binds an evaluator to source.
func NewEvaluator(source Source) Evaluator {
	return Evaluator{source: source}
}

func (e Evaluator) current() *RoleSet {
	if e.source == nil {
		return nil
	}
	return e.source.Get()
}

// HasPermission reports whether action is allowed on resource.
func (e Evaluator) HasPermission(resource, action string) bool {
	return e.current().Allows(resource, action)
}

// Allowed is HasPermission for a Check.
func (e Evaluator) Allowed(c Check) bool {
	return e.HasPermission(c.Resource, c.Action)
}

// HasAny reports whether at least one check passes.
func (e Evaluator) HasAny(checks ...Check) bool {
	set := e.current()
	for _, c := range checks {
		if set.Allows(c.Resource, c.Action) {
			return true
		}
	}
	return false
}

// HasAll reports whether every check passes. An empty list is vacuously
// true; callers gating content should go through Satisfies instead.
func (e Evaluator) HasAll(checks ...Check) bool {
	set := e.current()
	for _, c := range checks {
		if !set.Allows(c.Resource, c.Action) {
			return false
		}
	}
	return true
}

// Satisfies evaluates a requirement. A requirement that names nothing is
// never satisfied.
func (e Evaluator) Satisfies(req Requirement) bool {
	switch {
	case req.Resource != "" && req.Action != "":
		return e.HasPermission(req.Resource, req.Action)
	case len(req.Any) > 0:
		return e.HasAny(req.Any...)
	case len(req.All) > 0:
		return e.HasAll(req.All...)
	default:
		return false
	}
}

func (e Evaluator) CanViewUsers() bool { return e.Allowed(CheckViewUsers) }
func (e Evaluator) CanCreateUsers() bool { return e.Allowed(CheckCreateUsers) }
func (e Evaluator) CanEditUsers() bool { return e.Allowed(CheckEditUsers) }
func (e Evaluator) CanDeleteUsers() bool { return e.Allowed(CheckDeleteUsers) }
func (e Evaluator) CanChangeRoles() bool { return e.Allowed(CheckChangeRoles) }
func (e Evaluator) CanDeactivateUsers() bool { return e.Allowed(CheckDeactivateUsers) }
func (e Evaluator) CanViewAuditLogs() bool { return e.Allowed(CheckViewAuditLogs) }
func (e Evaluator) CanExportAuditLogs() bool { return e.Allowed(CheckExportAuditLogs) }
func (e Evaluator) CanViewPermissions() bool { return e.Allowed(CheckViewPermissions) }
func (e Evaluator) CanEditPermissions() bool { return e.Allowed(CheckEditPermissions) }

// ShowAdminPanel reports whether any admin area is reachable.
func (e Evaluator) ShowAdminPanel() bool {
	return e.CanViewUsers() || e.CanViewAuditLogs()
}

// CurrentRole returns the role recorded in the cached set, not the
// session's role. It is empty while nothing is cached.
func (e Evaluator) CurrentRole() identity.Role {
	set := e.current()
	if set == nil {
		return ""
	}
	return set.Role
}

// Role-identity predicates read the cached set, so they report false while
// the cache is empty or stale even if the session says otherwise.
func (e Evaluator) IsAdmin() bool { return e.CurrentRole() == identity.RoleAdmin }
func (e Evaluator) IsSupport() bool { return e.CurrentRole() == identity.RoleSupport }
func (e Evaluator) IsPartner() bool { return e.CurrentRole() == identity.RolePartner }
func (e Evaluator) IsCustomer() bool { return e.CurrentRole() == identity.RoleCustomer }
