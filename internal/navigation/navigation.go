// Package navigation defines the per-role sidebar menus and filters them
// against the current permissions.
package navigation

import (
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/permission"
)

// Entry is one sidebar link. Permission is nil when the entry is always
// visible.
type Entry struct {
	Label      string
	Icon       string
	Route      string
	Permission *permission.Check
	Badge      string
}

// Menu is the navigation of one role.
type Menu struct {
	Role          identity.Role
	BrandName     string
	BrandSubtitle string
	LogoIcon      string
	Entries       []Entry
}

// Icon identifiers resolved by the templates.
const (
	IconDashboard     = "dashboard"
	IconDevices       = "devices"
	IconRepairs       = "repairs"
	IconUsers         = "users"
	IconTickets       = "tickets"
	IconAuditLogs     = "audit-logs"
	IconPermissions   = "permissions"
	IconInventory     = "inventory"
	IconAnalytics     = "analytics"
	IconKnowledgeBase = "knowledge-base"
	IconWarranty      = "warranty"
	IconLock          = "lock"
)

const brandName = "GadgetCloud"

func requires(c permission.Check) *permission.Check {
	return &c
}

var menus = map[identity.Role]Menu{
	identity.RoleCustomer: {
		Role:          identity.RoleCustomer,
		BrandName:     brandName,
		BrandSubtitle: "My Devices",
		LogoIcon:      IconDevices,
		Entries: []Entry{
			{Label: "Dashboard", Icon: IconDashboard, Route: "/customer/dashboard"},
			{Label: "My Devices", Icon: IconDevices, Route: "/customer/devices"},
			{Label: "Repairs", Icon: IconRepairs, Route: "/customer/repairs"},
			{Label: "Warranty", Icon: IconWarranty, Route: "/customer/warranty"},
		},
	},
	identity.RolePartner: {
		Role:          identity.RolePartner,
		BrandName:     brandName,
		BrandSubtitle: "Partner Portal",
		LogoIcon:      IconRepairs,
		Entries: []Entry{
			{Label: "Dashboard", Icon: IconDashboard, Route: "/partner/dashboard"},
			{Label: "Repair Queue", Icon: IconRepairs, Route: "/partner/repairs"},
			{Label: "Inventory", Icon: IconInventory, Route: "/partner/inventory"},
			{Label: "Analytics", Icon: IconAnalytics, Route: "/partner/analytics"},
		},
	},
	identity.RoleSupport: {
		Role:          identity.RoleSupport,
		BrandName:     brandName,
		BrandSubtitle: "Support Command",
		LogoIcon:      IconTickets,
		Entries: []Entry{
			{Label: "Dashboard", Icon: IconDashboard, Route: "/support/dashboard"},
			{Label: "Tickets", Icon: IconTickets, Route: "/support/tickets"},
			{Label: "Knowledge Base", Icon: IconKnowledgeBase, Route: "/support/knowledge-base"},
			{Label: "Audit Logs", Icon: IconAuditLogs, Route: "/admin/audit-logs", Permission: requires(permission.CheckViewAuditLogs)},
		},
	},
	identity.RoleAdmin: {
		Role:          identity.RoleAdmin,
		BrandName:     brandName,
		BrandSubtitle: "Admin Panel",
		LogoIcon:      IconLock,
		Entries: []Entry{
			{Label: "Dashboard", Icon: IconDashboard, Route: "/admin/dashboard"},
			{Label: "User Management", Icon: IconUsers, Route: "/admin/users", Permission: requires(permission.CheckViewUsers)},
			{Label: "Audit Logs", Icon: IconAuditLogs, Route: "/admin/audit-logs", Permission: requires(permission.CheckViewAuditLogs)},
			{Label: "Permissions", Icon: IconPermissions, Route: "/admin/permissions", Permission: requires(permission.CheckManagePerms)},
		},
	},
}

// filterPolicy decides whether a permission-tagged entry stays visible.
type filterPolicy func(e Entry, eval permission.Evaluator) bool

func evaluated(e Entry, eval permission.Evaluator) bool {
	return eval.Allowed(*e.Permission)
}

// Admin sees everything and support always sees audit logs, whatever state
// the permission cache is in.
var policies = map[identity.Role]filterPolicy{
	identity.RoleAdmin: func(Entry, permission.Evaluator) bool { return true },
	identity.RoleSupport: func(e Entry, eval permission.Evaluator) bool {
		if e.Permission.Resource == permission.ResourceAuditLogs {
			return true
		}
		return evaluated(e, eval)
	},
}

// Resolver answers navigation questions against an evaluator.
type Resolver struct {
	eval permission.Evaluator
}

// NewResolver builds a Resolver.
func NewResolver(eval permission.Evaluator) Resolver {
	return Resolver{eval: eval}
}

// MenuFor returns the menu of role. ok is false for unknown roles.
func MenuFor(role identity.Role) (Menu, bool) {
	m, ok := menus[role]
	if !ok {
		return Menu{}, false
	}
	m.Entries = ForRole(role)
	return m, true
}

// ForRole returns a copy of the role's entries in display order.
func ForRole(role identity.Role) []Entry {
	m, ok := menus[role]
	if !ok {
		return nil
	}
	out := make([]Entry, len(m.Entries))
	copy(out, m.Entries)
	return out
}

// FilterFor keeps the entries role may see. Entries without a permission
// are always kept.
func (r Resolver) FilterFor(role identity.Role, entries []Entry) []Entry {
	policy, ok := policies[role]
	if !ok {
		policy = evaluated
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Permission == nil || policy(e, r.eval) {
			out = append(out, e)
		}
	}
	return out
}

// Visible returns the filtered menu of role.
func (r Resolver) Visible(role identity.Role) (Menu, bool) {
	m, ok := MenuFor(role)
	if !ok {
		return Menu{}, false
	}
	m.Entries = r.FilterFor(role, m.Entries)
	return m, true
}
