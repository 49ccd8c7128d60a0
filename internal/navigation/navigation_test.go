package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/permission"
)

type fixedSource struct{ set *permission.RoleSet }

func (f fixedSource) Get() *permission.RoleSet { return f.set }

func cacheStates() map[string]permission.Evaluator {
	return map[string]permission.Evaluator{
		"empty": permission.NewEvaluator(fixedSource{}),
		"no grants": permission.NewEvaluator(fixedSource{set: &permission.RoleSet{
			Role: identity.RoleCustomer, Resources: map[string]permission.Grant{},
		}}),
		"everything": permission.NewEvaluator(fixedSource{set: &permission.RoleSet{
			Role: identity.RoleAdmin,
			Resources: map[string]permission.Grant{
				permission.ResourceUsers:       {Actions: []string{permission.Wildcard}},
				permission.ResourceAuditLogs:   {Actions: []string{permission.Wildcard}},
				permission.ResourcePermissions: {Actions: []string{permission.Wildcard}},
			},
		}}),
	}
}

// mixedEntries combines every role's menu so each policy sees every kind of
// entry.
func mixedEntries() []Entry {
	var all []Entry
	for _, role := range identity.Roles() {
		all = append(all, ForRole(role)...)
	}
	return all
}

func TestEntriesWithoutPermissionAlwaysVisible(t *testing.T) {
	for name, eval := range cacheStates() {
		r := NewResolver(eval)
		for _, role := range identity.Roles() {
			got := r.FilterFor(role, mixedEntries())
			for _, e := range mixedEntries() {
				if e.Permission == nil {
					assert.Contains(t, got, e, "%s/%s", name, role)
				}
			}
		}
	}
}

func TestAdminSeesEverything(t *testing.T) {
	for name, eval := range cacheStates() {
		r := NewResolver(eval)
		assert.Equal(t, mixedEntries(), r.FilterFor(identity.RoleAdmin, mixedEntries()), name)
	}
}

func TestSupportAlwaysSeesAuditLogs(t *testing.T) {
	for name, eval := range cacheStates() {
		got := NewResolver(eval).FilterFor(identity.RoleSupport, mixedEntries())
		for _, e := range mixedEntries() {
			if e.Permission != nil && e.Permission.Resource == permission.ResourceAuditLogs {
				assert.Contains(t, got, e, name)
			}
		}
	}
}

func TestSupportOtherEntriesAreEvaluated(t *testing.T) {
	users := Entry{Label: "Users", Route: "/admin/users", Permission: requires(permission.CheckViewUsers)}
	got := NewResolver(cacheStates()["empty"]).FilterFor(identity.RoleSupport, []Entry{users})
	assert.Empty(t, got)
	got = NewResolver(cacheStates()["everything"]).FilterFor(identity.RoleSupport, []Entry{users})
	assert.Equal(t, []Entry{users}, got)
}

func TestOtherRolesFilterThroughEvaluator(t *testing.T) {
	for _, role := range []identity.Role{identity.RoleCustomer, identity.RolePartner, identity.Role("unknown")} {
		empty := NewResolver(cacheStates()["empty"]).FilterFor(role, mixedEntries())
		for _, e := range empty {
			assert.Nil(t, e.Permission, "%s sees %s with an empty cache", role, e.Label)
		}
		full := NewResolver(cacheStates()["everything"]).FilterFor(role, mixedEntries())
		assert.Equal(t, mixedEntries(), full)
	}
}

func TestMenusCoverEveryRole(t *testing.T) {
	for _, role := range identity.Roles() {
		m, ok := MenuFor(role)
		require.True(t, ok, role)
		assert.Equal(t, role, m.Role)
		assert.Equal(t, "GadgetCloud", m.BrandName)
		require.NotEmpty(t, m.Entries)
		assert.Equal(t, role.DashboardRoute(), m.Entries[0].Route)
	}
	_, ok := MenuFor("ghost")
	assert.False(t, ok)
	assert.Nil(t, ForRole("ghost"))
}

func TestForRoleReturnsCopy(t *testing.T) {
	entries := ForRole(identity.RoleAdmin)
	entries[0].Label = "changed"
	assert.Equal(t, "Dashboard", ForRole(identity.RoleAdmin)[0].Label)
}

func TestVisibleAdminMenuWithEmptyCache(t *testing.T) {
	m, ok := NewResolver(cacheStates()["empty"]).Visible(identity.RoleAdmin)
	require.True(t, ok)
	assert.Len(t, m.Entries, 4)

	m, ok = NewResolver(cacheStates()["empty"]).Visible(identity.RoleSupport)
	require.True(t, ok)
	labels := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		labels = append(labels, e.Label)
	}
	assert.Equal(t, []string{"Dashboard", "Tickets", "Knowledge Base", "Audit Logs"}, labels)
}
