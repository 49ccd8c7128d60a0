package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gadgetcloud/portal/internal/identity"
)

type staticSource struct{ set *RoleSet }

func (s staticSource) Get() *RoleSet { return s.set }

func supportSet() *RoleSet {
	return &RoleSet{
		Role: identity.RoleSupport,
		Resources: map[string]Grant{
			ResourceUsers:     {Resource: ResourceUsers, Actions: []string{ActionView}},
			ResourceAuditLogs: {Resource: ResourceAuditLogs, Actions: []string{Wildcard}},
		},
	}
}

func TestHasPermissionEmptyCacheDenies(t *testing.T) {
	for _, source := range []Source{nil, staticSource{}, NewCache()} {
		e := NewEvaluator(source)
		for _, c := range []Check{CheckViewUsers, CheckExportAuditLogs, {Resource: "anything", Action: Wildcard}} {
			assert.False(t, e.HasPermission(c.Resource, c.Action), "%v", c)
		}
		assert.Equal(t, identity.Role(""), e.CurrentRole())
	}
}

func TestHasPermissionVerbatimAndWildcard(t *testing.T) {
	e := NewEvaluator(staticSource{set: supportSet()})

	assert.True(t, e.HasPermission(ResourceUsers, ActionView))
	assert.False(t, e.HasPermission(ResourceUsers, "View"), "actions compare verbatim")
	assert.False(t, e.HasPermission(ResourceUsers, ActionDelete))
	assert.False(t, e.HasPermission(ResourcePermissions, ActionView), "missing resource denies")

	for _, action := range []string{ActionView, ActionExport, "purge", ""} {
		assert.True(t, e.HasPermission(ResourceAuditLogs, action), "wildcard grants %q", action)
	}
}

func TestHasAnyAndHasAllMatchPerCheckResults(t *testing.T) {
	e := NewEvaluator(staticSource{set: supportSet()})
	pool := []Check{CheckViewUsers, CheckDeleteUsers, CheckViewAuditLogs, CheckViewPermissions}

	// every subset of the pool
	for mask := 0; mask < 1<<len(pool); mask++ {
		var checks []Check
		anyOK, allOK := false, true
		for i, c := range pool {
			if mask&(1<<i) == 0 {
				continue
			}
			checks = append(checks, c)
			ok := e.HasPermission(c.Resource, c.Action)
			anyOK = anyOK || ok
			allOK = allOK && ok
		}
		assert.Equal(t, anyOK, e.HasAny(checks...), "any %v", checks)
		assert.Equal(t, allOK, e.HasAll(checks...), "all %v", checks)
	}
}

func TestHasAllEmptyIsVacuouslyTrue(t *testing.T) {
	e := NewEvaluator(staticSource{})
	assert.True(t, e.HasAll())
	assert.False(t, e.HasAny())
}

func TestSatisfies(t *testing.T) {
	e := NewEvaluator(staticSource{set: supportSet()})

	assert.True(t, e.Satisfies(RequireCheck(CheckViewUsers)))
	assert.False(t, e.Satisfies(Require(ResourceUsers, ActionEdit)))
	assert.True(t, e.Satisfies(RequireAny(CheckEditUsers, CheckViewAuditLogs)))
	assert.False(t, e.Satisfies(RequireAll(CheckViewUsers, CheckEditUsers)))
	assert.True(t, e.Satisfies(RequireAll(CheckViewUsers, CheckExportAuditLogs)))

	// nothing to check never passes, unlike HasAll()
	assert.False(t, e.Satisfies(Requirement{}))
	assert.False(t, e.Satisfies(RequireAll()))
	assert.False(t, e.Satisfies(Requirement{Resource: ResourceUsers}))
}

func TestConveniencePredicates(t *testing.T) {
	e := NewEvaluator(staticSource{set: supportSet()})
	assert.True(t, e.CanViewUsers())
	assert.False(t, e.CanCreateUsers())
	assert.False(t, e.CanEditUsers())
	assert.False(t, e.CanDeleteUsers())
	assert.False(t, e.CanChangeRoles())
	assert.False(t, e.CanDeactivateUsers())
	assert.True(t, e.CanViewAuditLogs())
	assert.True(t, e.CanExportAuditLogs())
	assert.False(t, e.CanViewPermissions())
	assert.False(t, e.CanEditPermissions())
	assert.True(t, e.ShowAdminPanel())
}

func TestRolePredicatesReadCachedSet(t *testing.T) {
	cache := NewCache()
	e := NewEvaluator(cache)
	assert.False(t, e.IsSupport(), "empty cache reports no role")

	cache.Set(supportSet())
	assert.True(t, e.IsSupport())
	assert.False(t, e.IsAdmin())
	assert.False(t, e.IsPartner())
	assert.False(t, e.IsCustomer())
}
