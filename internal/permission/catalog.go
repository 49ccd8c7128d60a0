package permission

// Resources known to the portal.
const (
	ResourceUsers       = "users"
	ResourceAuditLogs   = "audit_logs"
	ResourcePermissions = "permissions"
	ResourceItems       = "items"
)

// Actions known to the portal.
const (
	ActionView       = "view"
	ActionCreate     = "create"
	ActionEdit       = "edit"
	ActionDelete     = "delete"
	ActionChangeRole = "change_role"
	ActionDeactivate = "deactivate"
	ActionExport     = "export"
	ActionManage     = "manage"
)

// Checks backing the convenience predicates.
var (
	CheckViewUsers       = Check{Resource: ResourceUsers, Action: ActionView}
	CheckCreateUsers     = Check{Resource: ResourceUsers, Action: ActionCreate}
	CheckEditUsers       = Check{Resource: ResourceUsers, Action: ActionEdit}
	CheckDeleteUsers     = Check{Resource: ResourceUsers, Action: ActionDelete}
	CheckChangeRoles     = Check{Resource: ResourceUsers, Action: ActionChangeRole}
	CheckDeactivateUsers = Check{Resource: ResourceUsers, Action: ActionDeactivate}
	CheckViewAuditLogs   = Check{Resource: ResourceAuditLogs, Action: ActionView}
	CheckExportAuditLogs = Check{Resource: ResourceAuditLogs, Action: ActionExport}
	CheckViewPermissions = Check{Resource: ResourcePermissions, Action: ActionView}
	CheckEditPermissions = Check{Resource: ResourcePermissions, Action: ActionEdit}
	CheckManagePerms     = Check{Resource: ResourcePermissions, Action: ActionManage}
)
