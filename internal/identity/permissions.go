package identity

// Dashboard permission labels.
const (
	PermDashboardView    = "dashboard.view"
	PermKeysRead         = "keys.read"
	PermKeysWrite        = "keys.write"
	PermModelsRead       = "models.read"
	PermUsageRead        = "usage.read"
	PermRateLimitsManage = "ratelimits.manage"
	PermUsersManage      = "users.manage"
	PermOrgsManage       = "orgs.manage"
	PermSettingsManage   = "settings.manage"
)

// Role labels returned by the dashboard API.
const (
	RoleAdmin    = "admin"
	RoleOrgAdmin = "org_admin"
	RoleMember   = "member"
	RoleViewer   = "viewer"
)

// DefaultRoleMap is used when no role map is configured.
var DefaultRoleMap = RoleMap{
	RoleAdmin: {
		PermDashboardView, PermKeysRead, PermKeysWrite, PermModelsRead, PermUsageRead,
		PermRateLimitsManage, PermUsersManage, PermOrgsManage, PermSettingsManage,
	},
	RoleOrgAdmin: {
		PermDashboardView, PermKeysRead, PermKeysWrite, PermModelsRead, PermUsageRead,
		PermUsersManage,
	},
	RoleMember: {
		PermDashboardView, PermKeysRead, PermKeysWrite, PermModelsRead, PermUsageRead,
	},
	RoleViewer: {
		PermDashboardView, PermModelsRead, PermUsageRead,
	},
}
