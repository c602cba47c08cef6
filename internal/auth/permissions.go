package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermDeviceRead      Permission = "device:read"
	PermDeviceControl   Permission = "device:control"
	PermDeviceConfigure Permission = "device:configure"
	PermDeviceDelete    Permission = "device:delete"
	PermCriticalCommand Permission = "device:command:critical"
	PermAuditRead       Permission = "audit:read"
)

// superUserPermissions is shared by both SuperUser role labels.
var superUserPermissions = []Permission{
	PermDeviceRead,
	PermDeviceControl,
	PermDeviceConfigure,
	PermDeviceDelete,
	PermCriticalCommand,
	PermAuditRead,
}

// rolePermissions maps each role to its granted permissions.
// Company and Client grants are further restricted by device ownership.
var rolePermissions = map[Role][]Permission{
	RoleSuperAdmin: superUserPermissions,
	RoleAdmin:      superUserPermissions,
	RoleCompany: {
		PermDeviceRead,
		PermDeviceControl,
	},
	RoleClient: {
		PermDeviceRead,
		PermDeviceControl,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
