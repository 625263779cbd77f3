package database

// Role is a console permission level.
type Role string

const (
	RoleSuperAdmin      Role = "super_admin"
	RoleAdmin           Role = "admin"
	RoleEnterpriseAdmin Role = "enterprise_admin"
	RoleConfigurator    Role = "configurator"
	RoleViewer          Role = "viewer"
)

var roleRank = map[Role]int{
	RoleViewer:          1,
	RoleConfigurator:    2,
	RoleEnterpriseAdmin: 3,
	RoleAdmin:           4,
	RoleSuperAdmin:      5,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants everything min grants. Unknown roles grant nothing.
func (r Role) AtLeast(min Role) bool {
	have, ok := roleRank[r]
	if !ok {
		return false
	}
	return have >= roleRank[min]
}
