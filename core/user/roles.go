package user

// Roles, totally ordered by authority.
const (
	RoleSuperAdmin = "super-admin"
	RoleBigAdmin   = "big-admin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

var (
	AllRoles = []string{RoleSuperAdmin, RoleBigAdmin, RoleAdmin, RoleUser}

	rolePriorities = map[string]int{
		RoleSuperAdmin: 40,
		RoleBigAdmin:   30,
		RoleAdmin:      20,
		RoleUser:       10,
	}

	// assignableRoles answers "may role A assign role B?". A big-admin can
	// never mint a peer; an admin only provisions end users.
	assignableRoles = map[string][]string{
		RoleSuperAdmin: {RoleBigAdmin, RoleAdmin, RoleUser},
		RoleBigAdmin:   {RoleAdmin, RoleUser},
		RoleAdmin:      {RoleUser},
		RoleUser:       {},
	}

	Roles = []Role{
		{Name: "User", Value: RoleUser},
		{Name: "School Admin", Value: RoleAdmin},
		{Name: "District Admin", Value: RoleBigAdmin},
		{Name: "System Admin", Value: RoleSuperAdmin},
	}
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func IsValidRole(role string) bool {
	_, ok := rolePriorities[role]
	return ok
}

// CanAssign reports whether an actor with actorRole may grant targetRole.
func CanAssign(actorRole, targetRole string) bool {
	for _, role := range assignableRoles[actorRole] {
		if role == targetRole {
			return true
		}
	}
	return false
}

// AssignableRoles returns the roles an actor with actorRole may grant,
// in increasing order of authority.
func AssignableRoles(actorRole string) []Role {
	assignable := make([]Role, 0, len(assignableRoles[actorRole]))
	for _, role := range Roles {
		if CanAssign(actorRole, role.Value) {
			assignable = append(assignable, role)
		}
	}
	return assignable
}
