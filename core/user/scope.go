package user

// Scope bounds an account's authority to a slice of the organizational
// hierarchy: region > district > circuit > school > classes. Fields beyond a
// role's depth are always stored empty, never as stale or inherited values.
type Scope struct {
	Region     string   `json:"region,omitempty"`
	District   string   `json:"district,omitempty"`
	Circuit    string   `json:"circuit,omitempty"`
	SchoolName string   `json:"school_name,omitempty"`
	ClassNames []string `json:"class_names,omitempty"`
}

// roleScopeDepths is the number of scope fields meaningful for each role.
// A super-admin is global; an end user is pinned down to class level.
var roleScopeDepths = map[string]int{
	RoleSuperAdmin: 0,
	RoleBigAdmin:   2,
	RoleAdmin:      4,
	RoleUser:       5,
}

func (s Scope) IsZero() bool {
	return s.Region == "" && s.District == "" && s.Circuit == "" && s.SchoolName == "" && len(s.ClassNames) == 0
}

// clampToDepth zeroes every field beyond the given role's scope depth.
func (s Scope) clampToDepth(role string) Scope {
	depth := roleScopeDepths[role]
	if depth < 1 {
		s.Region = ""
	}
	if depth < 2 {
		s.District = ""
	}
	if depth < 3 {
		s.Circuit = ""
	}
	if depth < 4 {
		s.SchoolName = ""
	}
	if depth < 5 {
		s.ClassNames = nil
	}
	return s
}

// CompleteForRole reports whether every scope field up to the role's depth is
// set. An acting big-admin without a district, or an admin without a school,
// must not be allowed to provision anyone lest the corrupt scope cascade.
// ClassNames is not required: an end user may be class-less.
func (s Scope) CompleteForRole(role string) bool {
	depth := roleScopeDepths[role]
	if depth >= 1 && s.Region == "" {
		return false
	}
	if depth >= 2 && s.District == "" {
		return false
	}
	if depth >= 3 && s.Circuit == "" {
		return false
	}
	if depth >= 4 && s.SchoolName == "" {
		return false
	}
	return true
}

func copyClassNames(names []string) []string {
	if names == nil {
		return nil
	}
	return append([]string(nil), names...)
}

// ResolveScope computes the scope to persist when actor grants targetRole,
// given the scope values supplied by the client. Scope narrows monotonically
// down the hierarchy: every field at or below the actor's own level is
// clamped to the actor's values and can never be widened by the client, and
// every field beyond the target role's depth is dropped.
//
// A role-less invitation resolves as if the target were an end user (the
// deepest role the actor may assign); assigning the real role later re-runs
// the resolver and re-clamps.
func ResolveScope(actor User, targetRole string, client Scope) Scope {
	if targetRole == "" {
		targetRole = RoleUser
	}

	var resolved Scope
	switch actor.Role {
	case RoleSuperAdmin:
		resolved = Scope{
			Region:     client.Region,
			District:   client.District,
			Circuit:    client.Circuit,
			SchoolName: client.SchoolName,
			ClassNames: copyClassNames(client.ClassNames),
		}
	case RoleBigAdmin:
		resolved = Scope{
			Region:     actor.Scope.Region,
			District:   actor.Scope.District,
			Circuit:    client.Circuit,
			SchoolName: client.SchoolName,
			ClassNames: copyClassNames(client.ClassNames),
		}
	case RoleAdmin:
		resolved = Scope{
			Region:     actor.Scope.Region,
			District:   actor.Scope.District,
			Circuit:    actor.Scope.Circuit,
			SchoolName: actor.Scope.SchoolName,
			ClassNames: copyClassNames(client.ClassNames),
		}
	default:
		return Scope{}
	}
	return resolved.clampToDepth(targetRole)
}
