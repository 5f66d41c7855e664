package user

import (
	"errors"
	"fmt"

	"github.com/sankofadev/ripoti/core"
)

// Provisioning actions checked by Authorize.
const (
	ActionInviteUser    = "invite-user"    // create/edit/delete invitations
	ActionManageUsers   = "manage-users"   // role/scope/status edits on accounts
	ActionViewDirectory = "view-directory" // list accounts/invitations
)

var errUnknownTargetRole = errors.New("unknown role")

// Authorize checks whether actor may perform action at all, before any scope
// resolution runs. It is a pure predicate; denial reasons distinguish
// insufficient role, malformed target role and incomplete actor scope.
// targetRole may be empty for actions that do not assign a role (an
// invitation may be created with its role withheld).
func Authorize(actor User, action, targetRole string) error {
	if RolePriority(actor.Role) < RolePriority(RoleAdmin) {
		return core.NewPermissionError("administrator privileges required")
	}

	if targetRole != "" {
		if !IsValidRole(targetRole) {
			return core.NewValidationError(errUnknownTargetRole,
				core.FieldError{Field: "role", Error: errUnknownTargetRole.Error()})
		}
		if !CanAssign(actor.Role, targetRole) {
			return core.NewPermissionError(fmt.Sprintf("%s cannot assign %s", actor.Role, targetRole))
		}
	}

	// provisioning with a corrupt own scope would cascade; super-admin has
	// no scope to be incomplete
	if action == ActionInviteUser || action == ActionManageUsers {
		if !actor.Scope.CompleteForRole(actor.Role) {
			return core.NewPermissionError(fmt.Sprintf("%s scope is incomplete", actor.Role))
		}
	}
	return nil
}
