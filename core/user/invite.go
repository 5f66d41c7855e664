package user

import (
	"time"

	"github.com/sankofadev/ripoti/core"
)

// Invitation statuses. A pending invitation is consumed exactly once at
// registration, then stays around as a completed record.
const (
	InviteStatusPending   = "pending"
	InviteStatusCompleted = "completed"
)

// Invite is a durable record of intent to grant access to an email address.
// Role may be unassigned at creation; registration against such an
// invitation is blocked until a role is assigned.
type Invite struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Role        string    `json:"role,omitempty"`
	Status      string    `json:"status"`
	Scope       Scope     `json:"scope"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

func (inv Invite) IsPending() bool   { return inv.Status == InviteStatusPending }
func (inv Invite) IsCompleted() bool { return inv.Status == InviteStatusCompleted }

// NewInvite contains information needed to create an invitation.
// Scope is client input and is clamped by the resolver.
type NewInvite struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,validrole"`
	Scope Scope  `json:"scope"`
}

func (ni *NewInvite) Validate() error {
	ni.Email = core.CleanString(ni.Email, true /* lower */)
	ni.Role = core.CleanString(ni.Role, true /* lower */)
	return core.Validate.Struct(ni)
}

// UpdateInvite defines what may be modified on a pending invitation.
type UpdateInvite struct {
	Role  string `json:"role" validate:"required,validrole"`
	Scope Scope  `json:"scope"`
}

func (ui *UpdateInvite) Validate() error {
	ui.Role = core.CleanString(ui.Role, true /* lower */)
	return core.Validate.Struct(ui)
}

// InviteQueryFilter narrows an invitation listing. District and SchoolName
// are set by the service from the viewer's own scope.
type InviteQueryFilter struct {
	Search   string   `query:"search"`
	Statuses []string `query:"status"`

	Roles      []string `query:"-"`
	District   string   `query:"-"`
	SchoolName string   `query:"-"`
}

func (qf *InviteQueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Statuses == nil && qf.Roles == nil &&
		qf.District == "" && qf.SchoolName == ""
}

func (qf *InviteQueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
