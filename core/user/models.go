package user

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sankofadev/ripoti/core"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Telephone    string    `json:"telephone,omitempty"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	Scope        Scope     `json:"scope"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

// IsAdministrator reports whether the user holds any administrative role.
func (u *User) IsAdministrator() bool {
	return RolePriority(u.Role) >= RolePriority(RoleAdmin)
}

// RegisterUser contains information needed to register a new User against a
// pending invitation.
type RegisterUser struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Telephone       string `json:"telephone" validate:"omitempty,e164"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (ru *RegisterUser) Validate() error {
	ru.Name = core.CleanString(ru.Name)
	ru.Email = core.CleanString(ru.Email, true /* lower */)
	ru.Telephone = core.CleanString(ru.Telephone)
	return core.Validate.Struct(ru)
}

// UpdateUserRole defines a role/scope edit applied to an existing User.
// The scope is client input: the resolver clamps it to the actor's own scope
// before anything is persisted.
type UpdateUserRole struct {
	Role  string `json:"role" validate:"required,validrole"`
	Scope Scope  `json:"scope"`
}

func (uu *UpdateUserRole) Validate() error {
	uu.Role = core.CleanString(uu.Role, true /* lower */)
	return core.Validate.Struct(uu)
}

type UpdateUserStatus struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

func (us UpdateUserStatus) Validate() error { return core.Validate.Struct(us) }

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate() error { return core.Validate.Struct(rp) }

// QueryFilter narrows a directory listing. Search does a case-insensitive
// match on one of Name or Email. District, SchoolName and ExcludedIDs are set
// by the service from the viewer's own scope and are not client-bindable.
type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`

	District    string   `query:"-"`
	SchoolName  string   `query:"-"`
	ExcludedIDs []string `query:"-"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero() &&
		qf.District == "" && qf.SchoolName == "" && qf.ExcludedIDs == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
