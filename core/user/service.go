package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/sankofadev/ripoti/core"
)

var (
	// errors
	ErrNotFound             = errors.New("user not found")
	ErrInviteNotFound       = errors.New("invitation not found")
	ErrEmailExists          = errors.New("a user with this email already exists")
	ErrInviteExists         = errors.New("a pending invitation already exists for this email")
	ErrNoInviteForEmail     = errors.New("no invitation found for this email address")
	ErrInviteRoleUnassigned = errors.New("this invitation is pending role assignment")
	ErrInviteNotPending     = errors.New("only a pending invitation can be edited")
	ErrUserStillActive      = errors.New("only a deactivated account can be deleted")
)

type (
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name or User.Email.
		FilterUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		UpdateOrCreateUser(ctx context.Context, usr User) (User, error)
		DeleteUsersByID(ctx context.Context, ids ...string) error
	}

	InviteRepository interface {
		CreateInvite(ctx context.Context, inv Invite) (Invite, error)
		GetInviteByID(ctx context.Context, id string) (Invite, error)
		GetPendingInviteByEmail(ctx context.Context, email string) (Invite, error)
		FilterInvites(ctx context.Context, filter *InviteQueryFilter, ordering []core.DBOrdering) ([]Invite, error)
		UpdateInvite(ctx context.Context, inv Invite) (Invite, error)
		DeleteInvitesByID(ctx context.Context, ids ...string) error
		// ConsumeInvite atomically marks inv completed and creates usr in a
		// single store transaction; a second consume of the same invitation
		// fails with ErrInviteNotFound.
		ConsumeInvite(ctx context.Context, inv Invite, usr User) (User, error)
	}

	Service interface {
		Register(ctx context.Context, ru RegisterUser) (User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		EnsureSuperAdmin(ctx context.Context) (User, error)
		QueryUsers(ctx context.Context, actor User, filter *QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		UpdateRoleAndScope(ctx context.Context, actor User, usr User, data UpdateUserRole) (User, error)
		SetStatus(ctx context.Context, actor User, usr User, isActive bool) (User, error)
		Delete(ctx context.Context, actor User, usr User) error
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, rp ResetUserPassword) error

		CheckEmailAvailable(ctx context.Context, email string) error
		CreateInvite(ctx context.Context, actor User, ni NewInvite) (Invite, error)
		GetInviteByID(ctx context.Context, id string) (Invite, error)
		QueryInvites(ctx context.Context, actor User, filter *InviteQueryFilter, ordering ...core.DBOrdering) ([]Invite, error)
		UpdateInvite(ctx context.Context, actor User, inv Invite, data UpdateInvite) (Invite, error)
		DeleteInvite(ctx context.Context, actor User, inv Invite) error
	}

	service struct {
		repo    Repository
		invRepo InviteRepository
		mailSvc core.EmailService
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, invRepo InviteRepository, mailSvc core.EmailService) Service {
	return &service{
		repo:    repo,
		invRepo: invRepo,
		mailSvc: mailSvc,
	}
}

// defaultOrdering sorts directory listings most recently created first;
// records with no creation timestamp sort last.
var defaultOrdering = []core.DBOrdering{{Field: "created_at"}}

// Register creates an account by consuming the unique pending invitation
// matching the registration email. The invitation's role and scope are taken
// verbatim; registration is blocked, not defaulted, when the invitation has
// no role yet.
func (svc *service) Register(ctx context.Context, ru RegisterUser) (User, error) {
	inv, err := svc.invRepo.GetPendingInviteByEmail(ctx, ru.Email)
	if err != nil {
		if errors.Cause(err) != ErrInviteNotFound {
			return User{}, errors.Wrap(err, "finding pending invitation")
		}
		if _, uerr := svc.repo.GetUserByEmail(ctx, ru.Email); uerr == nil {
			return User{}, core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
		}
		return User{}, core.NewValidationError(ErrNoInviteForEmail, core.FieldError{Field: "email", Error: ErrNoInviteForEmail.Error()})
	}
	if inv.Role == "" {
		return User{}, core.NewValidationError(ErrInviteRoleUnassigned, core.FieldError{Field: "email", Error: ErrInviteRoleUnassigned.Error()})
	}

	now := time.Now().UTC()
	usr := User{
		Name:      ru.Name,
		Email:     ru.Email,
		Telephone: ru.Telephone,
		Role:      inv.Role,
		IsActive:  true,
		Scope:     inv.Scope,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(ru.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}

	usr, err = svc.invRepo.ConsumeInvite(ctx, inv, usr)
	if err != nil {
		return User{}, err
	}
	svc.sendWelcomeMail(usr)
	return usr, nil
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// EnsureSuperAdmin seeds or heals the account of the configured system
// super-administrator: role, status and the empty global scope are enforced
// on every call. Idempotent; invoked at process start and by the admin CLI,
// never on the login path.
func (svc *service) EnsureSuperAdmin(ctx context.Context) (User, error) {
	email := core.CleanString(core.Conf.SuperAdminEmail, true /* lower */)

	usr, err := svc.repo.GetUserByEmail(ctx, email)
	if err != nil && errors.Cause(err) != ErrNotFound {
		return User{}, errors.Wrap(err, "finding super admin")
	}

	if usr.Role == RoleSuperAdmin && usr.IsActive && usr.Scope.IsZero() && usr.ID != "" {
		return usr, nil
	}

	now := time.Now().UTC()
	usr.Email = email
	usr.Role = RoleSuperAdmin
	usr.IsActive = true
	usr.Scope = Scope{}
	usr.UpdatedAt = now
	if usr.ID == "" {
		usr.Name = "System Admin"
		usr.CreatedAt = now
	}
	return svc.repo.UpdateOrCreateUser(ctx, usr)
}

// QueryUsers lists accounts the actor may see: a big-admin only its
// district's admins and users, an admin only its school's users. The actor's
// own record is always excluded.
func (svc *service) QueryUsers(ctx context.Context, actor User, filter *QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	if err := Authorize(actor, ActionViewDirectory, ""); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = new(QueryFilter)
	}

	switch actor.Role {
	case RoleSuperAdmin:
		// all records
	case RoleBigAdmin:
		filter.District = actor.Scope.District
		filter.Roles = visibleRoles(filter.Roles, RoleAdmin, RoleUser)
	case RoleAdmin:
		filter.SchoolName = actor.Scope.SchoolName
		filter.Roles = visibleRoles(filter.Roles, RoleUser)
	}
	filter.ExcludedIDs = append(filter.ExcludedIDs, actor.ID)

	if len(ordering) == 0 {
		ordering = defaultOrdering
	}
	return svc.repo.FilterUsers(ctx, filter, ordering)
}

func (svc *service) UpdateRoleAndScope(ctx context.Context, actor User, usr User, data UpdateUserRole) (User, error) {
	if err := Authorize(actor, ActionManageUsers, data.Role); err != nil {
		return User{}, err
	}
	usr.Role = data.Role
	usr.Scope = ResolveScope(actor, data.Role, data.Scope)
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// SetStatus toggles an account active/inactive. Any administrator may do it.
// TODO: decide whether an administrator may deactivate their own account;
// currently unrestricted.
func (svc *service) SetStatus(ctx context.Context, actor User, usr User, isActive bool) (User, error) {
	if !actor.IsAdministrator() {
		return User{}, core.NewPermissionError("administrator privileges required")
	}
	usr.IsActive = isActive
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// Delete removes an account. Only a super-admin may delete, and only a
// deactivated account.
func (svc *service) Delete(ctx context.Context, actor User, usr User) error {
	if !actor.IsSuperAdmin() {
		return core.NewPermissionError("super-admin privileges required")
	}
	if usr.IsActive {
		return core.NewValidationError(ErrUserStillActive)
	}
	return svc.repo.DeleteUsersByID(ctx, usr.ID)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	uid, err := decodeUID(rp.UID)
	if err != nil {
		return core.NewValidationError(errInvalidToken)
	}
	usr, err := svc.repo.GetUserByID(ctx, uid)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return core.NewValidationError(errInvalidToken)
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if err := verifyToken(usr, rp.Token); err != nil {
		return core.NewValidationError(err)
	}
	if err := usr.SetPassword(rp.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return err
}

// CheckEmailAvailable reports a conflict if the email belongs to an existing
// account or to a pending invitation. Advisory: the store's unique indexes
// back it against concurrent writers.
func (svc *service) CheckEmailAvailable(ctx context.Context, email string) error {
	if _, err := svc.repo.GetUserByEmail(ctx, email); err == nil {
		return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
	} else if errors.Cause(err) != ErrNotFound {
		return errors.Wrap(err, "checking existing users")
	}
	if _, err := svc.invRepo.GetPendingInviteByEmail(ctx, email); err == nil {
		return core.NewValidationError(ErrInviteExists, core.FieldError{Field: "email", Error: ErrInviteExists.Error()})
	} else if errors.Cause(err) != ErrInviteNotFound {
		return errors.Wrap(err, "checking pending invitations")
	}
	return nil
}

func (svc *service) CreateInvite(ctx context.Context, actor User, ni NewInvite) (Invite, error) {
	if err := Authorize(actor, ActionInviteUser, ni.Role); err != nil {
		return Invite{}, err
	}
	if err := svc.CheckEmailAvailable(ctx, ni.Email); err != nil {
		return Invite{}, err
	}

	now := time.Now().UTC()
	inv := Invite{
		Email:     ni.Email,
		Role:      ni.Role,
		Status:    InviteStatusPending,
		Scope:     ResolveScope(actor, ni.Role, ni.Scope),
		CreatedAt: now,
		UpdatedAt: now,
	}
	inv, err := svc.invRepo.CreateInvite(ctx, inv)
	if err != nil {
		return Invite{}, err
	}
	svc.sendInvitationMail(inv)
	return inv, nil
}

func (svc *service) GetInviteByID(ctx context.Context, id string) (Invite, error) {
	return svc.invRepo.GetInviteByID(ctx, id)
}

func (svc *service) QueryInvites(ctx context.Context, actor User, filter *InviteQueryFilter, ordering ...core.DBOrdering) ([]Invite, error) {
	if err := Authorize(actor, ActionViewDirectory, ""); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = new(InviteQueryFilter)
	}

	// role-less invitations stay visible to whoever could manage them
	switch actor.Role {
	case RoleSuperAdmin:
		// all records
	case RoleBigAdmin:
		filter.District = actor.Scope.District
		filter.Roles = []string{RoleAdmin, RoleUser, ""}
	case RoleAdmin:
		filter.SchoolName = actor.Scope.SchoolName
		filter.Roles = []string{RoleUser, ""}
	}

	if len(ordering) == 0 {
		ordering = defaultOrdering
	}
	return svc.invRepo.FilterInvites(ctx, filter, ordering)
}

func (svc *service) UpdateInvite(ctx context.Context, actor User, inv Invite, data UpdateInvite) (Invite, error) {
	if err := Authorize(actor, ActionInviteUser, data.Role); err != nil {
		return Invite{}, err
	}
	if !inv.IsPending() {
		return Invite{}, core.NewValidationError(ErrInviteNotPending)
	}
	inv.Role = data.Role
	inv.Scope = ResolveScope(actor, data.Role, data.Scope)
	inv.UpdatedAt = time.Now().UTC()
	return svc.invRepo.UpdateInvite(ctx, inv)
}

func (svc *service) DeleteInvite(ctx context.Context, actor User, inv Invite) error {
	if err := Authorize(actor, ActionInviteUser, ""); err != nil {
		return err
	}
	if inv.IsCompleted() && !actor.IsSuperAdmin() {
		return core.NewPermissionError("a completed invitation can only be deleted by a super-admin")
	}
	return svc.invRepo.DeleteInvitesByID(ctx, inv.ID)
}

// visibleRoles intersects the requested role filter with the roles the actor
// is permitted to see; an empty request means all visible roles.
func visibleRoles(requested []string, visible ...string) []string {
	if len(requested) == 0 {
		return visible
	}
	kept := make([]string, 0, len(requested))
	for _, role := range requested {
		for _, vis := range visible {
			if role == vis {
				kept = append(kept, role)
				break
			}
		}
	}
	if len(kept) == 0 {
		return visible
	}
	return kept
}

// Mails

func (svc *service) sendInvitationMail(inv Invite) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Address: inv.Email}},
		Subject:      "You have been invited",
		TemplateName: "invitation",
		TemplateData: struct{ Email string }{inv.Email},
	})
}

func (svc *service) sendWelcomeMail(usr User) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Welcome to Ripoti",
		TemplateName: "welcome",
		TemplateData: struct{ Name string }{usr.Name},
	})
}

func (svc *service) sendPasswordResetMail(usr User) {
	token := makeToken(usr)
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password-reset",
		TemplateData: struct {
			Name  string
			UID   string
			Token string
		}{usr.Name, EncodeUID(usr), token},
	})
}
