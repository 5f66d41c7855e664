package user

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sankofadev/ripoti/core"
)

// In-memory repositories. The real stores live in storage/database; these
// keep the service tests free of a DB while honoring the same contracts,
// pending-email uniqueness and consume-once included.

type memStore struct {
	sync.Mutex
	pk      int
	users   map[string]*User
	invites map[string]*Invite
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[string]*User),
		invites: make(map[string]*Invite),
	}
}

func (s *memStore) nextID() string {
	s.pk++
	return fmt.Sprintf("id-%04d", s.pk)
}

type memUserRepo struct{ s *memStore }

var _ Repository = (*memUserRepo)(nil)

func (r *memUserRepo) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...User) error {
	r.s.Lock()
	defer r.s.Unlock()
	for _, u := range r.s.users {
		excluded := false
		for _, x := range excludedUsers {
			if x.ID == u.ID {
				excluded = true
				break
			}
		}
		if !excluded && u.Email == email {
			return ErrEmailExists
		}
	}
	return nil
}

func (r *memUserRepo) CreateUser(ctx context.Context, usr User) (User, error) {
	r.s.Lock()
	defer r.s.Unlock()
	return r.s.createUser(usr)
}

func (s *memStore) createUser(usr User) (User, error) {
	for _, u := range s.users {
		if u.Email == usr.Email {
			return User{}, ErrEmailExists
		}
	}
	usr.ID = s.nextID()
	s.users[usr.ID] = &usr
	return usr, nil
}

func (r *memUserRepo) GetUserByID(ctx context.Context, id string) (User, error) {
	r.s.Lock()
	defer r.s.Unlock()
	if usr, ok := r.s.users[id]; ok {
		return *usr, nil
	}
	return User{}, ErrNotFound
}

func (r *memUserRepo) GetUserByEmail(ctx context.Context, email string) (User, error) {
	r.s.Lock()
	defer r.s.Unlock()
	for _, usr := range r.s.users {
		if usr.Email == email {
			return *usr, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *memUserRepo) FilterUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	r.s.Lock()
	defer r.s.Unlock()

	var users []User
	for _, usr := range r.s.users {
		if filter != nil && !matchUser(*usr, filter) {
			continue
		}
		users = append(users, *usr)
	}
	sortNewestFirst(users, ordering)
	return users, nil
}

func matchUser(u User, f *QueryFilter) bool {
	if f.Search != "" &&
		!strings.Contains(strings.ToLower(u.Name), strings.ToLower(f.Search)) &&
		!strings.Contains(strings.ToLower(u.Email), strings.ToLower(f.Search)) {
		return false
	}
	if len(f.Roles) > 0 {
		found := false
		for _, role := range f.Roles {
			if u.Role == role {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.IsActive != nil && u.IsActive != *f.IsActive {
		return false
	}
	if f.District != "" && u.Scope.District != f.District {
		return false
	}
	if f.SchoolName != "" && u.Scope.SchoolName != f.SchoolName {
		return false
	}
	for _, id := range f.ExcludedIDs {
		if u.ID == id {
			return false
		}
	}
	return true
}

func sortNewestFirst(users []User, ordering []core.DBOrdering) {
	if len(ordering) == 0 || ordering[0].Field != "created_at" || ordering[0].Ascending {
		return
	}
	sort.SliceStable(users, func(i, j int) bool {
		ti, tj := users[i].CreatedAt, users[j].CreatedAt
		if ti.IsZero() || tj.IsZero() {
			return tj.IsZero() && !ti.IsZero()
		}
		return ti.After(tj)
	})
}

func (r *memUserRepo) UpdateUser(ctx context.Context, usr User) (User, error) {
	r.s.Lock()
	defer r.s.Unlock()
	if _, ok := r.s.users[usr.ID]; !ok {
		return User{}, ErrNotFound
	}
	r.s.users[usr.ID] = &usr
	return usr, nil
}

func (r *memUserRepo) UpdateOrCreateUser(ctx context.Context, usr User) (User, error) {
	r.s.Lock()
	defer r.s.Unlock()
	for id, u := range r.s.users {
		if u.Email == usr.Email {
			usr.ID = id
			r.s.users[id] = &usr
			return usr, nil
		}
	}
	return r.s.createUser(usr)
}

func (r *memUserRepo) DeleteUsersByID(ctx context.Context, ids ...string) error {
	r.s.Lock()
	defer r.s.Unlock()
	for _, id := range ids {
		delete(r.s.users, id)
	}
	return nil
}

type memInviteRepo struct{ s *memStore }

var _ InviteRepository = (*memInviteRepo)(nil)

func (r *memInviteRepo) CreateInvite(ctx context.Context, inv Invite) (Invite, error) {
	r.s.Lock()
	defer r.s.Unlock()
	for _, i := range r.s.invites {
		if i.Email == inv.Email && i.IsPending() {
			return Invite{}, ErrInviteExists
		}
	}
	inv.ID = r.s.nextID()
	r.s.invites[inv.ID] = &inv
	return inv, nil
}

func (r *memInviteRepo) GetInviteByID(ctx context.Context, id string) (Invite, error) {
	r.s.Lock()
	defer r.s.Unlock()
	if inv, ok := r.s.invites[id]; ok {
		return *inv, nil
	}
	return Invite{}, ErrInviteNotFound
}

func (r *memInviteRepo) GetPendingInviteByEmail(ctx context.Context, email string) (Invite, error) {
	r.s.Lock()
	defer r.s.Unlock()
	for _, inv := range r.s.invites {
		if inv.Email == email && inv.IsPending() {
			return *inv, nil
		}
	}
	return Invite{}, ErrInviteNotFound
}

func (r *memInviteRepo) FilterInvites(ctx context.Context, filter *InviteQueryFilter, ordering []core.DBOrdering) ([]Invite, error) {
	r.s.Lock()
	defer r.s.Unlock()

	var invites []Invite
	for _, inv := range r.s.invites {
		if filter != nil && !matchInvite(*inv, filter) {
			continue
		}
		invites = append(invites, *inv)
	}
	sort.SliceStable(invites, func(i, j int) bool { return invites[i].CreatedAt.After(invites[j].CreatedAt) })
	return invites, nil
}

func matchInvite(inv Invite, f *InviteQueryFilter) bool {
	if f.Search != "" && !strings.Contains(strings.ToLower(inv.Email), strings.ToLower(f.Search)) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if inv.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Roles) > 0 {
		found := false
		for _, role := range f.Roles {
			if inv.Role == role {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.District != "" && inv.Scope.District != f.District {
		return false
	}
	if f.SchoolName != "" && inv.Scope.SchoolName != f.SchoolName {
		return false
	}
	return true
}

func (r *memInviteRepo) UpdateInvite(ctx context.Context, inv Invite) (Invite, error) {
	r.s.Lock()
	defer r.s.Unlock()
	if _, ok := r.s.invites[inv.ID]; !ok {
		return Invite{}, ErrInviteNotFound
	}
	r.s.invites[inv.ID] = &inv
	return inv, nil
}

func (r *memInviteRepo) DeleteInvitesByID(ctx context.Context, ids ...string) error {
	r.s.Lock()
	defer r.s.Unlock()
	for _, id := range ids {
		delete(r.s.invites, id)
	}
	return nil
}

func (r *memInviteRepo) ConsumeInvite(ctx context.Context, inv Invite, usr User) (User, error) {
	r.s.Lock()
	defer r.s.Unlock()

	stored, ok := r.s.invites[inv.ID]
	if !ok || !stored.IsPending() {
		return User{}, ErrInviteNotFound
	}
	now := time.Now().UTC()
	stored.Status = InviteStatusCompleted
	stored.CompletedAt = now
	stored.UpdatedAt = now
	return r.s.createUser(usr)
}

type mailRecorder struct {
	sync.Mutex
	sent []core.EmailMessage
}

var _ core.EmailService = (*mailRecorder)(nil)

func (m *mailRecorder) SendMessages(messages ...*core.EmailMessage) {
	m.Lock()
	defer m.Unlock()
	for _, msg := range messages {
		m.sent = append(m.sent, *msg)
	}
}

func (m *mailRecorder) lastTo() string {
	m.Lock()
	defer m.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].To[0].Address
}

func newTestService() (Service, *memStore, *mailRecorder) {
	store := newMemStore()
	mail := new(mailRecorder)
	svc := NewService(&memUserRepo{s: store}, &memInviteRepo{s: store}, mail)
	return svc, store, mail
}

func seedUser(t *testing.T, svc Service, email, role string, scope Scope, createdAt ...time.Time) User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := User{
		Name:      strings.SplitN(email, "@", 2)[0],
		Email:     email,
		Role:      role,
		IsActive:  true,
		Scope:     scope,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr, err := svc.(*service).repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("seedUser(%s) failed: %v", email, err)
	}
	return usr
}

// Tests

func Test_service_Register(t *testing.T) {
	ctx := context.Background()
	svc, _, mail := newTestService()

	bigAdmin := User{Role: RoleBigAdmin, Scope: Scope{Region: "Ashanti", District: "Kumasi Metro"}}
	inv, err := svc.CreateInvite(ctx, bigAdmin, NewInvite{
		Email: "ama@school.gh",
		Role:  RoleAdmin,
		Scope: Scope{Circuit: "Circuit A", SchoolName: "Example SHS"},
	})
	if err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}

	ru := RegisterUser{
		Name:            "Ama Mensah",
		Email:           "ama@school.gh",
		Password:        "S3cret!pass",
		PasswordConfirm: "S3cret!pass",
	}
	usr, err := svc.Register(ctx, ru)
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if usr.Role != RoleAdmin {
		t.Errorf("Register() role = %s, want %s", usr.Role, RoleAdmin)
	}
	if usr.Scope.District != "Kumasi Metro" || usr.Scope.SchoolName != "Example SHS" {
		t.Errorf("Register() scope = %+v, not taken from invitation", usr.Scope)
	}
	if !usr.IsActive {
		t.Error("Register() must activate the account")
	}
	if err = usr.CheckPassword("S3cret!pass"); err != nil {
		t.Error("Register() password not set")
	}
	if mail.lastTo() != usr.Email {
		t.Error("Register() did not send a welcome email")
	}

	// the invitation is spent
	inv, err = svc.GetInviteByID(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInviteByID() failed: %v", err)
	}
	if !inv.IsCompleted() || inv.CompletedAt.IsZero() {
		t.Error("Register() did not complete the invitation")
	}

	// a second registration with the same email now trips on the account
	if _, err = svc.Register(ctx, ru); vErrCause(err) != ErrEmailExists {
		t.Errorf("re-Register() error = %v, want %v", err, ErrEmailExists)
	}
}

func Test_service_Register_noInvite(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	ru := RegisterUser{Name: "Bob", Email: "bob@nowhere.gh", Password: "S3cret!pass", PasswordConfirm: "S3cret!pass"}
	if _, err := svc.Register(ctx, ru); vErrCause(err) != ErrNoInviteForEmail {
		t.Errorf("Register() error = %v, want %v", err, ErrNoInviteForEmail)
	}
}

func Test_service_Register_roleUnassigned(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	superAdmin := User{Role: RoleSuperAdmin}
	if _, err := svc.CreateInvite(ctx, superAdmin, NewInvite{Email: "held@school.gh"}); err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}

	ru := RegisterUser{Name: "Held", Email: "held@school.gh", Password: "S3cret!pass", PasswordConfirm: "S3cret!pass"}
	if _, err := svc.Register(ctx, ru); vErrCause(err) != ErrInviteRoleUnassigned {
		t.Errorf("Register() error = %v, want %v", err, ErrInviteRoleUnassigned)
	}
}

func Test_service_EnsureSuperAdmin(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService()

	usr, err := svc.EnsureSuperAdmin(ctx)
	if err != nil {
		t.Fatalf("EnsureSuperAdmin() failed: %v", err)
	}
	if usr.Role != RoleSuperAdmin || !usr.IsActive || !usr.Scope.IsZero() {
		t.Errorf("EnsureSuperAdmin() = %+v, not a clean global super-admin", usr)
	}
	if usr.Email != core.CleanString(core.Conf.SuperAdminEmail, true) {
		t.Errorf("EnsureSuperAdmin() email = %s", usr.Email)
	}

	// idempotent
	again, err := svc.EnsureSuperAdmin(ctx)
	if err != nil {
		t.Fatalf("EnsureSuperAdmin() failed: %v", err)
	}
	if again.ID != usr.ID {
		t.Error("EnsureSuperAdmin() created a second account")
	}

	// heals a tampered record
	store.Lock()
	store.users[usr.ID].Role = RoleUser
	store.users[usr.ID].IsActive = false
	store.users[usr.ID].Scope = Scope{Region: "Ashanti"}
	store.Unlock()

	healed, err := svc.EnsureSuperAdmin(ctx)
	if err != nil {
		t.Fatalf("EnsureSuperAdmin() failed: %v", err)
	}
	if healed.ID != usr.ID || healed.Role != RoleSuperAdmin || !healed.IsActive || !healed.Scope.IsZero() {
		t.Errorf("EnsureSuperAdmin() did not heal: %+v", healed)
	}
}

func Test_service_QueryUsers(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	now := time.Now().UTC()
	kumasiScope := Scope{Region: "Ashanti", District: "Kumasi Metro"}
	schoolScope := Scope{Region: "Ashanti", District: "Kumasi Metro", Circuit: "Circuit A", SchoolName: "Example SHS"}
	otherSchoolScope := Scope{Region: "Ashanti", District: "Kumasi Metro", Circuit: "Circuit B", SchoolName: "Other SHS"}
	hoScope := Scope{Region: "Volta", District: "Ho Municipal"}

	superAdmin := seedUser(t, svc, "root@ripoti.app", RoleSuperAdmin, Scope{}, now.Add(-6*time.Hour))
	bigAdmin := seedUser(t, svc, "big@kumasi.gh", RoleBigAdmin, kumasiScope, now.Add(-5*time.Hour))
	otherBig := seedUser(t, svc, "big@ho.gh", RoleBigAdmin, hoScope, now.Add(-4*time.Hour))
	admin := seedUser(t, svc, "admin@example-shs.gh", RoleAdmin, schoolScope, now.Add(-3*time.Hour))
	otherAdmin := seedUser(t, svc, "admin@other-shs.gh", RoleAdmin, otherSchoolScope, now.Add(-2*time.Hour))
	pupil := seedUser(t, svc, "pupil@example-shs.gh", RoleUser, schoolScope, now.Add(-1*time.Hour))
	timeless := seedUser(t, svc, "old@example-shs.gh", RoleUser, schoolScope, time.Time{})

	ids := func(users []User) []string {
		out := make([]string, 0, len(users))
		for _, u := range users {
			out = append(out, u.ID)
		}
		return out
	}
	assertIDs := func(t *testing.T, got []User, want ...User) {
		t.Helper()
		wantIDs := ids(want)
		gotIDs := ids(got)
		if len(gotIDs) != len(wantIDs) {
			t.Fatalf("QueryUsers() = %v, want %v", gotIDs, wantIDs)
		}
		for i := range wantIDs {
			if gotIDs[i] != wantIDs[i] {
				t.Fatalf("QueryUsers() = %v, want %v", gotIDs, wantIDs)
			}
		}
	}

	// super-admin sees everyone but themselves, newest first, timestamp-less last
	got, err := svc.QueryUsers(ctx, superAdmin, nil)
	if err != nil {
		t.Fatalf("QueryUsers() failed: %v", err)
	}
	assertIDs(t, got, pupil, otherAdmin, admin, otherBig, bigAdmin, timeless)

	// big-admin sees only their district's admins and users
	got, err = svc.QueryUsers(ctx, bigAdmin, nil)
	if err != nil {
		t.Fatalf("QueryUsers() failed: %v", err)
	}
	assertIDs(t, got, pupil, otherAdmin, admin, timeless)

	// admin sees only their school's users
	got, err = svc.QueryUsers(ctx, admin, nil)
	if err != nil {
		t.Fatalf("QueryUsers() failed: %v", err)
	}
	assertIDs(t, got, pupil, timeless)

	// a big-admin asking for super-admins gets the visible set instead
	got, err = svc.QueryUsers(ctx, bigAdmin, &QueryFilter{Roles: []string{RoleSuperAdmin}})
	if err != nil {
		t.Fatalf("QueryUsers() failed: %v", err)
	}
	assertIDs(t, got, pupil, otherAdmin, admin, timeless)

	// plain users have no directory
	if _, err = svc.QueryUsers(ctx, pupil, nil); !core.IsPermissionDenied(err) {
		t.Errorf("QueryUsers() error = %v, want permission denied", err)
	}
}

func Test_service_UpdateRoleAndScope(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	bigAdmin := seedUser(t, svc, "big@kumasi.gh", RoleBigAdmin, Scope{Region: "Ashanti", District: "Kumasi Metro"})
	target := seedUser(t, svc, "x@school.gh", RoleUser, Scope{})

	got, err := svc.UpdateRoleAndScope(ctx, bigAdmin, target, UpdateUserRole{
		Role:  RoleAdmin,
		Scope: Scope{Region: "Volta", Circuit: "Circuit A", SchoolName: "Example SHS"},
	})
	if err != nil {
		t.Fatalf("UpdateRoleAndScope() failed: %v", err)
	}
	if got.Role != RoleAdmin {
		t.Errorf("role = %s, want %s", got.Role, RoleAdmin)
	}
	if got.Scope.Region != "Ashanti" || got.Scope.District != "Kumasi Metro" {
		t.Errorf("scope was not clamped to the actor's: %+v", got.Scope)
	}

	// cannot mint a peer
	if _, err = svc.UpdateRoleAndScope(ctx, bigAdmin, target, UpdateUserRole{Role: RoleBigAdmin}); !core.IsPermissionDenied(err) {
		t.Errorf("UpdateRoleAndScope() error = %v, want permission denied", err)
	}
}

func Test_service_SetStatusAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	superAdmin := seedUser(t, svc, "root@ripoti.app", RoleSuperAdmin, Scope{})
	admin := seedUser(t, svc, "admin@school.gh", RoleAdmin, Scope{Region: "r", District: "d", Circuit: "c", SchoolName: "s"})
	target := seedUser(t, svc, "x@school.gh", RoleUser, Scope{})

	if _, err := svc.SetStatus(ctx, target, target, false); !core.IsPermissionDenied(err) {
		t.Errorf("SetStatus() by plain user error = %v, want permission denied", err)
	}

	got, err := svc.SetStatus(ctx, admin, target, false)
	if err != nil {
		t.Fatalf("SetStatus() failed: %v", err)
	}
	if got.IsActive {
		t.Error("SetStatus() did not deactivate")
	}

	// only a super-admin deletes, and only inactive accounts
	if err = svc.Delete(ctx, admin, got); !core.IsPermissionDenied(err) {
		t.Errorf("Delete() by admin error = %v, want permission denied", err)
	}
	if err = svc.Delete(ctx, superAdmin, admin); vErrCause(err) != ErrUserStillActive {
		t.Errorf("Delete() of active account error = %v, want %v", err, ErrUserStillActive)
	}
	if err = svc.Delete(ctx, superAdmin, got); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err = svc.GetByID(ctx, got.ID); err != ErrNotFound {
		t.Errorf("GetByID() after delete error = %v, want %v", err, ErrNotFound)
	}
}

func Test_service_CreateInvite(t *testing.T) {
	ctx := context.Background()
	svc, _, mail := newTestService()

	bigAdmin := User{Role: RoleBigAdmin, Scope: Scope{Region: "Ashanti", District: "Kumasi Metro"}}

	inv, err := svc.CreateInvite(ctx, bigAdmin, NewInvite{
		Email: "new@school.gh",
		Role:  RoleAdmin,
		Scope: Scope{Region: "Volta", Circuit: "Circuit A", SchoolName: "Example SHS"},
	})
	if err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}
	if !inv.IsPending() {
		t.Errorf("CreateInvite() status = %s, want %s", inv.Status, InviteStatusPending)
	}
	if inv.Scope.Region != "Ashanti" || inv.Scope.SchoolName != "Example SHS" {
		t.Errorf("CreateInvite() scope not resolved: %+v", inv.Scope)
	}
	if mail.lastTo() != inv.Email {
		t.Error("CreateInvite() did not send an invitation email")
	}

	// duplicate pending invitation
	if _, err = svc.CreateInvite(ctx, bigAdmin, NewInvite{Email: "new@school.gh", Role: RoleUser}); vErrCause(err) != ErrInviteExists {
		t.Errorf("CreateInvite() duplicate error = %v, want %v", err, ErrInviteExists)
	}

	// email already taken by an account
	seedUser(t, svc, "taken@school.gh", RoleUser, Scope{})
	if _, err = svc.CreateInvite(ctx, bigAdmin, NewInvite{Email: "taken@school.gh", Role: RoleUser}); vErrCause(err) != ErrEmailExists {
		t.Errorf("CreateInvite() taken email error = %v, want %v", err, ErrEmailExists)
	}

	// role may be withheld; the scope then resolves at end-user depth
	held, err := svc.CreateInvite(ctx, bigAdmin, NewInvite{Email: "held@school.gh", Scope: Scope{Circuit: "Circuit A", SchoolName: "Example SHS"}})
	if err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}
	if held.Role != "" {
		t.Errorf("CreateInvite() role = %q, want empty", held.Role)
	}
	if held.Scope.SchoolName != "Example SHS" {
		t.Errorf("CreateInvite() role-less scope = %+v", held.Scope)
	}
}

func Test_service_QueryInvites(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	superAdmin := User{Role: RoleSuperAdmin}
	kumasiBig := User{Role: RoleBigAdmin, Scope: Scope{Region: "Ashanti", District: "Kumasi Metro"}}
	hoBig := User{Role: RoleBigAdmin, Scope: Scope{Region: "Volta", District: "Ho Municipal"}}

	kumasiInv, err := svc.CreateInvite(ctx, kumasiBig, NewInvite{Email: "a@kumasi.gh", Role: RoleAdmin, Scope: Scope{Circuit: "c", SchoolName: "s"}})
	if err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}
	roleless, err := svc.CreateInvite(ctx, kumasiBig, NewInvite{Email: "b@kumasi.gh", Scope: Scope{Circuit: "c", SchoolName: "s"}})
	if err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}
	if _, err = svc.CreateInvite(ctx, hoBig, NewInvite{Email: "a@ho.gh", Role: RoleUser, Scope: Scope{Circuit: "c", SchoolName: "s"}}); err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}

	all, err := svc.QueryInvites(ctx, superAdmin, nil)
	if err != nil {
		t.Fatalf("QueryInvites() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("QueryInvites() len = %d, want 3", len(all))
	}

	// district-bound view, role-less invitations included
	got, err := svc.QueryInvites(ctx, kumasiBig, nil)
	if err != nil {
		t.Fatalf("QueryInvites() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("QueryInvites() len = %d, want 2", len(got))
	}
	for _, inv := range got {
		if inv.ID != kumasiInv.ID && inv.ID != roleless.ID {
			t.Errorf("QueryInvites() leaked invitation %s", inv.Email)
		}
	}
}

func Test_service_UpdateInvite(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService()

	bigAdmin := User{Role: RoleBigAdmin, Scope: Scope{Region: "Ashanti", District: "Kumasi Metro"}}
	inv, err := svc.CreateInvite(ctx, bigAdmin, NewInvite{Email: "x@kumasi.gh"})
	if err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}

	// assigning the role re-resolves the scope at the new depth
	got, err := svc.UpdateInvite(ctx, bigAdmin, inv, UpdateInvite{
		Role:  RoleAdmin,
		Scope: Scope{Region: "Volta", Circuit: "Circuit A", SchoolName: "Example SHS"},
	})
	if err != nil {
		t.Fatalf("UpdateInvite() failed: %v", err)
	}
	if got.Role != RoleAdmin || got.Scope.Region != "Ashanti" || got.Scope.SchoolName != "Example SHS" {
		t.Errorf("UpdateInvite() = %+v", got)
	}

	// a completed invitation cannot be edited
	store.Lock()
	store.invites[inv.ID].Status = InviteStatusCompleted
	store.Unlock()
	completed, _ := svc.GetInviteByID(ctx, inv.ID)
	if _, err = svc.UpdateInvite(ctx, bigAdmin, completed, UpdateInvite{Role: RoleUser}); vErrCause(err) != ErrInviteNotPending {
		t.Errorf("UpdateInvite() error = %v, want %v", err, ErrInviteNotPending)
	}
}

func Test_service_DeleteInvite(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService()

	superAdmin := User{Role: RoleSuperAdmin}
	bigAdmin := User{Role: RoleBigAdmin, Scope: Scope{Region: "Ashanti", District: "Kumasi Metro"}}

	inv, err := svc.CreateInvite(ctx, bigAdmin, NewInvite{Email: "x@kumasi.gh", Role: RoleUser, Scope: Scope{Circuit: "c", SchoolName: "s"}})
	if err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}

	// pending: the inviter may delete
	if err = svc.DeleteInvite(ctx, bigAdmin, inv); err != nil {
		t.Fatalf("DeleteInvite() failed: %v", err)
	}

	inv, err = svc.CreateInvite(ctx, bigAdmin, NewInvite{Email: "y@kumasi.gh", Role: RoleUser, Scope: Scope{Circuit: "c", SchoolName: "s"}})
	if err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}
	store.Lock()
	store.invites[inv.ID].Status = InviteStatusCompleted
	store.Unlock()
	completed, _ := svc.GetInviteByID(ctx, inv.ID)

	// completed: audit trail, super-admin only
	if err = svc.DeleteInvite(ctx, bigAdmin, completed); !core.IsPermissionDenied(err) {
		t.Errorf("DeleteInvite() error = %v, want permission denied", err)
	}
	if err = svc.DeleteInvite(ctx, superAdmin, completed); err != nil {
		t.Fatalf("DeleteInvite() by super-admin failed: %v", err)
	}
}

func Test_service_PasswordReset(t *testing.T) {
	ctx := context.Background()
	svc, _, mail := newTestService()

	usr := seedUser(t, svc, "ama@school.gh", RoleUser, Scope{})

	if err := svc.RequestPasswordReset(ctx, "nobody@school.gh"); err != ErrNotFound {
		t.Errorf("RequestPasswordReset() error = %v, want %v", err, ErrNotFound)
	}
	if err := svc.RequestPasswordReset(ctx, usr.Email); err != nil {
		t.Fatalf("RequestPasswordReset() failed: %v", err)
	}

	data, ok := mail.sent[len(mail.sent)-1].TemplateData.(struct {
		Name  string
		UID   string
		Token string
	})
	if !ok {
		t.Fatal("password reset mail has unexpected template data")
	}

	rp := ResetUserPassword{
		Token:           data.Token,
		UID:             data.UID,
		Password:        "N3w!Passw0rd",
		PasswordConfirm: "N3w!Passw0rd",
	}
	if err := svc.ResetPassword(ctx, rp); err != nil {
		t.Fatalf("ResetPassword() failed: %v", err)
	}

	refreshed, err := svc.GetByID(ctx, usr.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if err = refreshed.CheckPassword("N3w!Passw0rd"); err != nil {
		t.Error("ResetPassword() did not set the new password")
	}

	// the token does not survive the password change
	if err = svc.ResetPassword(ctx, rp); vErrCause(err) != errInvalidToken {
		t.Errorf("ResetPassword() replay error = %v, want %v", err, errInvalidToken)
	}
}

// vErrCause unwraps a core.ValidationError down to its sentinel.
func vErrCause(err error) error {
	if vErr, ok := err.(*core.ValidationError); ok {
		return vErr.Err
	}
	return err
}
