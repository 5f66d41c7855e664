package dummydb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sankofadev/ripoti/core"
	"github.com/sankofadev/ripoti/core/user"
)

type inviteRepository struct {
	db *DB
}

var _ user.InviteRepository = (*inviteRepository)(nil) // interface compliance check

func NewInviteRepository(db *DB) user.InviteRepository {
	return &inviteRepository{db: db}
}

func (repo *inviteRepository) query() []user.Invite {
	invites := make([]user.Invite, 0, len(repo.db.invites))
	for _, inv := range repo.db.invites {
		invites = append(invites, *inv)
	}
	return invites
}

func (repo *inviteRepository) CreateInvite(ctx context.Context, inv user.Invite) (user.Invite, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.invites {
		if existing.Email == inv.Email && existing.IsPending() {
			return user.Invite{}, user.ErrInviteExists
		}
	}
	inv.ID = uuid.New().String()
	repo.db.invites[inv.ID] = &inv
	return inv, nil
}

func (repo *inviteRepository) GetInviteByID(ctx context.Context, id string) (user.Invite, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if inv, ok := repo.db.invites[id]; ok {
		return *inv, nil
	}
	return user.Invite{}, user.ErrInviteNotFound
}

func (repo *inviteRepository) GetPendingInviteByEmail(ctx context.Context, email string) (user.Invite, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, inv := range repo.query() {
		if inv.Email == email && inv.IsPending() {
			return inv, nil
		}
	}
	return user.Invite{}, user.ErrInviteNotFound
}

func (repo *inviteRepository) FilterInvites(ctx context.Context, filter *user.InviteQueryFilter, ordering []core.DBOrdering) ([]user.Invite, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	invites := repo.query()
	if filter != nil {
		invites = applyInviteFilter(invites, filter)
	}
	orderInvites(invites, ordering)
	return invites, nil
}

func applyInviteFilter(invites []user.Invite, filter *user.InviteQueryFilter) []user.Invite {
	if filter.Search != "" {
		var filtered []user.Invite
		for _, inv := range invites {
			if strings.Contains(strings.ToLower(inv.Email), strings.ToLower(filter.Search)) {
				filtered = append(filtered, inv)
			}
		}
		invites = filtered
	}
	if invites != nil && len(filter.Statuses) > 0 {
		var filtered []user.Invite
		for _, inv := range invites {
			for _, status := range filter.Statuses {
				if inv.Status == status {
					filtered = append(filtered, inv)
					break
				}
			}
		}
		invites = filtered
	}
	// an empty role in the filter stands for invitations without a role
	if invites != nil && len(filter.Roles) > 0 {
		var filtered []user.Invite
		for _, inv := range invites {
			for _, r := range filter.Roles {
				if inv.Role == r {
					filtered = append(filtered, inv)
					break
				}
			}
		}
		invites = filtered
	}
	if invites != nil && filter.District != "" {
		var filtered []user.Invite
		for _, inv := range invites {
			if inv.Scope.District == filter.District {
				filtered = append(filtered, inv)
			}
		}
		invites = filtered
	}
	if invites != nil && filter.SchoolName != "" {
		var filtered []user.Invite
		for _, inv := range invites {
			if inv.Scope.SchoolName == filter.SchoolName {
				filtered = append(filtered, inv)
			}
		}
		invites = filtered
	}
	return invites
}

func orderInvites(invites []user.Invite, ordering []core.DBOrdering) {
	for _, ord := range ordering {
		if ord.Field != "created_at" {
			continue
		}
		asc := ord.Ascending
		sort.SliceStable(invites, func(i, j int) bool {
			ti, tj := invites[i].CreatedAt, invites[j].CreatedAt
			if ti.IsZero() || tj.IsZero() {
				return tj.IsZero() && !ti.IsZero()
			}
			if asc {
				return ti.Before(tj)
			}
			return ti.After(tj)
		})
		return
	}
}

func (repo *inviteRepository) UpdateInvite(ctx context.Context, inv user.Invite) (user.Invite, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.invites[inv.ID]; !ok {
		return user.Invite{}, user.ErrInviteNotFound
	}
	repo.db.invites[inv.ID] = &inv
	return inv, nil
}

func (repo *inviteRepository) DeleteInvitesByID(ctx context.Context, ids ...string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	for _, id := range ids {
		delete(repo.db.invites, id)
	}
	return nil
}

func (repo *inviteRepository) ConsumeInvite(ctx context.Context, inv user.Invite, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.invites[inv.ID]
	if !ok || !stored.IsPending() {
		return user.User{}, user.ErrInviteNotFound
	}

	now := time.Now().UTC()
	stored.Status = user.InviteStatusCompleted
	stored.CompletedAt = now
	stored.UpdatedAt = now
	return repo.db.createUser(usr)
}
