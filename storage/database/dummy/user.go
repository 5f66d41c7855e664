package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/sankofadev/ripoti/core"
	"github.com/sankofadev/ripoti/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.users))
	for _, u := range repo.db.users {
		users = append(users, *u)
	}
	return users
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...user.User) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	excluded := make(map[string]struct{}, len(excludedUsers))
	for _, usr := range excludedUsers {
		excluded[usr.ID] = struct{}{}
	}
	for _, usr := range repo.query() {
		if _, ok := excluded[usr.ID]; ok {
			continue
		}
		if usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	return repo.db.createUser(usr)
}

// createUser inserts without locking; callers hold db.Lock.
func (db *DB) createUser(usr user.User) (user.User, error) {
	for _, u := range db.users {
		if u.Email == usr.Email {
			return user.User{}, user.ErrEmailExists
		}
	}
	usr.ID = uuid.New().String()
	db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if usr, ok := repo.db.users[id]; ok {
		return *usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, usr := range repo.query() {
		if usr.Email == email {
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := repo.query()
	if filter != nil {
		users = applyUserFilter(users, filter)
	}
	orderUsers(users, ordering)
	return users, nil
}

func applyUserFilter(users []user.User, filter *user.QueryFilter) []user.User {
	// users with search keyword matching Name or Email ?
	if filter.Search != "" {
		var filtered []user.User
		for _, u := range users {
			if strings.Contains(strings.ToLower(u.Name), strings.ToLower(filter.Search)) ||
				strings.Contains(strings.ToLower(u.Email), strings.ToLower(filter.Search)) {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	// users with any of the specified roles
	if users != nil && len(filter.Roles) > 0 {
		var filtered []user.User
		for _, u := range users {
			for _, r := range filter.Roles {
				if u.Role == r {
					filtered = append(filtered, u)
					break
				}
			}
		}
		users = filtered
	}
	if users != nil && filter.IsActive != nil {
		var filtered []user.User
		for _, u := range users {
			if u.IsActive == *filter.IsActive {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	if users != nil && !filter.CreatedFrom.IsZero() {
		var filtered []user.User
		timeUTC := filter.CreatedFrom.UTC()
		for _, u := range users {
			if u.CreatedAt.Equal(timeUTC) || u.CreatedAt.After(timeUTC) {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	if users != nil && !filter.CreatedTo.IsZero() {
		var filtered []user.User
		timeUTC := filter.CreatedTo.UTC()
		for _, u := range users {
			if u.CreatedAt.Before(timeUTC) || u.CreatedAt.Equal(timeUTC) {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	if users != nil && filter.District != "" {
		var filtered []user.User
		for _, u := range users {
			if u.Scope.District == filter.District {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	if users != nil && filter.SchoolName != "" {
		var filtered []user.User
		for _, u := range users {
			if u.Scope.SchoolName == filter.SchoolName {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	if users != nil && len(filter.ExcludedIDs) > 0 {
		excluded := make(map[string]struct{}, len(filter.ExcludedIDs))
		for _, id := range filter.ExcludedIDs {
			excluded[id] = struct{}{}
		}
		var filtered []user.User
		for _, u := range users {
			if _, ok := excluded[u.ID]; !ok {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	return users
}

// orderUsers only understands created_at ordering. Records without a
// timestamp always sort last, matching the SQL NULLS LAST clause.
func orderUsers(users []user.User, ordering []core.DBOrdering) {
	for _, ord := range ordering {
		if ord.Field != "created_at" {
			continue
		}
		asc := ord.Ascending
		sort.SliceStable(users, func(i, j int) bool {
			ti, tj := users[i].CreatedAt, users[j].CreatedAt
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

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for id, u := range repo.db.users {
		if u.Email == usr.Email {
			usr.ID = id
			repo.db.users[id] = &usr
			return usr, nil
		}
	}
	return repo.db.createUser(usr)
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	for _, id := range ids {
		delete(repo.db.users, id)
	}
	return nil
}
