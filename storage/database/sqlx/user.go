package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sankofadev/ripoti/core"
	"github.com/sankofadev/ripoti/core/user"
)

const pqUniqueViolation = "23505"

// orderable whitelists the directory ordering fields.
var orderable = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"last_login": true,
	"name":       true,
	"email":      true,
	"role":       true,
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sql.DB) *userRepository {
	return &userRepository{db: sqlx.NewDb(db, core.Conf.Database.Engine)}
}

type userRow struct {
	ID           string         `db:"id"`
	Name         null.String    `db:"name"`
	Email        null.String    `db:"email"`
	Telephone    null.String    `db:"telephone"`
	Role         null.String    `db:"role"`
	IsActive     bool           `db:"is_active"`
	Region       null.String    `db:"region"`
	District     null.String    `db:"district"`
	Circuit      null.String    `db:"circuit"`
	SchoolName   null.String    `db:"school_name"`
	ClassNames   pq.StringArray `db:"class_names"`
	PasswordHash null.Bytes     `db:"password_hash"`
	CreatedAt    null.Time      `db:"created_at"`
	UpdatedAt    null.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func packUser(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		Name:         null.NewString(usr.Name, usr.Name != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		Telephone:    null.NewString(usr.Telephone, usr.Telephone != ""),
		Role:         null.NewString(usr.Role, usr.Role != ""),
		IsActive:     usr.IsActive,
		Region:       null.NewString(usr.Scope.Region, usr.Scope.Region != ""),
		District:     null.NewString(usr.Scope.District, usr.Scope.District != ""),
		Circuit:      null.NewString(usr.Scope.Circuit, usr.Scope.Circuit != ""),
		SchoolName:   null.NewString(usr.Scope.SchoolName, usr.Scope.SchoolName != ""),
		ClassNames:   pq.StringArray(usr.Scope.ClassNames),
		PasswordHash: null.BytesFrom(usr.PasswordHash),
		CreatedAt:    null.NewTime(usr.CreatedAt.UTC(), !usr.CreatedAt.IsZero()),
		UpdatedAt:    null.NewTime(usr.UpdatedAt.UTC(), !usr.UpdatedAt.IsZero()),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func unpackUser(row userRow) user.User {
	return user.User{
		ID:        row.ID,
		Name:      row.Name.String,
		Email:     row.Email.String,
		Telephone: row.Telephone.String,
		Role:      row.Role.String,
		IsActive:  row.IsActive,
		Scope: user.Scope{
			Region:     row.Region.String,
			District:   row.District.String,
			Circuit:    row.Circuit.String,
			SchoolName: row.SchoolName.String,
			ClassNames: []string(row.ClassNames),
		},
		PasswordHash: row.PasswordHash.Bytes,
		CreatedAt:    row.CreatedAt.Time,
		UpdatedAt:    row.UpdatedAt.Time,
		LastLogin:    row.LastLogin.Time,
	}
}

func unpackUsers(rows []userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, unpackUser(row))
	}
	return users
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func trapNoRowsErr(err error, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error, constraint string) bool {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return pqErr.Code == pqUniqueViolation && pqErr.Constraint == constraint
	}
	return false
}

// orderClause renders an ORDER BY clause; NULLS LAST so that records with no
// timestamp sort after dated ones.
func orderClause(ordering []core.DBOrdering) string {
	parts := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if !orderable[ord.Field] {
			continue
		}
		parts = append(parts, ord.String()+" NULLS LAST")
	}
	if len(parts) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

const insertUserQuery = `
INSERT INTO users (id, name, email, telephone, role, is_active, region, district, circuit, school_name, class_names, password_hash, created_at, updated_at, last_login)
VALUES (:id, :name, :email, :telephone, :role, :is_active, :region, :district, :circuit, :school_name, :class_names, :password_hash, :created_at, :updated_at, :last_login)`

const updateUserQuery = `
UPDATE users
SET name = :name, email = :email, telephone = :telephone, role = :role, is_active = :is_active,
    region = :region, district = :district, circuit = :circuit, school_name = :school_name,
    class_names = :class_names, password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
WHERE id = :id`

func (repo userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...user.User) error {
	query := "SELECT EXISTS (SELECT 1 FROM users WHERE email = ?"
	args := []interface{}{email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		query += " AND id NOT IN (?)"
		args = append(args, ids)
	}
	query += ")"

	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return errors.Wrap(err, "building uniqueness query")
	}

	var exists bool
	if err := repo.db.GetContext(ctx, &exists, repo.db.Rebind(query), expanded...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	if exists {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	if _, err := repo.db.NamedExecContext(ctx, insertUserQuery, packUser(usr)); err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	var row userRow
	if err := repo.db.GetContext(ctx, &row, "SELECT * FROM users WHERE id = $1", id); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "getting user by ID")
	}
	return unpackUser(row), nil
}

func (repo userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	if err := repo.db.GetContext(ctx, &row, "SELECT * FROM users WHERE email = $1", email); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "getting user by email")
	}
	return unpackUser(row), nil
}

func (repo userRepository) FilterUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	query := "SELECT * FROM users"
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.Search != "" {
			conds = append(conds, "(name ILIKE ? OR email ILIKE ?)")
			like := "%" + filter.Search + "%"
			args = append(args, like, like)
		}
		if len(filter.Roles) > 0 {
			conds = append(conds, "role IN (?)")
			args = append(args, filter.Roles)
		}
		if filter.IsActive != nil {
			conds = append(conds, "is_active = ?")
			args = append(args, *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			conds = append(conds, "created_at >= ?")
			args = append(args, filter.CreatedFrom)
		}
		if !filter.CreatedTo.IsZero() {
			conds = append(conds, "created_at <= ?")
			args = append(args, filter.CreatedTo)
		}
		if filter.District != "" {
			conds = append(conds, "district = ?")
			args = append(args, filter.District)
		}
		if filter.SchoolName != "" {
			conds = append(conds, "school_name = ?")
			args = append(args, filter.SchoolName)
		}
		if len(filter.ExcludedIDs) > 0 {
			conds = append(conds, "id NOT IN (?)")
			args = append(args, filter.ExcludedIDs)
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderClause(ordering)

	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "building users query")
	}

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), expanded...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return unpackUsers(rows), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	res, err := repo.db.NamedExecContext(ctx, updateUserQuery, packUser(usr))
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID != "" {
		return repo.UpdateUser(ctx, usr)
	}
	return repo.CreateUser(ctx, usr)
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM users WHERE id IN (?)", ids)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	if _, err := repo.db.ExecContext(ctx, repo.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}
