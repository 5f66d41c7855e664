package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sankofadev/ripoti/core"
	"github.com/sankofadev/ripoti/core/user"
)

type inviteRepository struct {
	db *sqlx.DB
}

var _ user.InviteRepository = (*inviteRepository)(nil) // interface compliance check

func NewInviteRepository(db *sql.DB) *inviteRepository {
	return &inviteRepository{db: sqlx.NewDb(db, core.Conf.Database.Engine)}
}

type inviteRow struct {
	ID          string         `db:"id"`
	Email       null.String    `db:"email"`
	Status      null.String    `db:"status"`
	Role        null.String    `db:"role"`
	Region      null.String    `db:"region"`
	District    null.String    `db:"district"`
	Circuit     null.String    `db:"circuit"`
	SchoolName  null.String    `db:"school_name"`
	ClassNames  pq.StringArray `db:"class_names"`
	CreatedAt   null.Time      `db:"created_at"`
	UpdatedAt   null.Time      `db:"updated_at"`
	CompletedAt null.Time      `db:"completed_at"`
}

func packInvite(inv user.Invite) inviteRow {
	return inviteRow{
		ID:          inv.ID,
		Email:       null.NewString(inv.Email, inv.Email != ""),
		Status:      null.NewString(inv.Status, inv.Status != ""),
		Role:        null.NewString(inv.Role, inv.Role != ""),
		Region:      null.NewString(inv.Scope.Region, inv.Scope.Region != ""),
		District:    null.NewString(inv.Scope.District, inv.Scope.District != ""),
		Circuit:     null.NewString(inv.Scope.Circuit, inv.Scope.Circuit != ""),
		SchoolName:  null.NewString(inv.Scope.SchoolName, inv.Scope.SchoolName != ""),
		ClassNames:  pq.StringArray(inv.Scope.ClassNames),
		CreatedAt:   null.NewTime(inv.CreatedAt.UTC(), !inv.CreatedAt.IsZero()),
		UpdatedAt:   null.NewTime(inv.UpdatedAt.UTC(), !inv.UpdatedAt.IsZero()),
		CompletedAt: null.NewTime(inv.CompletedAt.UTC(), !inv.CompletedAt.IsZero()),
	}
}

func unpackInvite(row inviteRow) user.Invite {
	return user.Invite{
		ID:     row.ID,
		Email:  row.Email.String,
		Status: row.Status.String,
		Role:   row.Role.String,
		Scope: user.Scope{
			Region:     row.Region.String,
			District:   row.District.String,
			Circuit:    row.Circuit.String,
			SchoolName: row.SchoolName.String,
			ClassNames: []string(row.ClassNames),
		},
		CreatedAt:   row.CreatedAt.Time,
		UpdatedAt:   row.UpdatedAt.Time,
		CompletedAt: row.CompletedAt.Time,
	}
}

func unpackInvites(rows []inviteRow) []user.Invite {
	invites := make([]user.Invite, 0, len(rows))
	for _, row := range rows {
		invites = append(invites, unpackInvite(row))
	}
	return invites
}

const insertInviteQuery = `
INSERT INTO invitations (id, email, status, role, region, district, circuit, school_name, class_names, created_at, updated_at, completed_at)
VALUES (:id, :email, :status, :role, :region, :district, :circuit, :school_name, :class_names, :created_at, :updated_at, :completed_at)`

const updateInviteQuery = `
UPDATE invitations
SET email = :email, status = :status, role = :role, region = :region, district = :district,
    circuit = :circuit, school_name = :school_name, class_names = :class_names,
    updated_at = :updated_at, completed_at = :completed_at
WHERE id = :id`

func (repo inviteRepository) CreateInvite(ctx context.Context, inv user.Invite) (user.Invite, error) {
	inv.ID = uuid.New().String()
	if _, err := repo.db.NamedExecContext(ctx, insertInviteQuery, packInvite(inv)); err != nil {
		// the partial unique index arbitrates concurrent creates
		if isUniqueViolation(err, "invitations_pending_email_key") {
			return user.Invite{}, user.ErrInviteExists
		}
		return user.Invite{}, errors.Wrap(err, "inserting invitation")
	}
	return inv, nil
}

func (repo inviteRepository) GetInviteByID(ctx context.Context, id string) (user.Invite, error) {
	var row inviteRow
	if err := repo.db.GetContext(ctx, &row, "SELECT * FROM invitations WHERE id = $1", id); err != nil {
		return user.Invite{}, trapNoRowsErr(err, user.ErrInviteNotFound, "getting invitation by ID")
	}
	return unpackInvite(row), nil
}

func (repo inviteRepository) GetPendingInviteByEmail(ctx context.Context, email string) (user.Invite, error) {
	var row inviteRow
	err := repo.db.GetContext(ctx, &row, "SELECT * FROM invitations WHERE email = $1 AND status = $2", email, user.InviteStatusPending)
	if err != nil {
		return user.Invite{}, trapNoRowsErr(err, user.ErrInviteNotFound, "getting pending invitation by email")
	}
	return unpackInvite(row), nil
}

func (repo inviteRepository) FilterInvites(ctx context.Context, filter *user.InviteQueryFilter, ordering []core.DBOrdering) ([]user.Invite, error) {
	query := "SELECT * FROM invitations"
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.Search != "" {
			conds = append(conds, "email ILIKE ?")
			args = append(args, "%"+filter.Search+"%")
		}
		if len(filter.Statuses) > 0 {
			conds = append(conds, "status IN (?)")
			args = append(args, filter.Statuses)
		}
		if len(filter.Roles) > 0 {
			roles, withUnassigned := splitUnassigned(filter.Roles)
			switch {
			case len(roles) > 0 && withUnassigned:
				conds = append(conds, "(role IN (?) OR role IS NULL)")
				args = append(args, roles)
			case len(roles) > 0:
				conds = append(conds, "role IN (?)")
				args = append(args, roles)
			default:
				conds = append(conds, "role IS NULL")
			}
		}
		if filter.District != "" {
			conds = append(conds, "district = ?")
			args = append(args, filter.District)
		}
		if filter.SchoolName != "" {
			conds = append(conds, "school_name = ?")
			args = append(args, filter.SchoolName)
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderClause(ordering)

	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "building invitations query")
	}

	var rows []inviteRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), expanded...); err != nil {
		return nil, errors.Wrap(err, "querying invitations")
	}
	return unpackInvites(rows), nil
}

func (repo inviteRepository) UpdateInvite(ctx context.Context, inv user.Invite) (user.Invite, error) {
	res, err := repo.db.NamedExecContext(ctx, updateInviteQuery, packInvite(inv))
	if err != nil {
		return user.Invite{}, errors.Wrap(err, "updating invitation")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.Invite{}, user.ErrInviteNotFound
	}
	return inv, nil
}

func (repo inviteRepository) DeleteInvitesByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM invitations WHERE id IN (?)", ids)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	if _, err := repo.db.ExecContext(ctx, repo.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "deleting invitations")
	}
	return nil
}

// ConsumeInvite completes inv and creates usr in one transaction. Completion
// is a conditional write on the pending status: whichever concurrent
// registration loses the race observes zero affected rows and fails as
// not-found.
func (repo inviteRepository) ConsumeInvite(ctx context.Context, inv user.Invite, usr user.User) (user.User, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return user.User{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"UPDATE invitations SET status = $1, completed_at = $2, updated_at = $2 WHERE id = $3 AND status = $4",
		user.InviteStatusCompleted, now, inv.ID, user.InviteStatusPending,
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "completing invitation")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrInviteNotFound
	}

	usr.ID = uuid.New().String()
	if _, err := tx.NamedExecContext(ctx, insertUserQuery, packUser(usr)); err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}

	if err := tx.Commit(); err != nil {
		return user.User{}, errors.Wrap(err, "committing transaction")
	}
	return usr, nil
}

func splitUnassigned(roles []string) (assigned []string, withUnassigned bool) {
	for _, role := range roles {
		if role == "" {
			withUnassigned = true
			continue
		}
		assigned = append(assigned, role)
	}
	return assigned, withUnassigned
}
