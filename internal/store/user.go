package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/usermgmt/apiserver/types"
)

const uniqueViolation = "23505"

const userColumns = `id, full_name, email, password_hash, role, status, last_login, created_at, updated_at`

// UserRepository handles persistence for users in Postgres.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	var user types.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return types.User{}, mapError(err)
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	var user types.User
	if err := r.db.GetContext(ctx, &user, query, types.NormalizeEmail(email)); err != nil {
		return types.User{}, mapError(err)
	}
	return user, nil
}

// Create inserts a new user. Missing id, role, and status are defaulted.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	user = prepareNew(user, time.Now())

	const query = `
		INSERT INTO users (id, full_name, email, password_hash, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.FullName,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Status,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		return types.User{}, mapError(err)
	}
	return user, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, fullName, email string) (types.User, error) {
	const query = `
		UPDATE users
		SET full_name = $1,
			email = $2,
			updated_at = $3
		WHERE id = $4
		RETURNING ` + userColumns
	var user types.User
	if err := r.db.GetContext(ctx, &user, query, fullName, types.NormalizeEmail(email), time.Now(), id); err != nil {
		return types.User{}, mapError(err)
	}
	return user, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`
	return r.exec(ctx, query, passwordHash, time.Now(), id)
}

func (r *UserRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status types.Status) (types.User, error) {
	const query = `UPDATE users SET status = $1, updated_at = $2 WHERE id = $3 RETURNING ` + userColumns
	var user types.User
	if err := r.db.GetContext(ctx, &user, query, status, time.Now(), id); err != nil {
		return types.User{}, mapError(err)
	}
	return user, nil
}

// UpdateRole is the only write path that changes a user's role.
func (r *UserRepository) UpdateRole(ctx context.Context, id uuid.UUID, role types.Role) (types.User, error) {
	const query = `UPDATE users SET role = $1, updated_at = $2 WHERE id = $3 RETURNING ` + userColumns
	var user types.User
	if err := r.db.GetContext(ctx, &user, query, role, time.Now(), id); err != nil {
		return types.User{}, mapError(err)
	}
	return user, nil
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) (types.User, error) {
	const query = `UPDATE users SET last_login = $1, updated_at = $1 WHERE id = $2 RETURNING ` + userColumns
	var user types.User
	if err := r.db.GetContext(ctx, &user, query, at, id); err != nil {
		return types.User{}, mapError(err)
	}
	return user, nil
}

// List returns a page of users, most recently created first, and the total count.
func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, 0, err
	}

	const query = `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	users := []types.User{}
	if err := r.db.SelectContext(ctx, &users, query, limit, offset); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func prepareNew(user types.User, now time.Time) types.User {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = types.RoleUser
	}
	if user.Status == "" {
		user.Status = types.StatusActive
	}
	user.Email = types.NormalizeEmail(user.Email)
	user.FullName = strings.TrimSpace(user.FullName)
	user.CreatedAt = now
	user.UpdatedAt = now
	user.LastLogin = nil
	return user
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &DuplicateKeyError{Field: constraintField(pqErr.Constraint)}
	}
	return err
}

// constraintField turns "users_email_key" into "email".
func constraintField(constraint string) string {
	field := strings.TrimPrefix(constraint, "users_")
	field = strings.TrimSuffix(field, "_key")
	if field == "" {
		return "value"
	}
	return field
}
