package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"go-identity-service/internal/model"
)

const userColumns = `id, username, email, password_hash, role, is_verified,
		verify_token_hash, profile_image, created_at, updated_at`

type UserRepository struct {
	db  DBTX
	now func() time.Time
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	if !validID(id) {
		return model.User{}, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(model.ErrUserNotFound)
	}

	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(model.ErrUserNotFound)
	}
	if err != nil {
		return model.User{}, oops.Code("USER_QUERY_FAILED").With("operation", "find user by id").Wrap(err)
	}
	return u, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, model.NormalizeEmail(email))

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, oops.Code("USER_NOT_FOUND").Wrap(model.ErrUserNotFound)
	}
	if err != nil {
		return model.User{}, oops.Code("USER_QUERY_FAILED").With("operation", "find user by email").Wrap(err)
	}
	return u, nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (model.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, strings.TrimSpace(username))

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, oops.Code("USER_NOT_FOUND").With("username", username).Wrap(model.ErrUserNotFound)
	}
	if err != nil {
		return model.User{}, oops.Code("USER_QUERY_FAILED").With("operation", "find user by username").Wrap(err)
	}
	return u, nil
}

// ExistsByEmail reports whether another account holds email. excludeID may be
// empty; otherwise that account is ignored so updates can keep their own value.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND ($2 = '' OR id::text <> $2))`,
		model.NormalizeEmail(email), excludeID).Scan(&exists)
	if err != nil {
		return false, oops.Code("USER_QUERY_FAILED").With("operation", "check email exists").Wrap(err)
	}
	return exists, nil
}

func (r *UserRepository) ExistsByUsername(ctx context.Context, username string, excludeID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE lower(username) = lower($1) AND ($2 = '' OR id::text <> $2))`,
		strings.TrimSpace(username), excludeID).Scan(&exists)
	if err != nil {
		return false, oops.Code("USER_QUERY_FAILED").With("operation", "check username exists").Wrap(err)
	}
	return exists, nil
}

func (r *UserRepository) Create(ctx context.Context, u model.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.Username, model.NormalizeEmail(u.Email), u.PasswordHash, string(u.Role), u.IsVerified,
		u.VerifyTokenHash, u.ProfileImage, u.CreatedAt, u.UpdatedAt)
	if constraint, ok := isUniqueViolation(err); ok {
		return oops.Code("USER_ALREADY_EXISTS").With("constraint", constraint).Wrap(model.ErrUserAlreadyExists)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").With("user_id", u.ID).Wrap(err)
	}
	return nil
}

// Update persists the mutable profile fields: username, email and role.
func (r *UserRepository) Update(ctx context.Context, u model.User) error {
	if !validID(u.ID) {
		return oops.Code("USER_NOT_FOUND").With("user_id", u.ID).Wrap(model.ErrUserNotFound)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET username = $2, email = $3, role = $4, updated_at = $5 WHERE id = $1`,
		u.ID, u.Username, model.NormalizeEmail(u.Email), string(u.Role), r.now())
	if constraint, ok := isUniqueViolation(err); ok {
		return oops.Code("USER_ALREADY_EXISTS").With("constraint", constraint).Wrap(model.ErrUserAlreadyExists)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("user_id", u.ID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", u.ID).Wrap(model.ErrUserNotFound)
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	if !validID(userID) {
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(model.ErrUserNotFound)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, r.now())
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("operation", "update password").With("user_id", userID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(model.ErrUserNotFound)
	}
	return nil
}

// SetVerifyToken replaces the outstanding verification digest of an
// unverified account.
func (r *UserRepository) SetVerifyToken(ctx context.Context, userID string, digest string) error {
	if !validID(userID) {
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(model.ErrUserNotFound)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET verify_token_hash = $2, updated_at = $3 WHERE id = $1 AND NOT is_verified`,
		userID, digest, r.now())
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("operation", "set verify token").With("user_id", userID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(model.ErrUserNotFound)
	}
	return nil
}

// ConsumeVerifyToken marks the account owning digest verified and clears the
// digest in one statement, so two concurrent consumers cannot both succeed.
func (r *UserRepository) ConsumeVerifyToken(ctx context.Context, digest string) (model.User, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE users SET is_verified = true, verify_token_hash = NULL, updated_at = $2
		 WHERE verify_token_hash = $1
		 RETURNING `+userColumns, digest, r.now())

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, oops.Code("VERIFY_TOKEN_NOT_FOUND").Wrap(model.ErrUserNotFound)
	}
	if err != nil {
		return model.User{}, oops.Code("USER_UPDATE_FAILED").With("operation", "consume verify token").Wrap(err)
	}
	return u, nil
}

func (r *UserRepository) UpdateProfileImage(ctx context.Context, userID string, key string) error {
	if !validID(userID) {
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(model.ErrUserNotFound)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET profile_image = $2, updated_at = $3 WHERE id = $1`,
		userID, key, r.now())
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("operation", "update profile image").With("user_id", userID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(model.ErrUserNotFound)
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(model.ErrUserNotFound)
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").With("user_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(model.ErrUserNotFound)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, username`)
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("operation", "list users").Wrap(err)
	}
	return collectUsers(rows)
}

func (r *UserRepository) ListByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY created_at, username`, string(role))
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("operation", "list users by role").With("role", string(role)).Wrap(err)
	}
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]model.User, error) {
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, oops.Code("USER_SCAN_FAILED").Wrap(err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("operation", "iterate users").Wrap(err)
	}
	return users, nil
}

// scanUser leaves pgx.ErrNoRows unwrapped for callers to translate.
func scanUser(row pgx.Row) (model.User, error) {
	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.IsVerified,
		&u.VerifyTokenHash, &u.ProfileImage, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	return u, nil
}

// validID guards uuid columns: a malformed id from a URL is an absent user,
// not a driver error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
