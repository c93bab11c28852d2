package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"go-identity-service/internal/model"
)

// ResetRepository keeps password reset digests in PostgreSQL.
type ResetRepository struct {
	db  DBTX
	now func() time.Time
}

func NewResetRepository(db DBTX) *ResetRepository {
	return &ResetRepository{db: db, now: time.Now}
}

// Replace stores reset and drops any earlier outstanding reset of the same
// user, so only the newest link works.
func (r *ResetRepository) Replace(ctx context.Context, reset model.PasswordReset) error {
	_, err := r.db.Exec(ctx, `
		WITH purged AS (
			DELETE FROM password_resets WHERE user_id = $1
		)
		INSERT INTO password_resets (token_hash, user_id, expires_at, created_at)
		VALUES ($2, $1, $3, $4)
	`, reset.UserID, reset.TokenHash, reset.ExpiresAt, reset.CreatedAt)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "replace password_reset").
			With("user_id", reset.UserID).
			Wrap(err)
	}
	return nil
}

func (r *ResetRepository) FindByTokenHash(ctx context.Context, tokenHash string) (model.PasswordReset, error) {
	var reset model.PasswordReset
	err := r.db.QueryRow(ctx, `
		SELECT user_id, token_hash, expires_at, created_at
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash).Scan(&reset.UserID, &reset.TokenHash, &reset.ExpiresAt, &reset.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PasswordReset{}, oops.Code("RESET_NOT_FOUND").Wrap(model.ErrResetNotFound)
	}
	if err != nil {
		return model.PasswordReset{}, oops.Code("RESET_QUERY_FAILED").
			With("operation", "find password_reset by token hash").
			Wrap(err)
	}
	return reset, nil
}

func (r *ResetRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID)
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete password_resets by user").
			With("user_id", userID).
			Wrap(err)
	}
	// No rows deleted is a valid state.
	return nil
}

// DeleteExpired removes lapsed resets and returns how many were dropped.
func (r *ResetRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM password_resets WHERE expires_at <= $1`, r.now().UTC())
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}
