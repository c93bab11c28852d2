package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-identity-service/internal/model"
)

func TestResetRepository_Replace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	reset := model.PasswordReset{
		UserID:    testUserID,
		TokenHash: "digest",
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
	}

	mock.ExpectExec(`(?s)DELETE FROM password_resets WHERE user_id = \$1.+INSERT INTO password_resets`).
		WithArgs(testUserID, "digest", reset.ExpiresAt, reset.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewResetRepository(mock)
	require.NoError(t, repo.Replace(context.Background(), reset))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetRepository_FindByTokenHash(t *testing.T) {
	columns := []string{"user_id", "token_hash", "expires_at", "created_at"}
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT user_id, token_hash, expires_at, created_at`).
			WithArgs("digest").
			WillReturnRows(pgxmock.NewRows(columns).AddRow(testUserID, "digest", now.Add(time.Hour), now))

		reset, err := NewResetRepository(mock).FindByTokenHash(context.Background(), "digest")
		require.NoError(t, err)
		assert.Equal(t, testUserID, reset.UserID)
		assert.False(t, reset.ExpiredAt(now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT user_id, token_hash, expires_at, created_at`).
			WithArgs("digest").
			WillReturnRows(pgxmock.NewRows(columns))

		_, err = NewResetRepository(mock).FindByTokenHash(context.Background(), "digest")
		assert.ErrorIs(t, err, model.ErrResetNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestResetRepository_DeleteExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM password_resets WHERE expires_at <= \$1`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := NewResetRepository(mock).DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
