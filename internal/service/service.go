// Package service implements the account lifecycle: registration, login,
// email verification, password reset and change, and user administration.
// Every expected failure leaves as an *apierror.APIError; anything else is
// logged and surfaced as a generic internal error.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"go-identity-service/internal/logger"
	"go-identity-service/internal/model"
	"go-identity-service/pkg/apierror"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByUsername(ctx context.Context, username string) (model.User, error)
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
	ExistsByUsername(ctx context.Context, username string, excludeID string) (bool, error)
	Create(ctx context.Context, u model.User) error
	Update(ctx context.Context, u model.User) error
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error
	SetVerifyToken(ctx context.Context, userID string, digest string) error
	ConsumeVerifyToken(ctx context.Context, digest string) (model.User, error)
	UpdateProfileImage(ctx context.Context, userID string, key string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.User, error)
	ListByRole(ctx context.Context, role model.Role) ([]model.User, error)
}

type ResetStore interface {
	Replace(ctx context.Context, reset model.PasswordReset) error
	FindByTokenHash(ctx context.Context, tokenHash string) (model.PasswordReset, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// Notifier queues account emails. The returned channel yields the delivery
// result once; callers that do not care may drop it.
type Notifier interface {
	SendVerification(to string, username string, token string) <-chan error
	SendPasswordReset(to string, username string, token string, expiresAt time.Time) <-chan error
}

type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) bool
	NeedsRehash(hash string) bool
}

type TokenIssuer interface {
	Issue(user model.PublicUser, ttl time.Duration) (string, model.AuthClaims, error)
	Validate(token string) (*model.AuthClaims, error)
}

type TokenGenerator interface {
	Generate() (token string, digest string, err error)
}

type AuthRecorder interface {
	AuthEvent(event string, success bool)
}

type nopRecorder struct{}

func (nopRecorder) AuthEvent(string, bool) {}

// fail passes API errors through and hides everything else behind a
// generic internal error after logging it.
func fail(log *slog.Logger, msg string, err error) error {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	logger.LogError(log, msg, err)
	return apierror.Internal()
}

// parseEmail accepts a bare address only, returning it normalized.
func parseEmail(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Name != "" || addr.Address != trimmed {
		return "", false
	}
	return model.NormalizeEmail(addr.Address), true
}

const maxUsernameLength = 64

func validUsername(username string) bool {
	if username == "" || len(username) > maxUsernameLength {
		return false
	}
	return !strings.ContainsAny(username, " \t\r\n/\\")
}
