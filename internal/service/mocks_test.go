package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"go-identity-service/internal/model"
)

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) FindByID(ctx context.Context, id string) (model.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *mockUsers) FindByEmail(ctx context.Context, email string) (model.User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *mockUsers) FindByUsername(ctx context.Context, username string) (model.User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *mockUsers) ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error) {
	args := m.Called(ctx, email, excludeID)
	return args.Bool(0), args.Error(1)
}

func (m *mockUsers) ExistsByUsername(ctx context.Context, username string, excludeID string) (bool, error) {
	args := m.Called(ctx, username, excludeID)
	return args.Bool(0), args.Error(1)
}

func (m *mockUsers) Create(ctx context.Context, u model.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockUsers) Update(ctx context.Context, u model.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockUsers) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	return m.Called(ctx, userID, passwordHash).Error(0)
}

func (m *mockUsers) SetVerifyToken(ctx context.Context, userID string, digest string) error {
	return m.Called(ctx, userID, digest).Error(0)
}

func (m *mockUsers) ConsumeVerifyToken(ctx context.Context, digest string) (model.User, error) {
	args := m.Called(ctx, digest)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *mockUsers) UpdateProfileImage(ctx context.Context, userID string, key string) error {
	return m.Called(ctx, userID, key).Error(0)
}

func (m *mockUsers) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUsers) List(ctx context.Context) ([]model.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.User), args.Error(1)
}

func (m *mockUsers) ListByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.User), args.Error(1)
}

type mockResets struct {
	mock.Mock
}

func (m *mockResets) Replace(ctx context.Context, reset model.PasswordReset) error {
	return m.Called(ctx, reset).Error(0)
}

func (m *mockResets) FindByTokenHash(ctx context.Context, tokenHash string) (model.PasswordReset, error) {
	args := m.Called(ctx, tokenHash)
	return args.Get(0).(model.PasswordReset), args.Error(1)
}

func (m *mockResets) DeleteByUser(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendVerification(to string, username string, token string) <-chan error {
	return m.Called(to, username, token).Get(0).(<-chan error)
}

func (m *mockNotifier) SendPasswordReset(to string, username string, token string, expiresAt time.Time) <-chan error {
	return m.Called(to, username, token, expiresAt).Get(0).(<-chan error)
}

// delivered returns a result channel that already holds err.
func delivered(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

type mockImages struct {
	mock.Mock
}

func (m *mockImages) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return m.Called(ctx, key, data, contentType).Error(0)
}

func (m *mockImages) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *mockImages) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type mockHasher struct {
	mock.Mock
}

func (m *mockHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *mockHasher) Verify(password string, hash string) bool {
	return m.Called(password, hash).Bool(0)
}

func (m *mockHasher) NeedsRehash(hash string) bool {
	return m.Called(hash).Bool(0)
}

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) Issue(user model.PublicUser, ttl time.Duration) (string, model.AuthClaims, error) {
	args := m.Called(user, ttl)
	return args.String(0), args.Get(1).(model.AuthClaims), args.Error(2)
}

func (m *mockTokens) Validate(token string) (*model.AuthClaims, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AuthClaims), args.Error(1)
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate() (string, string, error) {
	args := m.Called()
	return args.String(0), args.String(1), args.Error(2)
}

type authFixture struct {
	users     *mockUsers
	resets    *mockResets
	notifier  *mockNotifier
	hasher    *mockHasher
	tokens    *mockTokens
	generator *mockGenerator
	svc       *AuthService
	now       time.Time
}

func newAuthFixture(opts AuthOptions) *authFixture {
	f := &authFixture{
		users:     &mockUsers{},
		resets:    &mockResets{},
		notifier:  &mockNotifier{},
		hasher:    &mockHasher{},
		tokens:    &mockTokens{},
		generator: &mockGenerator{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewAuthService(AuthDeps{
		Users:     f.users,
		Resets:    f.resets,
		Hasher:    f.hasher,
		Tokens:    f.tokens,
		Generator: f.generator,
		Notifier:  f.notifier,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, opts)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *authFixture) assertExpectations(t mock.TestingT) {
	f.users.AssertExpectations(t)
	f.resets.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
	f.hasher.AssertExpectations(t)
	f.tokens.AssertExpectations(t)
	f.generator.AssertExpectations(t)
}
