package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go-identity-service/internal/model"
)

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) Register(ctx context.Context, req model.RegisterRequest) (model.PublicUser, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.PublicUser), args.Error(1)
}

func (m *mockAuthService) RegisterSuperAdmin(ctx context.Context, req model.RegisterRequest) (model.PublicUser, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.PublicUser), args.Error(1)
}

func (m *mockAuthService) Login(ctx context.Context, req model.LoginRequest) (model.Session, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.Session), args.Error(1)
}

func (m *mockAuthService) ExternalLogin(ctx context.Context, req model.ExternalLoginRequest) (model.Session, bool, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.Session), args.Bool(1), args.Error(2)
}

func (m *mockAuthService) CurrentUser(ctx context.Context, claims model.AuthClaims) (model.PublicUser, error) {
	args := m.Called(ctx, claims)
	return args.Get(0).(model.PublicUser), args.Error(1)
}

func (m *mockAuthService) VerifyEmail(ctx context.Context, token string) (model.PublicUser, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(model.PublicUser), args.Error(1)
}

func (m *mockAuthService) ResendVerification(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockAuthService) ForgotPassword(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockAuthService) ResetPassword(ctx context.Context, req model.ResetPasswordRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockAuthService) ChangePassword(ctx context.Context, userID string, req model.ChangePasswordRequest) error {
	return m.Called(ctx, userID, req).Error(0)
}

func (m *mockAuthService) SetPassword(ctx context.Context, actor model.AuthClaims, userID string, req model.SetPasswordRequest) error {
	return m.Called(ctx, actor, userID, req).Error(0)
}

type mockUserService struct {
	mock.Mock
}

func (m *mockUserService) List(ctx context.Context) ([]model.PublicUser, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.PublicUser), args.Error(1)
}

func (m *mockUserService) ListByRole(ctx context.Context, role string) ([]model.PublicUser, error) {
	args := m.Called(ctx, role)
	return args.Get(0).([]model.PublicUser), args.Error(1)
}

func (m *mockUserService) GetByID(ctx context.Context, id string) (model.PublicUser, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.PublicUser), args.Error(1)
}

func (m *mockUserService) GetByUsername(ctx context.Context, username string) (model.PublicUser, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(model.PublicUser), args.Error(1)
}

func (m *mockUserService) Update(ctx context.Context, actor model.AuthClaims, id string, patch model.UserPatch) (model.PublicUser, error) {
	args := m.Called(ctx, actor, id, patch)
	return args.Get(0).(model.PublicUser), args.Error(1)
}

func (m *mockUserService) Delete(ctx context.Context, actor model.AuthClaims, id string) error {
	return m.Called(ctx, actor, id).Error(0)
}

func (m *mockUserService) UpdateProfileImage(ctx context.Context, id string, upload io.Reader) (model.PublicUser, error) {
	args := m.Called(ctx, id, upload)
	return args.Get(0).(model.PublicUser), args.Error(1)
}

func (m *mockUserService) ProfileImage(ctx context.Context, id string) (io.ReadCloser, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
