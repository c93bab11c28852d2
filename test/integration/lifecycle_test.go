//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-identity-service/internal/middleware"
	"go-identity-service/internal/model"
	"go-identity-service/internal/security"
)

func register(t *testing.T, env *testEnv, username, email, password string) model.PublicUser {
	t.Helper()
	status, body := env.do(t, http.MethodPost, "/api/v1/users", "", map[string]string{
		"username": username, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, status, body.Message)
	return decodeData[model.PublicUser](t, body)
}

func login(t *testing.T, env *testEnv, email, password string) model.Session {
	t.Helper()
	status, body := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, status)
	return decodeData[model.Session](t, body)
}

func TestAccountLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := register(t, env, "alice", "Alice@Example.com", "s3cret-pass")
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, model.RoleUser, user.Role)
	assert.False(t, user.IsVerified)

	var storedHash string
	require.NoError(t, env.pool.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, user.ID).Scan(&storedHash))
	assert.NotEqual(t, "s3cret-pass", storedHash)

	t.Run("duplicate email reported first", func(t *testing.T) {
		status, body := env.do(t, http.MethodPost, "/api/v1/users", "", map[string]string{
			"username": "alice", "email": "alice@example.com", "password": "x",
		})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "CONFLICT", body.Error.Code)
		assert.Contains(t, body.Error.Message, "email")
	})

	t.Run("duplicate username", func(t *testing.T) {
		status, body := env.do(t, http.MethodPost, "/api/v1/users", "", map[string]string{
			"username": "ALICE", "email": "other@example.com", "password": "x",
		})
		assert.Equal(t, http.StatusConflict, status)
		assert.Contains(t, body.Error.Message, "username")
	})

	t.Run("wrong password", func(t *testing.T) {
		status, body := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email": "alice@example.com", "password": "nope",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "error", body.Status)
	})

	session := login(t, env, "alice@example.com", "s3cret-pass")
	assert.Equal(t, "Bearer", session.TokenType)
	assert.Equal(t, int64(86400), session.ExpiresIn)

	status, body := env.do(t, http.MethodGet, "/api/v1/auth/me", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, user.ID, decodeData[model.PublicUser](t, body).ID)

	status, _ = env.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// The delivered token is never persisted, so plant a known one.
	const verifyToken = "integration-verify-token"
	_, err := env.pool.Exec(ctx, `UPDATE users SET verify_token_hash = $2 WHERE id = $1`, user.ID, security.Digest(verifyToken))
	require.NoError(t, err)

	status, body = env.do(t, http.MethodGet, "/api/v1/auth/verify-email/"+verifyToken, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decodeData[model.PublicUser](t, body).IsVerified)

	status, _ = env.do(t, http.MethodGet, "/api/v1/auth/verify-email/"+verifyToken, "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodDelete, "/api/v1/users/"+user.ID, session.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, status, "plain users cannot delete accounts")

	status, _ = env.do(t, http.MethodPost, "/api/v1/users/super-admin", "", map[string]string{
		"username": "root2", "email": "someone@example.com", "password": "root-pass",
	})
	assert.Equal(t, http.StatusNotFound, status, "only the configured address may claim super admin")

	status, body = env.do(t, http.MethodPost, "/api/v1/users/super-admin", "", map[string]string{
		"username": "root", "email": superAdminEmail, "password": "root-pass",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, model.RoleSuperAdmin, decodeData[model.PublicUser](t, body).Role)
	root := login(t, env, superAdminEmail, "root-pass")

	status, body = env.do(t, http.MethodGet, "/api/v1/users/role/user", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	list := decodeData[model.UserList](t, body)
	assert.Equal(t, 1, list.Total)

	status, _ = env.do(t, http.MethodDelete, "/api/v1/users/"+user.ID, root.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodGet, "/api/v1/users/"+user.ID, root.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func TestForgotPasswordIsUniform(t *testing.T) {
	env := newTestEnv(t)
	register(t, env, "bob", "bob@example.com", "bob-pass")

	known, knownBody := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", "", map[string]string{"email": "bob@example.com"})
	unknown, unknownBody := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", "", map[string]string{"email": "ghost@example.com"})

	assert.Equal(t, http.StatusOK, known)
	assert.Equal(t, known, unknown)
	assert.Equal(t, knownBody.Message, unknownBody.Message)

	var pending int
	require.NoError(t, env.pool.QueryRow(context.Background(), `SELECT count(*) FROM password_resets`).Scan(&pending))
	assert.Equal(t, 1, pending)

	status, body := env.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", map[string]string{
		"email": "bob@example.com", "token": "not-a-real-token", "password": "new-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "RESET_TOKEN_INVALID", body.Error.Details)

	// Delivered tokens only exist in the email, so plant a known digest.
	const resetToken = "integration-reset-token"
	_, err := env.pool.Exec(context.Background(),
		`INSERT INTO password_resets (token_hash, user_id, expires_at)
		 SELECT $1, id, now() + interval '1 hour' FROM users WHERE email = 'bob@example.com'`,
		security.Digest(resetToken))
	require.NoError(t, err)

	status, _ = env.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", map[string]string{
		"email": "bob@example.com", "token": resetToken, "password": "new-pass",
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "bob@example.com", "password": "bob-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	login(t, env, "bob@example.com", "new-pass")

	status, body = env.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", map[string]string{
		"email": "bob@example.com", "token": resetToken, "password": "again",
	})
	assert.Equal(t, http.StatusUnauthorized, status, "reset tokens are single use")
	assert.Equal(t, "RESET_TOKEN_INVALID", body.Error.Details)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.server.Client().Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestExternalLogin(t *testing.T) {
	env := newTestEnv(t)
	upstream := map[string]string{middleware.UpstreamSecretHeader: upstreamSecret}

	status, _ := env.do(t, http.MethodPost, "/api/v1/auth/external", "", map[string]string{"email": "ext@example.com"})
	assert.Equal(t, http.StatusUnauthorized, status, "callers must prove they are the upstream provider")

	status, body := env.doWithHeaders(t, http.MethodPost, "/api/v1/auth/external", "", map[string]string{"email": "ext@example.com"}, upstream)
	require.Equal(t, http.StatusCreated, status)
	session := decodeData[model.Session](t, body)
	assert.Equal(t, model.RoleUser, session.User.Role)
	assert.True(t, session.User.IsVerified)

	status, _ = env.doWithHeaders(t, http.MethodPost, "/api/v1/auth/external", "", map[string]string{"email": "ext@example.com"}, upstream)
	assert.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/users/super-admin", "", map[string]string{
		"username": "root", "email": superAdminEmail, "password": "root-pass",
	})
	require.Equal(t, http.StatusCreated, status)

	status, body = env.doWithHeaders(t, http.MethodPost, "/api/v1/auth/external", "", map[string]string{"email": superAdminEmail}, upstream)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Empty(t, body.Data)
}
