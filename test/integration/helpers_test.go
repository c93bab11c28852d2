//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"go-identity-service/internal/app"
	"go-identity-service/internal/config"
)

const (
	superAdminEmail = "root@example.com"
	upstreamSecret  = "integration-upstream-secret-0123456789"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

type testEnv struct {
	server *httptest.Server
	pool   *pgxpool.Pool
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("identity"),
		postgres.WithUsername("identity"),
		postgres.WithPassword("identity"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := startPostgres(t)

	cfg := &config.Config{
		ServerPort:         "0",
		ServerReadTimeout:  5 * time.Second,
		ServerWriteTimeout: 5 * time.Second,
		ServerIdleTimeout:  30 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		RequestTimeout:     10 * time.Second,

		DatabaseURL: dsn,
		DBMaxConns:  4,
		DBMinConns:  1,
		AutoMigrate: true,

		JWTSecret: "integration-secret-0123456789abcdef",
		JWTIssuer: "identity-integration",
		JWTTTL:    24 * time.Hour,

		HashAlgorithm: "bcrypt",
		BcryptCost:    4,

		SuperAdminEmail:     superAdminEmail,
		FrontendURL:         "http://localhost:3000",
		ExternalLoginSecret: upstreamSecret,
		ResetTokenTTL:       time.Hour,
		ResetStore:          "postgres",

		MailDriver:  "log",
		MailFrom:    "no-reply@example.com",
		MailWorkers: 2,
		MailTimeout: 5 * time.Second,

		ImageStore:           "local",
		ImageRoot:            t.TempDir(),
		ProfileImageMaxBytes: 1 << 20,
		ProfileImageMaxDim:   128,

		CORSOrigins:      []string{"*"},
		RateLimitRPM:     1000,
		AuthRateLimitRPM: 1000,

		LogLevel:  "error",
		LogFormat: "json",
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a, err := app.New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	server := httptest.NewServer(a.Handler())
	t.Cleanup(server.Close)

	return &testEnv{server: server, pool: pool}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	return e.doWithHeaders(t, method, path, token, body, nil)
}

func (e *testEnv) doWithHeaders(t *testing.T, method, path, token string, body any, headers map[string]string) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}
