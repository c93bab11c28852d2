package database

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// gooseRun is a seam for tests.
var gooseRun = func(ctx context.Context, command string, db *DB) error {
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.RunContext(ctx, command, sqlDB, migrationsDir)
}

// Migrate runs a goose command ("up", "down", "status", "version", ...)
// against the embedded migrations.
func (db *DB) Migrate(ctx context.Context, command string) error {
	if db == nil || db.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	if err := gooseRun(ctx, command, db); err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}

	slog.Info("database migrations complete", "command", command)
	return nil
}

// EnsureSchema applies every pending migration.
func (db *DB) EnsureSchema(ctx context.Context) error {
	return db.Migrate(ctx, "up")
}
