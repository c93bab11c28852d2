package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"go-identity-service/internal/config"
	"go-identity-service/internal/database"
)

var migrateCommands = []string{"up", "down", "status", "version", "redo", "reset"}

func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version|redo|reset]",
		Short:     "Run database migrations",
		Long:      `Run the embedded goose migrations against DATABASE_URL. Defaults to "up".`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: migrateCommands,
		RunE:      runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	command := "up"
	if len(args) == 1 {
		command = args[0]
	}

	cfg, err := config.LoadDatabase(configFile)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("config_file", configFile).Wrap(err)
	}

	ctx := contextOrBackground(cmd)

	cmd.Println("Connecting to database...")
	db, err := database.New(ctx, database.Options{URL: cfg.DatabaseURL, MaxConns: 2, MinConns: 0})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	cmd.Printf("Running migrate %s...\n", command)
	if err := db.Migrate(ctx, command); err != nil {
		return oops.Code("MIGRATION_FAILED").With("command", command).Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
