package main

import (
	"context"

	"github.com/spf13/cobra"
)

var configFile string

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "User identity and session service",
		Long: `identity registers accounts, authenticates credentials, issues bearer
tokens and runs the email verification and password reset flows.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file path (environment variables take precedence)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// contextOrBackground keeps direct calls to RunE usable in tests, where
// cobra has not attached a context.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
