package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/receipt-sentinel/internal/cli"
	"github.com/Veraticus/receipt-sentinel/internal/service"
)

type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (int, error)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Every command migrates on open; this one exists to prepare a database ahead
of time or to check which schema version it is at.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show the schema version after migrating")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")

	slog.Info("Starting database migration",
		"backend", viper.GetString("database.backend"),
		"database", viper.GetString("database.path"))

	return withStore(cmd, func(ctx context.Context, store service.Storage) error {
		out := cmd.OutOrStdout()
		if status {
			if sv, ok := store.(schemaVersioner); ok {
				v, err := sv.SchemaVersion(ctx)
				if err != nil {
					return fmt.Errorf("failed to read schema version: %w", err)
				}
				if _, err := fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Schema version %d", v))); err != nil {
					return err
				}
			}
		}
		_, err := fmt.Fprintln(out, cli.FormatSuccess("Database migrations completed successfully"))
		return err
	})
}
