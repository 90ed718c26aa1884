package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tollkeeper/internal/cli"
	"github.com/Veraticus/tollkeeper/internal/config"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Every other command migrates on start as well; this one only does that.`,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("Running database migrations", "database", cfg.Database.Path)
	version, err := migrateDatabase(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	slog.Info(cli.FormatSuccess(fmt.Sprintf("✓ Database migrations completed successfully (schema version %d)", version)))
	return nil
}

// migrateDatabase migrates the configured database and reports the schema
// version it ends up at.
func migrateDatabase(ctx context.Context, cfg *config.Config) (int, error) {
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer closeStorage(store)

	return store.SchemaVersion(ctx)
}
