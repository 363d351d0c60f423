package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/hirepath/jobsync-server/database"
)

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back database migrations",
	Long: `Roll back database migrations. By default all migrations are reverted;
use --num-steps to roll back a fixed number of versions.`,
	RunE: runMigrateDown,
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	m, connString, err := migratorFromFlags(cmd, "roll back migrations on")
	if err != nil || m == nil {
		return err
	}

	steps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	slog.Info("Rolling back database migrations...")
	if steps > 0 {
		err = m.Steps(-int(steps))
	} else {
		err = m.Down()
	}
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("No migrations to roll back")
			return nil
		}
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}

	version, dirty, err := database.GetVersion(connString)
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		slog.Info("Rollback complete, schema is empty")
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state", "version", version)
	default:
		slog.Info("Rollback complete", "version", version)
	}
	return nil
}
