package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/hirepath/jobsync-server/database"
	"github.com/hirepath/jobsync-server/internal/config"
)

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations to bring the schema up to date.
This command reads the database connection parameters from the config file
and applies all migrations that haven't been run yet.`,
	RunE: runMigrateUp,
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, connString, err := migratorFromFlags(cmd, "apply migrations to")
	if err != nil || m == nil {
		return err
	}

	steps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	slog.Info("Applying database migrations...")
	if steps > 0 {
		err = m.Steps(int(steps))
	} else {
		err = m.Up()
	}
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("Database schema already up to date")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	reportVersion(connString)
	return nil
}

// migratorFromFlags loads the config, optionally prompts for confirmation
// and returns a ready migrator. A nil migrator with nil error means the
// user declined.
func migratorFromFlags(cmd *cobra.Command, action string) (database.Migrator, string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get config flag: %w", err)
	}

	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get yes flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database == nil {
		return nil, "", fmt.Errorf("database configuration is required")
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get connection string: %w", err)
	}

	if !yes {
		slog.Info(fmt.Sprintf("About to %s database", action),
			"host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database)
		fmt.Print("Continue? (yes/no): ")
		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			return nil, "", fmt.Errorf("failed to read user input: %w", err)
		}
		if response != "yes" && response != "y" {
			slog.Info("Migration cancelled by user")
			return nil, "", nil
		}
	}

	m, err := database.NewFromConnectionString(connString)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, connString, nil
}

func reportVersion(connString string) {
	version, dirty, err := database.GetVersion(connString)
	switch {
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state", "version", version)
	default:
		slog.Info("Migrations applied successfully", "version", version)
	}
}
