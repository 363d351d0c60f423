package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hirepath/jobsync-server/internal/ats"
	"github.com/hirepath/jobsync-server/internal/config"
	"github.com/hirepath/jobsync-server/internal/model"
	"github.com/hirepath/jobsync-server/internal/store"
	syncmgr "github.com/hirepath/jobsync-server/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization pass and exit",
	Long: `Run a single synchronization pass against the configured remote source
and exit. Useful for cron-driven deployments and for backfills. The pass is
mutually exclusive with any run triggered by a running server instance.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	syncCmd.Flags().String("mode", "", "Sync mode override (full or incremental)")

	if err := syncCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	// SIGINT and SIGTERM cancel the run cooperatively; it finalizes as partial.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	mode, err := resolveMode(cmd, cfg)
	if err != nil {
		return err
	}

	pool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	st, err := store.NewPostgresStore(pool)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	token, err := cfg.Source.GetToken()
	if err != nil {
		return fmt.Errorf("failed to read source credential: %w", err)
	}
	client := ats.NewClient(cfg.Source.Endpoint, token,
		ats.WithTimeout(cfg.Source.GetRequestTimeout()),
		ats.WithMaxRetries(cfg.Source.GetMaxRetries()),
	)

	manager := syncmgr.NewManager(client, st, cfg)

	run, err := manager.RunSync(ctx, mode, model.TriggerManual)
	if err != nil {
		var held *store.LockHeldError
		if errors.As(err, &held) {
			return fmt.Errorf("sync already in progress, held by run %s since %s",
				held.HolderRunID, held.AcquiredAt.Format("15:04:05"))
		}
		return fmt.Errorf("sync failed to start: %w", err)
	}

	slog.Info("Sync run complete",
		"run_id", run.ID,
		"status", run.Status,
		"created", run.Counts.Created,
		"updated", run.Counts.Updated,
		"expired", run.Counts.Expired,
		"skipped", run.Counts.Skipped,
		"errored", run.Counts.Errored)

	if run.Status == model.RunStatusFailed {
		return fmt.Errorf("sync run %s failed", run.ID)
	}
	return nil
}

func resolveMode(cmd *cobra.Command, cfg *config.Config) (model.SyncMode, error) {
	raw, err := cmd.Flags().GetString("mode")
	if err != nil {
		return "", fmt.Errorf("failed to get mode flag: %w", err)
	}

	switch raw {
	case "":
		return cfg.Sync.GetMode(), nil
	case string(model.SyncModeFull):
		return model.SyncModeFull, nil
	case string(model.SyncModeIncremental):
		return model.SyncModeIncremental, nil
	default:
		return "", fmt.Errorf("invalid sync mode %q (expected full or incremental)", raw)
	}
}
