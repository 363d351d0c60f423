// Package scheduler triggers periodic synchronization runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/hirepath/jobsync-server/internal/config"
	"github.com/hirepath/jobsync-server/internal/model"
	"github.com/hirepath/jobsync-server/internal/store"
	syncmgr "github.com/hirepath/jobsync-server/internal/sync"
)

// Scheduler fires scheduled sync runs at the configured interval. Each tick
// goes through the same Manager path as a manual trigger, so the sync lock
// keeps overlapping ticks from running concurrently.
type Scheduler struct {
	manager syncmgr.Manager
	cfg     *config.Config
	cron    *cron.Cron
}

// New creates a scheduler. It does not start ticking until Start is called.
func New(manager syncmgr.Manager, cfg *config.Config) *Scheduler {
	return &Scheduler{
		manager: manager,
		cfg:     cfg,
		cron:    cron.New(),
	}
}

// Start registers the periodic job and begins ticking. When no interval is
// configured the scheduler stays idle and sync runs only on manual triggers.
func (s *Scheduler) Start(ctx context.Context) error {
	interval := s.cfg.Sync.Interval
	if interval == "" {
		slog.Info("Scheduled sync disabled, no interval configured")
		return nil
	}

	spec := "@every " + interval
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid sync interval %q: %w", interval, err)
	}

	s.cron.Start()
	slog.Info("Scheduled sync enabled", "interval", interval, "mode", s.cfg.Sync.GetMode())
	return nil
}

// Stop halts the schedule and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	slog.Info("Scheduled sync stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	run, err := s.manager.RunSync(ctx, s.cfg.Sync.GetMode(), model.TriggerScheduled)
	if err != nil {
		var held *store.LockHeldError
		if errors.As(err, &held) {
			slog.Info("Skipping scheduled sync, another run is in progress",
				"holder_run_id", held.HolderRunID)
			return
		}
		slog.Error("Scheduled sync failed to start", "error", err)
		return
	}

	slog.Info("Scheduled sync completed", "run_id", run.ID, "status", run.Status)
}
