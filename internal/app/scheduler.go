package app

import (
	"context"
	"time"

	"repovault/internal/config"
	"repovault/internal/core"
)

// scheduler fires the periodic backup and archival runs while the serve
// command is up. A run that fails is logged and retried at the next
// tick; the schedule itself never stops until ctx is cancelled.
type scheduler struct {
	app    *App
	cfg    config.ScheduleConfig
	logger core.Logger
}

func newScheduler(app *App, cfg config.ScheduleConfig, logger core.Logger) *scheduler {
	return &scheduler{app: app, cfg: cfg, logger: logger}
}

func (s *scheduler) run(ctx context.Context) {
	backupEvery := time.Duration(s.cfg.BackupIntervalHours) * time.Hour
	archivalEvery := time.Duration(s.cfg.ArchivalIntervalHours) * time.Hour
	if backupEvery <= 0 {
		backupEvery = 24 * time.Hour
	}
	if archivalEvery <= 0 {
		archivalEvery = 24 * time.Hour
	}

	backupTick := time.NewTicker(backupEvery)
	archivalTick := time.NewTicker(archivalEvery)
	defer backupTick.Stop()
	defer archivalTick.Stop()

	s.logger.Info("scheduler started",
		"backup_interval", backupEvery.String(), "archival_interval", archivalEvery.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-backupTick.C:
			if _, err := s.app.BackupRun(ctx); err != nil {
				s.logger.Error("scheduled backup run failed", "error", err)
			}
		case <-archivalTick.C:
			if _, err := s.app.ArchivalRun(ctx); err != nil {
				s.logger.Error("scheduled archival run failed", "error", err)
			}
		}
	}
}
