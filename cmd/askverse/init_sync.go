package main

import (
	"context"
	"fmt"

	"askverse/internal/infra/logger"
	"askverse/internal/usecase/docsync"
	"askverse/internal/usecase/scheduling"
)

const (
	syncTaskName    = "document-sync"
	cleanupTaskName = "document-cleanup"
	cleanupSchedule = "@daily"
)

// initDocSync returns nil when Confluence is disabled.
func initDocSync(rt *Runtime, sc *SourceComponents) *docsync.Service {
	if sc.Confluence == nil {
		return nil
	}
	return docsync.NewService(sc.Confluence, sc.Vectors, rt.Repo, docsync.Options{
		BatchSize: rt.Config.Vector.BatchSize,
		Timeout:   rt.Config.Sync.Timeout,
	}, logger.Component(rt.Logger, "docsync"))
}

// initScheduler registers the periodic sync and retention cleanup. It
// returns nil when there is nothing to schedule.
func initScheduler(rt *Runtime, svc *docsync.Service) (*scheduling.Scheduler, error) {
	cfg := rt.Config.Sync
	if svc == nil || !cfg.Enabled {
		return nil, nil
	}

	sched := scheduling.NewScheduler(logger.Component(rt.Logger, "scheduler"))
	sched.RegisterAction(scheduling.ActionDocumentSync, func(ctx context.Context) error {
		_, err := svc.Run(ctx)
		return err
	})
	sched.RegisterAction(scheduling.ActionDocumentCleanup, func(ctx context.Context) error {
		n, err := svc.Cleanup(ctx, cfg.RetentionDays)
		if err == nil && n > 0 {
			rt.Logger.Info("stale documents removed", "count", n)
		}
		return err
	})

	if err := sched.AddTask(scheduling.ScheduledTask{
		Name:     syncTaskName,
		Schedule: cfg.Schedule,
		Action:   scheduling.ActionDocumentSync,
		Timeout:  cfg.Timeout,
	}); err != nil {
		return nil, fmt.Errorf("schedule sync: %w", err)
	}
	if cfg.RetentionDays > 0 {
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     cleanupTaskName,
			Schedule: cleanupSchedule,
			Action:   scheduling.ActionDocumentCleanup,
		}); err != nil {
			return nil, fmt.Errorf("schedule cleanup: %w", err)
		}
	}
	return sched, nil
}
