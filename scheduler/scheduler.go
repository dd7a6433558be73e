// Package scheduler triggers the daily sync run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/models"
	"github.com/use-agent/affsync/workflow"
)

// Runner executes a run and waits for it.
type Runner interface {
	Run(ctx context.Context, req models.RunRequest, trigger string) (*models.RunResponse, error)
}

// Scheduler runs the full workflow for yesterday's report on a cron
// schedule.
type Scheduler struct {
	cfg       config.ScheduleConfig
	runner    Runner
	scheduler *gocron.Scheduler
	job       *gocron.Job
	logger    *slog.Logger
}

// New creates a Scheduler using the local time zone.
func New(cfg config.ScheduleConfig, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		runner:    runner,
		scheduler: gocron.NewScheduler(time.Local),
		logger:    logger,
	}
}

// Start registers the job and starts the scheduler in the background. It is
// a no-op when scheduling is disabled. ctx bounds every scheduled run.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("scheduled runs disabled")
		return nil
	}

	job, err := s.scheduler.Cron(s.cfg.Cron).SingletonMode().Do(s.tick, ctx)
	if err != nil {
		return models.NewSyncError(models.ErrCodeInvalidInput,
			fmt.Sprintf("invalid schedule %q", s.cfg.Cron), err)
	}
	s.job = job
	s.scheduler.StartAsync()

	s.logger.Info("scheduled runs enabled", "cron", s.cfg.Cron, "next_run", job.NextRun())
	return nil
}

// NextRun returns when the job fires next, or the zero time when nothing is
// scheduled.
func (s *Scheduler) NextRun() time.Time {
	if s.job == nil {
		return time.Time{}
	}
	return s.job.NextRun()
}

// Stop stops the scheduler. A run in progress continues until its context
// ends.
func (s *Scheduler) Stop() {
	if s.scheduler.IsRunning() {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	run, err := s.runner.Run(ctx, models.RunRequest{Date: "yesterday"}, workflow.TriggerSchedule)
	switch {
	case errors.Is(err, workflow.ErrRunInProgress):
		s.logger.Info("scheduled run skipped, another run is in progress")
	case err != nil:
		s.logger.Error("scheduled run failed", "error", err)
	default:
		s.logger.Info("scheduled run finished", "run_id", run.ID, "status", run.Status)
	}
}
