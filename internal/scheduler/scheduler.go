// Package scheduler runs periodic analysis jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/analysis"
	"github.com/jengzang/lifecycle-backend-go/internal/config"
	"github.com/jengzang/lifecycle-backend-go/internal/models"
)

const createdBy = "scheduler"

// TaskRunner creates and runs an analysis task to completion
type TaskRunner interface {
	RunTask(ctx context.Context, req models.CreateTaskRequest, createdBy string) (*models.AnalysisTask, error)
}

// Scheduler enqueues sleep backfill runs over a trailing window
type Scheduler struct {
	tasks    TaskRunner
	schedule string
	lookback time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	cron   *rcron.Cron
	cancel context.CancelFunc
}

// New creates a scheduler. An empty schedule disables it.
func New(tasks TaskRunner, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		tasks:    tasks,
		schedule: cfg.SleepBackfillSchedule,
		lookback: time.Duration(cfg.LookbackHours) * time.Hour,
		logger:   logger.Named("scheduler"),
		now:      time.Now,
	}
}

// Start registers the jobs and starts the cron loop. Jobs run with a context
// derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("Sleep backfill schedule disabled")
		return nil
	}
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := rcron.New(rcron.WithSeconds())
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunSleepBackfill(runCtx); err != nil {
			s.logger.Error("Scheduled sleep backfill failed", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("failed to register sleep backfill (%s): %w", s.schedule, err)
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.logger.Info("Scheduler started", zap.String("sleep_backfill", s.schedule))
	return nil
}

// Stop cancels running jobs and waits up to five seconds for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()

	select {
	case <-c.Stop().Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("Stop timeout waiting for running jobs")
	}
	s.logger.Info("Scheduler stopped")
}

// RunSleepBackfill runs one sleep backfill over the lookback window ending now
func (s *Scheduler) RunSleepBackfill(ctx context.Context) (*models.AnalysisTask, error) {
	to := s.now()
	from := to.Add(-s.lookback)

	task, err := s.tasks.RunTask(ctx, models.CreateTaskRequest{
		SkillName: analysis.SkillSleepBackfill,
		FromTime:  from.UnixMilli(),
		ToTime:    to.UnixMilli(),
	}, createdBy)
	if err != nil {
		return task, err
	}

	s.logger.Info("Sleep backfill finished",
		zap.Int64("task_id", task.ID),
		zap.Time("from", from),
		zap.Time("to", to),
	)
	return task, nil
}
