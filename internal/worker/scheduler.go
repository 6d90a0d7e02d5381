// internal/worker/scheduler.go
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper drains due settlement failures and reports the exhausted ones.
type Sweeper interface {
	ProcessDue(ctx context.Context) (int, error)
	ReportExhausted(ctx context.Context) (int64, error)
}

// Config holds the cron specs of the background jobs.
type Config struct {
	RetrySchedule     string
	ExhaustedSchedule string
	// JobTimeout bounds a single run of any job.
	JobTimeout time.Duration
}

// Scheduler runs the settlement retry jobs on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	cfg     Config
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Overlapping runs of the same job are skipped.
func NewScheduler(sweeper Sweeper, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    c,
		sweeper: sweeper,
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the jobs and starts the cron scheduler. A bad schedule is
// reported before anything runs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.RetrySchedule, s.sweepRetries); err != nil {
		return fmt.Errorf("schedule settlement retry job: %w", err)
	}
	s.logger.Info("Scheduled settlement retry job", "schedule", s.cfg.RetrySchedule)

	if _, err := s.cron.AddFunc(s.cfg.ExhaustedSchedule, s.reportExhausted); err != nil {
		return fmt.Errorf("schedule exhausted failure report: %w", err)
	}
	s.logger.Info("Scheduled exhausted failure report", "schedule", s.cfg.ExhaustedSchedule)

	s.cron.Start()
	return nil
}

// Stop cancels running jobs and waits for them until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}

func (s *Scheduler) sweepRetries() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()
	n, err := s.sweeper.ProcessDue(ctx)
	if err != nil {
		s.logger.Error("Settlement retry sweep failed", "processed", n, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("Settlement retry sweep finished", "processed", n)
	}
}

func (s *Scheduler) reportExhausted() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()
	if _, err := s.sweeper.ReportExhausted(ctx); err != nil {
		s.logger.Error("Exhausted failure report failed", "error", err)
	}
}
