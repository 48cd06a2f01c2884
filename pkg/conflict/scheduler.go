package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler drives conflict scans from a cron expression instead of a fixed
// interval. It is an alternative to Detector.Start.
//
// Common expressions:
//   - "*/5 * * * *"  every five minutes
//   - "0 * * * *"    hourly
//   - "@every 30s"   every thirty seconds
type Scheduler struct {
	detector *Detector
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
	cancel   context.CancelFunc
}

// NewScheduler validates schedule and returns a stopped scheduler.
func NewScheduler(detector *Detector, schedule string) (*Scheduler, error) {
	if detector == nil {
		return nil, fmt.Errorf("detector cannot be nil")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return &Scheduler{
		detector: detector,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   detector.logger.With("component", "conflict.scheduler"),
	}, nil
}

// Start schedules scans. Jobs are skipped once ctx or the scheduler is
// stopped; a scan already running is not interrupted.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	jobCtx, cancel := context.WithCancel(ctx)
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if jobCtx.Err() != nil {
			return
		}
		s.detector.RunScan(context.WithoutCancel(jobCtx))
	}); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule conflict scans: %w", err)
	}
	s.cron.Start()
	s.cancel = cancel
	s.running = true

	s.logger.Info("conflict scheduler started", "schedule", s.schedule)
	return nil
}

// Stop prevents further scans and waits for a running one to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	for _, e := range s.cron.Entries() {
		s.cron.Remove(e.ID)
	}
	s.running = false
	s.logger.Info("conflict scheduler stopped")
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled scan, or nil when stopped.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
