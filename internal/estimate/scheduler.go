package estimate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs a Refresher on a cron schedule.
//
// Common schedules:
//   - "0 3 * * *"   - daily at 3 AM
//   - "*/15 * * * *" - every 15 minutes
//   - "@every 1h"   - hourly from start
//
// An empty schedule disables the scheduler.
type Scheduler struct {
	refresher *Refresher
	schedule  string
	logger    *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	done    chan struct{}
	running bool
}

// NewScheduler creates a scheduler for refresher.
func NewScheduler(refresher *Refresher, schedule string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		refresher: refresher,
		schedule:  schedule,
		logger:    logger,
	}
}

// ValidateSchedule reports whether schedule is a usable cron expression.
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Start schedules refresh runs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("re-estimation schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}
	if err := ValidateSchedule(s.schedule); err != nil {
		return err
	}

	// A run still in progress when the next tick fires is not doubled up
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule re-estimation: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.done = make(chan struct{})
	s.logger.Info("re-estimation scheduler started", zap.String("schedule", s.schedule))

	done := s.done
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	start := time.Now()
	stats, err := s.refresher.RefreshAll(ctx)
	if err != nil {
		s.logger.Error("scheduled re-estimation failed",
			zap.Int("refreshed", stats.Refreshed),
			zap.Int("failed", stats.Failed),
			zap.Error(err))
		return
	}
	s.logger.Info("scheduled re-estimation completed",
		zap.Int("segments", stats.Segments),
		zap.Int("refreshed", stats.Refreshed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", time.Since(start)))
}

// Stop halts scheduling and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	close(s.done)
	s.running = false
	s.logger.Info("re-estimation scheduler stopped")
}

// IsRunning reports whether runs are scheduled.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled run, nil when not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
