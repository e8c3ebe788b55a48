package tuning

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the advisor on a cron schedule.
type Scheduler struct {
	admin    *Admin
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a scheduler for a standard five-field cron expression.
func NewScheduler(admin *Admin, schedule string) *Scheduler {
	return &Scheduler{
		admin:    admin,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "tuning.scheduler"),
	}
}

// Start schedules advisor runs until ctx is cancelled. An empty schedule
// does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("advisor schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule advisor: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("advisor scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	added, err := s.admin.RunAdvisor(ctx, 0)
	if err != nil {
		s.logger.Error("scheduled advisor run failed", "error", err)
		return
	}
	s.logger.Info("scheduled advisor run completed", "suggestions", len(added))
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("advisor scheduler stopped")
	}
}

// NextRun returns the next scheduled run, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
