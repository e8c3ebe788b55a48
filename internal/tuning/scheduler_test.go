package tuning

import (
	"context"
	"testing"
	"time"
)

func TestScheduler(t *testing.T) {
	admin := NewAdmin(nil, nil, nil)

	t.Run("EmptyScheduleIsNoop", func(t *testing.T) {
		s := NewScheduler(admin, "")
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if s.NextRun() != nil {
			t.Error("expected no next run without a schedule")
		}
		s.Stop()
	})

	t.Run("InvalidSchedule", func(t *testing.T) {
		s := NewScheduler(admin, "every tuesday")
		if err := s.Start(context.Background()); err == nil {
			t.Error("expected error for invalid cron expression")
		}
	})

	t.Run("NextRun", func(t *testing.T) {
		s := NewScheduler(admin, "0 3 * * *")
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer s.Stop()

		next := s.NextRun()
		if next == nil {
			t.Fatal("expected a next run")
		}
		if next.Hour() != 3 || next.Minute() != 0 {
			t.Errorf("next run %v, want 03:00", next)
		}
		if !next.After(time.Now()) {
			t.Errorf("next run %v is not in the future", next)
		}
	})

	t.Run("StopTwice", func(t *testing.T) {
		s := NewScheduler(admin, "0 3 * * *")
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		s.Stop()
		s.Stop()
	})

	t.Run("StopsWithContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		s := NewScheduler(admin, "@every 1h")
		if err := s.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		cancel()

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Error("scheduler still running after context cancel")
	})
}
