package rules

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

func TestWatcherReloadsOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fraud_rules.json")
	if err := os.WriteFile(path, []byte(`{"velocity": {"enabled": false}}`), 0o644); err != nil {
		t.Fatalf("failed to write rules: %v", err)
	}

	src := NewFileSource(path)
	store := NewStore(src, nil)
	if err := store.Reload(t.Context()); err != nil {
		t.Fatalf("failed to reload: %v", err)
	}

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Watch(ctx, store.Reload)
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	doc := domain.RuleDocument{"velocity": domain.RuleParams{"enabled": true, "weight": 4.0}}
	if err := src.SaveRules(t.Context(), doc); err != nil {
		t.Fatalf("failed to save rules: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Current().Velocity.Enabled {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !store.Current().Velocity.Enabled {
		t.Error("expected watcher to reload the saved document")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("failed to stop watcher: %v", err)
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger(func() { calls.Add(1) })
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestDebouncerStop(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Stop()
	time.Sleep(60 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("expected no calls after stop, got %d", calls.Load())
	}
}
