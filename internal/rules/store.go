package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/metrics"
)

// Store holds the active rule snapshot. Readers never block: Current is a
// single atomic load. Reloads are serialized and publish a new snapshot only
// after the whole document resolves.
type Store struct {
	source domain.RuleSource
	logger *slog.Logger

	current atomic.Pointer[Snapshot]

	mu        sync.Mutex // serializes Reload
	version   uint64
	listeners []func(*Snapshot)
}

// NewStore creates a store with every rule disabled. Call Reload to load the source.
func NewStore(source domain.RuleSource, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		source: source,
		logger: logger.With("component", "rule_store"),
	}
	initial := DisabledSnapshot()
	initial.LoadedAt = time.Now().UTC()
	s.current.Store(initial)
	return s
}

// Current returns the snapshot in force.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Document returns a deep copy of the current document.
func (s *Store) Document() domain.RuleDocument {
	return s.Current().Document()
}

// OnReload registers fn to run after each successful reload.
// Register listeners before the store is shared.
func (s *Store) OnReload(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload reads the document from the source and publishes it. On failure the
// previous snapshot stays in force and a *domain.ConfigLoadError is returned.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.source.LoadRules(ctx)
	if err != nil {
		return s.fail(err)
	}

	snap, err := Resolve(doc)
	if err != nil {
		return s.fail(err)
	}

	s.version++
	snap.Version = s.version
	snap.LoadedAt = time.Now().UTC()
	s.current.Store(snap)

	metrics.ConfigReloadsTotal.WithLabelValues("success").Inc()
	metrics.ConfigVersion.Set(float64(snap.Version))
	s.logger.Info("rule configuration loaded",
		"version", snap.Version,
		"enabled_weight", snap.EnabledWeight(),
	)

	for _, fn := range s.listeners {
		fn(snap)
	}
	return nil
}

func (s *Store) fail(err error) error {
	metrics.ConfigReloadsTotal.WithLabelValues("failure").Inc()

	var loadErr *domain.ConfigLoadError
	if !errors.As(err, &loadErr) {
		loadErr = &domain.ConfigLoadError{Source: sourceName(s.source), Err: err}
	}
	s.logger.Error("rule configuration reload failed, keeping previous snapshot",
		"error", loadErr,
		"version", s.Current().Version,
	)
	return loadErr
}

func sourceName(src domain.RuleSource) string {
	if st, ok := src.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%T", src)
}
