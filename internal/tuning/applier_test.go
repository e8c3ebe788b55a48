package tuning

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/rules"
	"github.com/opensource-finance/fraudwatch/internal/suggestions"
)

type applyFixture struct {
	source  *rules.FileSource
	store   *rules.Store
	queue   *suggestions.MemoryQueue
	applier *Applier
}

func newApplyFixture(t *testing.T) *applyFixture {
	t.Helper()
	ctx := context.Background()

	source := rules.NewFileSource(filepath.Join(t.TempDir(), "fraud_rules.json"))
	if err := source.SaveRules(ctx, rules.DefaultDocument()); err != nil {
		t.Fatalf("failed to seed rules: %v", err)
	}

	store := rules.NewStore(source, nil)
	if err := store.Reload(ctx); err != nil {
		t.Fatalf("initial reload failed: %v", err)
	}

	constraints, err := NewConstraints(DefaultConstraints)
	if err != nil {
		t.Fatalf("NewConstraints failed: %v", err)
	}

	queue := suggestions.NewMemoryQueue()
	return &applyFixture{
		source:  source,
		store:   store,
		queue:   queue,
		applier: NewApplier(source, store, queue, constraints, nil),
	}
}

func approvedSuggestion(id, rule, param string, value any) domain.Suggestion {
	return domain.Suggestion{
		ID:            id,
		TargetRule:    rule,
		Parameter:     param,
		ProposedValue: value,
		Status:        domain.SuggestionApproved,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	t.Run("AppliesPersistsReloadsAndClears", func(t *testing.T) {
		f := newApplyFixture(t)
		batch := []domain.Suggestion{
			approvedSuggestion("s1", domain.RuleVelocity, rules.ParamTimeWindowSec, 3.0),
			approvedSuggestion("s2", "no_such_rule", "weight", 1.0),
			approvedSuggestion("s3", domain.RuleAmountAnomaly, "no_such_param", 1.0),
		}
		if err := f.queue.Append(ctx, batch); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		before := f.store.Current().Version

		result, err := f.applier.Apply(ctx, batch)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if result.Applied != 1 || result.Skipped != 2 {
			t.Errorf("expected 1 applied and 2 skipped, got %d/%d", result.Applied, result.Skipped)
		}
		if result.Suggestions[0].Status != domain.SuggestionApplied {
			t.Errorf("expected s1 applied, got %s", result.Suggestions[0].Status)
		}
		if result.Suggestions[1].Status != domain.SuggestionApproved {
			t.Errorf("expected s2 to stay approved, got %s", result.Suggestions[1].Status)
		}

		snap := f.store.Current()
		if snap.Version != before+1 || result.Version != snap.Version {
			t.Errorf("expected version %d, got store %d result %d", before+1, snap.Version, result.Version)
		}
		if snap.Velocity.TimeWindowSec != 3 {
			t.Errorf("expected new window 3, got %v", snap.Velocity.TimeWindowSec)
		}

		doc, err := f.source.LoadRules(ctx)
		if err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}
		if v, _ := rules.ToFloat(velocityParams(t, doc)[rules.ParamTimeWindowSec]); v != 3 {
			t.Errorf("expected persisted window 3, got %v", v)
		}
		if _, ok := doc["no_such_rule"]; ok {
			t.Error("skipped suggestion must not add keys")
		}

		if items := queued(t, f.queue); len(items) != 0 {
			t.Errorf("expected queue cleared, got %d items", len(items))
		}

		// The next evaluation sees the new window.
		last := 900.0
		res, _ := rules.NewEngine(f.store).Score(&domain.Transaction{Time: 904, Amount: 50}, &last)
		if res.Flags[domain.FlagVelocity] != 0 {
			t.Error("expected velocity flag cleared under the 3s window")
		}
	})

	t.Run("UnknownRuleLeavesConfigUnchanged", func(t *testing.T) {
		f := newApplyFixture(t)
		before := f.store.Document()

		result, err := f.applier.Apply(ctx, []domain.Suggestion{
			approvedSuggestion("s1", "geo_block", "weight", 2.0),
		})
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if result.Applied != 0 || result.Skipped != 1 {
			t.Errorf("expected 0/1, got %d/%d", result.Applied, result.Skipped)
		}

		after := f.store.Document()
		a, _ := json.Marshal(before)
		b, _ := json.Marshal(after)
		if string(a) != string(b) {
			t.Errorf("expected unchanged document\nbefore: %s\nafter:  %s", a, b)
		}
	})

	t.Run("Coercion", func(t *testing.T) {
		f := newApplyFixture(t)
		result, err := f.applier.Apply(ctx, []domain.Suggestion{
			approvedSuggestion("num", domain.RuleAmountAnomaly, rules.ParamLargeThreshold, "1500"),
			approvedSuggestion("bool", domain.RuleComboPattern, domain.ParamEnabled, false),
			approvedSuggestion("list", domain.RuleHighRiskPCA, rules.ParamComponents, []any{"V14", "V17"}),
			approvedSuggestion("neg", domain.RuleVelocity, domain.ParamWeight, -1.0),
			approvedSuggestion("zero-window", domain.RuleVelocity, rules.ParamTimeWindowSec, 0.0),
			approvedSuggestion("wrong-kind", domain.RuleVelocity, domain.ParamEnabled, "yes"),
			approvedSuggestion("bad-list", domain.RuleHighRiskPCA, rules.ParamComponents, []any{"V14", 3.0}),
		})
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if result.Applied != 3 || result.Skipped != 4 {
			t.Errorf("expected 3 applied and 4 skipped, got %d/%d", result.Applied, result.Skipped)
		}

		snap := f.store.Current()
		if snap.AmountAnomaly.LargeThreshold != 1500 {
			t.Errorf("expected large threshold 1500, got %v", snap.AmountAnomaly.LargeThreshold)
		}
		if snap.Combo.Enabled {
			t.Error("expected combo disabled")
		}
		if len(snap.HighRiskPCA.Components) != 2 || snap.HighRiskPCA.Components[1] != "V17" {
			t.Errorf("unexpected components %v", snap.HighRiskPCA.Components)
		}
		if snap.Velocity.Weight != rules.DefaultVelocityWeight {
			t.Errorf("expected velocity weight unchanged, got %v", snap.Velocity.Weight)
		}
		if snap.Velocity.TimeWindowSec != rules.DefaultVelocityWindow {
			t.Errorf("expected velocity window unchanged, got %v", snap.Velocity.TimeWindowSec)
		}
	})

	t.Run("RejectedSkipped", func(t *testing.T) {
		f := newApplyFixture(t)
		sg := approvedSuggestion("r", domain.RuleVelocity, rules.ParamTimeWindowSec, 9.0)
		sg.Status = domain.SuggestionRejected

		result, err := f.applier.Apply(ctx, []domain.Suggestion{sg})
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if result.Applied != 0 || result.Suggestions[0].Status != domain.SuggestionRejected {
			t.Errorf("expected rejected suggestion untouched, got %+v", result)
		}
	})

	t.Run("PersistFailure", func(t *testing.T) {
		f := newApplyFixture(t)
		failing := &failingSave{RuleSource: f.source}
		applier := NewApplier(failing, f.store, f.queue, nil, nil)

		sg := approvedSuggestion("s1", domain.RuleVelocity, rules.ParamTimeWindowSec, 3.0)
		if err := f.queue.Append(ctx, []domain.Suggestion{sg}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		before := f.store.Current().Version

		_, err := applier.Apply(ctx, []domain.Suggestion{sg})
		var applyErr *domain.ApplyError
		if !errors.As(err, &applyErr) || applyErr.Stage != "persist" {
			t.Fatalf("expected persist ApplyError, got %v", err)
		}
		if f.store.Current().Version != before {
			t.Error("store must not reload after a failed persist")
		}
		items := queued(t, f.queue)
		if len(items) != 1 || items[0].Status != domain.SuggestionApproved {
			t.Errorf("expected queue intact and unmarked, got %+v", items)
		}
	})

	t.Run("ReloadFailure", func(t *testing.T) {
		f := newApplyFixture(t)
		broken := rules.NewStore(rules.NewFileSource(filepath.Join(t.TempDir(), "missing.json")), nil)
		applier := NewApplier(f.source, broken, f.queue, nil, nil)

		sg := approvedSuggestion("s1", domain.RuleVelocity, rules.ParamTimeWindowSec, 3.0)
		if err := f.queue.Append(ctx, []domain.Suggestion{sg}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		result, err := applier.Apply(ctx, []domain.Suggestion{sg})
		var applyErr *domain.ApplyError
		if !errors.As(err, &applyErr) || applyErr.Stage != "reload" {
			t.Fatalf("expected reload ApplyError, got %v", err)
		}
		var loadErr *domain.ConfigLoadError
		if !errors.As(err, &loadErr) {
			t.Errorf("expected wrapped ConfigLoadError, got %v", err)
		}
		if result == nil || result.Applied != 1 {
			t.Errorf("expected result with 1 applied, got %+v", result)
		}
		items := queued(t, f.queue)
		if len(items) != 1 || items[0].Status != domain.SuggestionApplied {
			t.Errorf("expected queue kept with entry marked applied, got %+v", items)
		}
	})

	t.Run("AnnouncesReload", func(t *testing.T) {
		f := newApplyFixture(t)
		bus := &recordingBus{}
		f.applier.WithEventBus(bus, "node-a")

		if _, err := f.applier.Apply(ctx, nil); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		bus.mu.Lock()
		defer bus.mu.Unlock()
		if len(bus.topics) != 1 || bus.topics[0] != domain.TopicConfigReloaded {
			t.Fatalf("expected one config reloaded event, got %v", bus.topics)
		}
		var evt domain.ConfigReloadedEvent
		if err := json.Unmarshal(bus.payloads[0], &evt); err != nil {
			t.Fatalf("failed to decode event: %v", err)
		}
		if evt.NodeID != "node-a" || evt.Version != f.store.Current().Version {
			t.Errorf("unexpected event %+v", evt)
		}
	})
}

type failingSave struct {
	domain.RuleSource
}

func (f *failingSave) SaveRules(ctx context.Context, doc domain.RuleDocument) error {
	return errors.New("disk full")
}

type recordingBus struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (b *recordingBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Ping(ctx context.Context) error { return nil }

func (b *recordingBus) Close() error { return nil }

func velocityParams(t *testing.T, doc domain.RuleDocument) domain.RuleParams {
	t.Helper()
	params, ok := doc.Rule(domain.RuleVelocity)
	if !ok {
		t.Fatalf("velocity entry missing from %v", doc)
	}
	return params
}
