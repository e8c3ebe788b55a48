package tuning

import (
	"context"
	"errors"
	"testing"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/rules"
)

func TestAdminTransitions(t *testing.T) {
	ctx := context.Background()
	f := newApplyFixture(t)
	admin := NewAdmin(nil, f.applier, f.queue)

	pending := approvedSuggestion("p1", domain.RuleVelocity, rules.ParamTimeWindowSec, 4.0)
	pending.Status = domain.SuggestionPending
	other := approvedSuggestion("p2", domain.RuleVelocity, domain.ParamWeight, 3.0)
	other.Status = domain.SuggestionPending
	if err := f.queue.Append(ctx, []domain.Suggestion{pending, other}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	t.Run("Approve", func(t *testing.T) {
		sg, err := admin.Approve(ctx, "p1")
		if err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
		if sg.Status != domain.SuggestionApproved {
			t.Errorf("expected approved, got %s", sg.Status)
		}
	})

	t.Run("Reject", func(t *testing.T) {
		sg, err := admin.Reject(ctx, "p2")
		if err != nil {
			t.Fatalf("Reject failed: %v", err)
		}
		if sg.Status != domain.SuggestionRejected {
			t.Errorf("expected rejected, got %s", sg.Status)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := admin.Approve(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ApplyQueuedApproved", func(t *testing.T) {
		result, err := admin.Apply(ctx, nil)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if result.Applied != 1 || result.Skipped != 0 {
			t.Errorf("expected only the approved entry applied, got %d/%d", result.Applied, result.Skipped)
		}
		if f.store.Current().Velocity.TimeWindowSec != 4 {
			t.Errorf("expected window 4, got %v", f.store.Current().Velocity.TimeWindowSec)
		}
		if f.store.Current().Velocity.Weight != rules.DefaultVelocityWeight {
			t.Error("rejected suggestion must not be applied")
		}
	})

	t.Run("AppliedIsFinal", func(t *testing.T) {
		sg := approvedSuggestion("a1", domain.RuleVelocity, domain.ParamWeight, 1.0)
		sg.Status = domain.SuggestionApplied
		if err := f.queue.Append(ctx, []domain.Suggestion{sg}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if _, err := admin.Reject(ctx, "a1"); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("AdvisorDisabled", func(t *testing.T) {
		if _, err := admin.RunAdvisor(ctx, 0); !errors.Is(err, ErrAdvisorDisabled) {
			t.Errorf("expected ErrAdvisorDisabled, got %v", err)
		}
	})
}
