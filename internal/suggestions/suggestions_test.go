package suggestions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

func sample(id string) domain.Suggestion {
	return domain.Suggestion{
		ID:            id,
		TargetRule:    "velocity",
		Parameter:     "time_window_sec",
		CurrentValue:  5.0,
		ProposedValue: 3.0,
		Reasoning:     "rapid repeat transactions",
		Status:        domain.SuggestionPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func exerciseQueue(t *testing.T, q domain.SuggestionQueue) {
	ctx := context.Background()

	t.Run("EmptyList", func(t *testing.T) {
		items, err := q.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(items) != 0 {
			t.Errorf("expected empty queue, got %d", len(items))
		}
	})

	t.Run("AppendPreservesOrderWithoutDedup", func(t *testing.T) {
		if err := q.Append(ctx, []domain.Suggestion{sample("a"), sample("b")}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if err := q.Append(ctx, []domain.Suggestion{sample("c")}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		items, err := q.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(items) != 3 {
			t.Fatalf("expected 3 items, got %d", len(items))
		}
		for i, id := range []string{"a", "b", "c"} {
			if items[i].ID != id {
				t.Errorf("position %d: expected %s, got %s", i, id, items[i].ID)
			}
		}
	})

	t.Run("SetStatus", func(t *testing.T) {
		if err := q.SetStatus(ctx, "b", domain.SuggestionApproved); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
		sg, err := q.Get(ctx, "b")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if sg.Status != domain.SuggestionApproved {
			t.Errorf("expected approved, got %s", sg.Status)
		}
		if err := q.SetStatus(ctx, "zzz", domain.SuggestionRejected); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := q.SetStatus(ctx, "a", "maybe"); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := q.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		if err := q.Clear(ctx); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		items, err := q.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(items) != 0 {
			t.Errorf("expected empty queue after clear, got %d", len(items))
		}
	})
}

func TestMemoryQueue(t *testing.T) {
	exerciseQueue(t, NewMemoryQueue())
}

func TestFileQueue(t *testing.T) {
	exerciseQueue(t, NewFileQueue(filepath.Join(t.TempDir(), "suggestions.json")))
}

func TestFileQueueReadsHandWrittenEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suggestions.json")
	content := `[
  {"target_rule": "velocity", "parameter": "time_window_sec", "current_value": 5, "proposed_value": 3, "reasoning": "tighten"}
]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	items, err := NewFileQueue(path).List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Status != domain.SuggestionPending {
		t.Errorf("expected missing status to read as pending, got %q", items[0].Status)
	}
	if items[0].ProposedValue != 3.0 {
		t.Errorf("expected proposed value 3, got %v", items[0].ProposedValue)
	}
	if items[0].ID == "" {
		t.Fatal("expected an id assigned to the hand-written entry")
	}
}

func TestFileQueueHandWrittenEntriesAreAddressable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "suggestions.json")
	content := `[
  {"target_rule": "velocity", "parameter": "time_window_sec", "proposed_value": 3, "reasoning": "tighten"},
  {"id": "kept", "target_rule": "combo_pattern", "parameter": "weight", "proposed_value": 2, "reasoning": "soften"}
]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	q := NewFileQueue(path)
	first, err := q.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	id := first[0].ID
	if id == "" || first[1].ID != "kept" {
		t.Fatalf("unexpected ids %q and %q", id, first[1].ID)
	}

	second, err := q.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if second[0].ID != id {
		t.Errorf("expected stable id %q, got %q", id, second[0].ID)
	}

	if err := q.SetStatus(ctx, id, domain.SuggestionApproved); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	got, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.SuggestionApproved {
		t.Errorf("expected approved, got %q", got.Status)
	}
}

func TestFileQueueCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suggestions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	q := NewFileQueue(path)
	if _, err := q.List(context.Background()); err == nil {
		t.Error("expected decode error")
	}
	if err := q.Append(context.Background(), []domain.Suggestion{sample("x")}); err == nil {
		t.Error("expected append to refuse overwriting a corrupt file")
	}
}

func TestNew(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		q, err := New(domain.SuggestionsConfig{Backend: "memory"}, nil, domain.CacheConfig{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := q.(*MemoryQueue); !ok {
			t.Errorf("expected MemoryQueue, got %T", q)
		}
	})

	t.Run("SQLWithoutRepository", func(t *testing.T) {
		if _, err := New(domain.SuggestionsConfig{Backend: "sql"}, nil, domain.CacheConfig{}); err == nil {
			t.Error("expected error without repository")
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.SuggestionsConfig{Backend: "kafka"}, nil, domain.CacheConfig{}); err == nil {
			t.Error("expected error for unsupported backend")
		}
	})
}
