//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("fraudwatch"),
		postgres.WithUsername("fraudwatch"),
		postgres.WithPassword("fraudwatch"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	repo, err := New(domain.RepositoryConfig{Driver: "postgres", PostgresDSN: dsn})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	now := time.Now().UTC()
	tx := &domain.Transaction{ID: "txn_pg", UserID: "user-pg", Time: 42, Amount: 250, ReceivedAt: now}
	if err := repo.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}
	d := &domain.Decision{TxnID: "txn_pg", FinalRisk: 0.85, Label: domain.LabelBlock, Reason: "test", Timestamp: now}
	if err := repo.SaveDecision(ctx, d); err != nil {
		t.Fatalf("SaveDecision failed: %v", err)
	}

	last, err := repo.LastTransactionTime(ctx, "user-pg")
	if err != nil || last == nil || *last != 42 {
		t.Fatalf("expected last time 42, got %v (err %v)", last, err)
	}

	flagged, err := repo.FlaggedDecisions(ctx, 10)
	if err != nil {
		t.Fatalf("FlaggedDecisions failed: %v", err)
	}
	if len(flagged) != 1 || flagged[0].Amount != 250 {
		t.Errorf("unexpected flagged decisions: %+v", flagged)
	}

	if err := repo.SaveRules(ctx, domain.RuleDocument{"combo_pattern": domain.RuleParams{"enabled": true, "weight": 3.0}}); err != nil {
		t.Fatalf("SaveRules failed: %v", err)
	}
	doc, err := repo.LoadRules(ctx)
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if !doc.Has("combo_pattern", "weight") {
		t.Errorf("unexpected document: %v", doc)
	}

	queue := repo.Suggestions()
	if err := queue.Append(ctx, []domain.Suggestion{{
		ID: "pg-1", TargetRule: "combo_pattern", Parameter: "weight",
		CurrentValue: 3.0, ProposedValue: 2.0, Status: domain.SuggestionPending, CreatedAt: now,
	}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	list, err := queue.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 suggestion, got %d (err %v)", len(list), err)
	}
}
