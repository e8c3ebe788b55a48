//go:build integration

package suggestions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

func newRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	addr, err := ctr.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	return NewRedisQueue(client, "fraudwatch:test:suggestions")
}

func TestRedisQueue(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t)

	if err := q.Append(ctx, []domain.Suggestion{sample("a"), sample("b"), sample("c")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	t.Run("ListKeepsOrder", func(t *testing.T) {
		items, err := q.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(items) != 3 || items[0].ID != "a" || items[2].ID != "c" {
			t.Fatalf("unexpected items: %+v", items)
		}
	})

	t.Run("SetStatus", func(t *testing.T) {
		if err := q.SetStatus(ctx, "b", domain.SuggestionApproved); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
		got, err := q.Get(ctx, "b")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != domain.SuggestionApproved {
			t.Errorf("expected approved, got %q", got.Status)
		}
		other, _ := q.Get(ctx, "a")
		if other.Status != domain.SuggestionPending {
			t.Errorf("expected neighbour untouched, got %q", other.Status)
		}
	})

	t.Run("SetStatusUnknown", func(t *testing.T) {
		if err := q.SetStatus(ctx, "missing", domain.SuggestionRejected); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := q.SetStatus(ctx, "a", "maybe"); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("SetStatusDuringAppends", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = q.Append(ctx, []domain.Suggestion{sample("extra")})
			}()
		}
		var err error
		for attempt := 0; attempt < 5; attempt++ {
			if err = q.SetStatus(ctx, "c", domain.SuggestionRejected); err == nil {
				break
			}
		}
		if err != nil {
			t.Errorf("SetStatus failed: %v", err)
		}
		wg.Wait()

		items, err := q.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(items) != 23 {
			t.Errorf("expected 23 items, got %d", len(items))
		}
		if items[2].ID != "c" || items[2].Status != domain.SuggestionRejected {
			t.Errorf("expected c rejected, got %+v", items[2])
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
			t.Errorf("expected empty queue, got %d", len(items))
		}
	})
}
