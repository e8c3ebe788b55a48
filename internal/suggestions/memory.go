package suggestions

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// MemoryQueue keeps suggestions in process memory.
type MemoryQueue struct {
	mu    sync.Mutex
	items []domain.Suggestion
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Append adds items at the end.
func (q *MemoryQueue) Append(ctx context.Context, items []domain.Suggestion) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	return nil
}

// List returns a copy of every entry.
func (q *MemoryQueue) List(ctx context.Context) ([]domain.Suggestion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Suggestion{}, q.items...), nil
}

// Get returns one entry by ID.
func (q *MemoryQueue) Get(ctx context.Context, id string) (*domain.Suggestion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := findIndex(q.items, id)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	sg := q.items[i]
	return &sg, nil
}

// SetStatus changes one entry's status.
func (q *MemoryQueue) SetStatus(ctx context.Context, id string, status domain.SuggestionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	i := findIndex(q.items, id)
	if i < 0 {
		return domain.ErrNotFound
	}
	q.items[i].Status = status
	return nil
}

// Clear empties the queue.
func (q *MemoryQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	return nil
}
