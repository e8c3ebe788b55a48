package suggestions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/opensource-finance/fraudwatch/internal/atomicfile"
	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// FileQueue stores the queue as a JSON array. Every operation reads the file,
// so edits made on disk are picked up. Entries written by hand without an id
// are given one on first read and the file is rewritten, so they can be
// approved or rejected like advisor output.
type FileQueue struct {
	path string
	mu   sync.Mutex
}

// NewFileQueue creates a queue at path. A missing file is an empty queue.
func NewFileQueue(path string) *FileQueue {
	return &FileQueue{path: path}
}

func (q *FileQueue) read() ([]domain.Suggestion, error) {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.Suggestion{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read suggestions: %w", err)
	}
	if len(data) == 0 {
		return []domain.Suggestion{}, nil
	}

	var items []domain.Suggestion
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}
	if items == nil {
		items = []domain.Suggestion{}
	}
	stamped := false
	for i := range items {
		if items[i].Status == "" {
			items[i].Status = domain.SuggestionPending
		}
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
			stamped = true
		}
	}
	if stamped {
		if err := q.write(items); err != nil {
			return nil, fmt.Errorf("failed to store suggestion ids: %w", err)
		}
	}
	return items, nil
}

func (q *FileQueue) write(items []domain.Suggestion) error {
	if items == nil {
		items = []domain.Suggestion{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode suggestions: %w", err)
	}
	return atomicfile.Write(q.path, data, 0o644)
}

// Append adds items at the end in one write.
func (q *FileQueue) Append(ctx context.Context, items []domain.Suggestion) error {
	if len(items) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.read()
	if err != nil {
		return err
	}
	return q.write(append(existing, items...))
}

// List returns every entry in insertion order.
func (q *FileQueue) List(ctx context.Context) ([]domain.Suggestion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.read()
}

// Get returns one entry by ID.
func (q *FileQueue) Get(ctx context.Context, id string) (*domain.Suggestion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.read()
	if err != nil {
		return nil, err
	}
	i := findIndex(items, id)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	return &items[i], nil
}

// SetStatus changes one entry's status.
func (q *FileQueue) SetStatus(ctx context.Context, id string, status domain.SuggestionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.read()
	if err != nil {
		return err
	}
	i := findIndex(items, id)
	if i < 0 {
		return domain.ErrNotFound
	}
	items[i].Status = status
	return q.write(items)
}

// Clear empties the queue.
func (q *FileQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.write(nil)
}
