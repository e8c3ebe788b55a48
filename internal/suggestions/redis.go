package suggestions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// RedisQueue stores each suggestion as a JSON element of a Redis list.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue on the given list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "fraudwatch:suggestions"
	}
	return &RedisQueue{client: client, key: key}
}

// Append pushes all items with a single RPUSH.
func (q *RedisQueue) Append(ctx context.Context, items []domain.Suggestion) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]any, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode suggestion: %w", err)
		}
		values = append(values, data)
	}
	return q.client.RPush(ctx, q.key, values...).Err()
}

func decodeAll(raw []string) ([]domain.Suggestion, error) {
	out := make([]domain.Suggestion, 0, len(raw))
	for _, r := range raw {
		var sg domain.Suggestion
		if err := json.Unmarshal([]byte(r), &sg); err != nil {
			return nil, fmt.Errorf("failed to decode suggestion: %w", err)
		}
		out = append(out, sg)
	}
	return out, nil
}

// List returns every entry in insertion order.
func (q *RedisQueue) List(ctx context.Context) ([]domain.Suggestion, error) {
	raw, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return decodeAll(raw)
}

// Get returns one entry by ID.
func (q *RedisQueue) Get(ctx context.Context, id string) (*domain.Suggestion, error) {
	items, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	i := findIndex(items, id)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	return &items[i], nil
}

// SetStatus rewrites one element under WATCH so concurrent appends are not lost.
func (q *RedisQueue) SetStatus(ctx context.Context, id string, status domain.SuggestionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}

	update := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, q.key, 0, -1).Result()
		if err != nil {
			return err
		}
		items, err := decodeAll(raw)
		if err != nil {
			return err
		}
		i := findIndex(items, id)
		if i < 0 {
			return domain.ErrNotFound
		}
		items[i].Status = status
		data, err := json.Marshal(items[i])
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, q.key, int64(i), data)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := q.client.Watch(ctx, update, q.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update suggestion %s: too much contention", id)
}

// Clear deletes the list.
func (q *RedisQueue) Clear(ctx context.Context) error {
	return q.client.Del(ctx, q.key).Err()
}
