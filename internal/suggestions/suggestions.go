// Package suggestions provides the durable queues that hold rule-change
// suggestions between an advisor run and human review.
package suggestions

import (
	"fmt"

	"github.com/opensource-finance/fraudwatch/internal/cache"
	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// New creates the queue selected by cfg.Backend. repo backs the "sql"
// backend; redisCfg supplies the connection for the "redis" backend.
func New(cfg domain.SuggestionsConfig, repo domain.Repository, redisCfg domain.CacheConfig) (domain.SuggestionQueue, error) {
	switch cfg.Backend {
	case "file", "":
		path := cfg.Path
		if path == "" {
			path = "./suggestions.json"
		}
		return NewFileQueue(path), nil

	case "sql":
		if repo == nil {
			return nil, fmt.Errorf("sql suggestion queue requires a repository")
		}
		return repo.Suggestions(), nil

	case "redis":
		client, err := cache.Dial(redisCfg)
		if err != nil {
			return nil, err
		}
		return NewRedisQueue(client, cfg.RedisKey), nil

	case "memory":
		return NewMemoryQueue(), nil

	default:
		return nil, fmt.Errorf("unsupported suggestion backend: %s", cfg.Backend)
	}
}

func findIndex(items []domain.Suggestion, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
