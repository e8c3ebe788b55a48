// Package velocity tracks when each user last transacted.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a cached last-transaction time is kept.
const DefaultTTL = 24 * time.Hour

// Service answers "when did this user last transact" from the cache, falling
// back to the repository. Concurrent misses for one user share a query.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewService creates a new velocity service. cache may be nil.
func NewService(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

func cacheKey(userID string) string {
	return "last_txn:" + userID
}

// LastTransactionTime returns the Time of the user's previous transaction,
// or nil when the user has none.
func (s *Service) LastTransactionTime(ctx context.Context, userID string) (*float64, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", domain.ErrInvalidInput)
	}

	if s.cache != nil {
		data, err := s.cache.Get(ctx, cacheKey(userID))
		if err != nil {
			slog.Debug("velocity cache lookup failed", "user_id", userID, "error", err)
		} else if data != nil {
			if v, err := strconv.ParseFloat(string(data), 64); err == nil {
				return &v, nil
			}
		}
	}

	if s.repo == nil {
		return nil, fmt.Errorf("no data source available")
	}

	v, err, _ := s.group.Do(userID, func() (any, error) {
		last, err := s.repo.LastTransactionTime(ctx, userID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			s.remember(ctx, userID, *last)
		}
		return last, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get last transaction time: %w", err)
	}
	return v.(*float64), nil
}

// Record notes a transaction that has just been persisted.
func (s *Service) Record(ctx context.Context, tx *domain.Transaction) {
	if tx.UserID == "" {
		return
	}
	s.remember(ctx, tx.UserID, tx.Time)
}

func (s *Service) remember(ctx context.Context, userID string, t float64) {
	if s.cache == nil {
		return
	}
	value := []byte(strconv.FormatFloat(t, 'g', -1, 64))
	if err := s.cache.Set(ctx, cacheKey(userID), value, s.ttl); err != nil {
		slog.Debug("velocity cache update failed", "user_id", userID, "error", err)
	}
}
