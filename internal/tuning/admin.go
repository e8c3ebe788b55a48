package tuning

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/metrics"
)

// ErrAdvisorDisabled is returned when no reasoning service is configured.
var ErrAdvisorDisabled = errors.New("advisor is not configured")

// Admin serializes the out-of-band operations that touch the suggestion
// queue and the rule document. None of them are on the scoring path.
type Admin struct {
	mu      sync.Mutex
	advisor *Advisor
	applier *Applier
	queue   domain.SuggestionQueue
}

// NewAdmin creates an Admin. advisor may be nil.
func NewAdmin(advisor *Advisor, applier *Applier, queue domain.SuggestionQueue) *Admin {
	return &Admin{
		advisor: advisor,
		applier: applier,
		queue:   queue,
	}
}

// RunAdvisor runs one advisor pass.
func (a *Admin) RunAdvisor(ctx context.Context, windowSize int) ([]domain.Suggestion, error) {
	if a.advisor == nil {
		return nil, ErrAdvisorDisabled
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.advisor.Run(ctx, windowSize)
}

// Suggestions lists the queue.
func (a *Admin) Suggestions(ctx context.Context) ([]domain.Suggestion, error) {
	return a.queue.List(ctx)
}

// Approve marks a pending or rejected suggestion approved.
func (a *Admin) Approve(ctx context.Context, id string) (*domain.Suggestion, error) {
	return a.transition(ctx, id, domain.SuggestionApproved)
}

// Reject marks a pending or approved suggestion rejected.
func (a *Admin) Reject(ctx context.Context, id string) (*domain.Suggestion, error) {
	return a.transition(ctx, id, domain.SuggestionRejected)
}

func (a *Admin) transition(ctx context.Context, id string, to domain.SuggestionStatus) (*domain.Suggestion, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sg, err := a.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sg.Status == domain.SuggestionApplied {
		return nil, fmt.Errorf("%w: suggestion %s was already applied", domain.ErrInvalidInput, id)
	}
	if sg.Status == to {
		return sg, nil
	}

	if err := a.queue.SetStatus(ctx, id, to); err != nil {
		return nil, err
	}
	metrics.SuggestionsTotal.WithLabelValues(string(to)).Inc()
	sg.Status = to
	return sg, nil
}

// Apply applies the given suggestions. With none given it applies every
// approved entry in the queue.
func (a *Admin) Apply(ctx context.Context, approved []domain.Suggestion) (*ApplyResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(approved) == 0 {
		queued, err := a.queue.List(ctx)
		if err != nil {
			return nil, &domain.ApplyError{Stage: "load", Err: err}
		}
		for _, sg := range queued {
			if sg.Status == domain.SuggestionApproved {
				approved = append(approved, sg)
			}
		}
	}
	return a.applier.Apply(ctx, approved)
}
