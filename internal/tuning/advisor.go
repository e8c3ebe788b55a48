package tuning

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/metrics"
)

// DefaultWindowSize is the number of flagged decisions sampled per run.
const DefaultWindowSize = 100

// FlaggedSource returns recent BLOCK and REVIEW decisions, newest first.
type FlaggedSource interface {
	FlaggedDecisions(ctx context.Context, limit int) ([]domain.FlaggedDecision, error)
}

// DocumentSource returns the rule document currently in force.
type DocumentSource interface {
	Document() domain.RuleDocument
}

// Advisor samples flagged decisions, asks a Reasoner for rule changes and
// queues the proposals as pending suggestions.
type Advisor struct {
	flagged  FlaggedSource
	rules    DocumentSource
	reasoner Reasoner
	queue    domain.SuggestionQueue
	window   int
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdvisor creates an advisor. cfg supplies the default window and the
// timeout applied to each reasoning call.
func NewAdvisor(flagged FlaggedSource, rules DocumentSource, reasoner Reasoner, queue domain.SuggestionQueue, cfg domain.AdvisorConfig, logger *slog.Logger) *Advisor {
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.WindowSize
	if window <= 0 {
		window = DefaultWindowSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Advisor{
		flagged:  flagged,
		rules:    rules,
		reasoner: reasoner,
		queue:    queue,
		window:   window,
		timeout:  timeout,
		logger:   logger.With("component", "tuning.advisor"),
		now:      time.Now,
	}
}

// Run performs one advisor pass and returns the suggestions it queued.
// windowSize <= 0 uses the configured default. Any failure returns an
// *domain.AdvisorError and leaves the queue unchanged.
func (a *Advisor) Run(ctx context.Context, windowSize int) ([]domain.Suggestion, error) {
	if windowSize <= 0 {
		windowSize = a.window
	}

	flagged, err := a.flagged.FlaggedDecisions(ctx, windowSize)
	if err != nil {
		return nil, a.fail("fetch", err)
	}

	req := &ChangeRequest{
		Rules:   a.rules.Document(),
		Flagged: flagged,
	}

	a.logger.Info("advisor run started", "window", windowSize, "flagged", len(flagged))

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	start := time.Now()
	text, err := a.reasoner.Propose(callCtx, req)
	metrics.AdvisorDuration.Observe(time.Since(start).Seconds())
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		var te *TimeoutError
		if timedOut && !errors.As(err, &te) {
			err = &TimeoutError{Timeout: a.timeout, Cause: err}
		}
		return nil, a.fail("reason", err)
	}

	proposals, err := ParseSuggestions(text)
	if err != nil {
		a.logger.Debug("unparseable advisor response", "response", text)
		return nil, a.fail("parse", err)
	}

	if len(proposals) == 0 {
		metrics.AdvisorRunsTotal.WithLabelValues("success").Inc()
		a.logger.Info("advisor run completed", "suggestions", 0)
		return []domain.Suggestion{}, nil
	}

	created := a.now().UTC()
	for i := range proposals {
		proposals[i].ID = uuid.New().String()
		proposals[i].Status = domain.SuggestionPending
		proposals[i].CreatedAt = created
	}

	if err := a.queue.Append(ctx, proposals); err != nil {
		return nil, a.fail("append", err)
	}

	metrics.AdvisorRunsTotal.WithLabelValues("success").Inc()
	metrics.SuggestionsTotal.WithLabelValues("proposed").Add(float64(len(proposals)))
	a.logger.Info("advisor run completed", "suggestions", len(proposals))
	return proposals, nil
}

func (a *Advisor) fail(stage string, err error) error {
	metrics.AdvisorRunsTotal.WithLabelValues(stage + "_failed").Inc()
	a.logger.Error("advisor run failed", "stage", stage, "error", err)
	return &domain.AdvisorError{Stage: stage, Err: err}
}
