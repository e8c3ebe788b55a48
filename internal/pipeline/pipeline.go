// Package pipeline scores a transaction end to end: velocity lookup, rule
// evaluation, blending, classification, persistence and event fan-out.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/metrics"
	"github.com/opensource-finance/fraudwatch/internal/rules"
	"github.com/opensource-finance/fraudwatch/internal/tadp"
	"github.com/opensource-finance/fraudwatch/internal/velocity"
)

var tracer = otel.Tracer("fraudwatch-pipeline")

// Scorer is shared by the HTTP handler and the async worker.
type Scorer struct {
	repo      domain.Repository
	velocity  *velocity.Service
	engine    *rules.Engine
	processor *tadp.Processor
	bus       domain.EventBus
	logger    *slog.Logger
	now       func() time.Time
}

// NewScorer creates a scorer. bus may be nil, in which case no events are published.
func NewScorer(repo domain.Repository, vel *velocity.Service, engine *rules.Engine, processor *tadp.Processor, bus domain.EventBus, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		repo:      repo,
		velocity:  vel,
		engine:    engine,
		processor: processor,
		bus:       bus,
		logger:    logger.With("component", "pipeline"),
		now:       time.Now,
	}
}

// Score evaluates one request against the snapshot in force at entry and
// persists the transaction and its decision. Invalid requests return an
// error wrapping domain.ErrInvalidInput or domain.ErrInvalidTransaction.
func (s *Scorer) Score(ctx context.Context, req *domain.ScoreRequest) (*domain.ScoreResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx := req.Transaction
	tx.UserID = req.UserID
	if tx.ID == "" {
		tx.ID = tadp.NewTxnID()
	}
	tx.ReceivedAt = s.now().UTC()

	ctx, span := tracer.Start(ctx, "pipeline.score",
		trace.WithAttributes(
			attribute.String("txn.id", tx.ID),
			attribute.String("user.id", tx.UserID),
		),
	)
	defer span.End()

	// A failed lookup scores the transaction as the user's first.
	last, err := s.velocity.LastTransactionTime(ctx, tx.UserID)
	if err != nil {
		s.logger.Warn("velocity lookup failed", "txn_id", tx.ID, "user_id", tx.UserID, "error", err)
		last = nil
	}

	ruleResult, snap := s.engine.Score(&tx, last)

	decision := s.processor.Process(&tadp.DecisionInput{
		TxnID:         tx.ID,
		ModelScore:    req.ModelScore,
		Rules:         ruleResult,
		ConfigVersion: snap.Version,
	})

	if err := s.repo.SaveTransaction(ctx, &tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}
	if err := s.repo.SaveDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to save decision: %w", err)
	}
	s.velocity.Record(ctx, &tx)

	metrics.DecisionsTotal.WithLabelValues(string(decision.Label)).Inc()
	for _, flag := range tadp.TriggeredRules(ruleResult) {
		metrics.RuleFlagsTotal.WithLabelValues(flag).Inc()
	}
	metrics.FinalRisk.Observe(decision.FinalRisk)
	metrics.ScoreDuration.Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.String("decision", string(decision.Label)),
		attribute.Float64("final_risk", decision.FinalRisk),
		attribute.Int64("config.version", int64(snap.Version)),
	)

	s.publish(ctx, decision)

	s.logger.Debug("transaction scored",
		"txn_id", tx.ID,
		"decision", decision.Label,
		"final_risk", decision.FinalRisk,
		"rule_score", ruleResult.Score,
		"config_version", snap.Version,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &domain.ScoreResponse{
		TxnID:         tx.ID,
		RiskScore:     decision.FinalRisk,
		Decision:      decision.Label,
		ModelScore:    decision.ModelScore,
		RuleScore:     ruleResult.Score,
		RuleDetails:   ruleResult.Flags,
		Explanation:   req.Explanation,
		ConfigVersion: snap.Version,
	}, nil
}

func (s *Scorer) publish(ctx context.Context, decision *domain.Decision) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(decision)
	if err != nil {
		s.logger.Error("failed to encode decision", "txn_id", decision.TxnID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		s.logger.Error("failed to publish decision", "txn_id", decision.TxnID, "error", err)
	}

	if decision.Label == domain.LabelBlock {
		if err := s.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			s.logger.Error("failed to publish alert", "txn_id", decision.TxnID, "error", err)
		}
	}
}
