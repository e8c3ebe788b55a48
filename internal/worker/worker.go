// Package worker scores transactions delivered over the event bus and keeps
// the rule store in step with reloads announced by other nodes.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/bus"
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/pipeline"
	"github.com/opensource-finance/fraudwatch/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("fraudwatch-worker")

// Worker processes transactions asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	scorer *pipeline.Scorer
	store  *rules.Store
	nodeID string

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// NodeID identifies this process in config reload events.
	NodeID string

	// QueueGroup spreads ingested transactions across workers when the
	// bus supports it. Empty means every worker sees every message.
	QueueGroup string
}

// NewWorker creates a new async worker. store may be nil to skip reload events.
func NewWorker(eventBus domain.EventBus, scorer *pipeline.Scorer, store *rules.Store) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		scorer: scorer,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to ingested transactions and config reload events.
func (w *Worker) Start(cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nodeID = cfg.NodeID

	var ingest domain.Subscription
	var err error
	if qs, ok := w.bus.(bus.QueueSubscriber); ok && cfg.QueueGroup != "" {
		ingest, err = qs.QueueSubscribe(w.ctx, domain.TopicTransactionIngested, cfg.QueueGroup, w.processTransaction)
	} else {
		ingest, err = w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.processTransaction)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionIngested, err)
	}
	w.subscriptions = append(w.subscriptions, ingest)

	if w.store != nil {
		sub, err := w.bus.Subscribe(w.ctx, domain.TopicConfigReloaded, w.handleConfigReloaded)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicConfigReloaded, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("worker started",
		"node_id", cfg.NodeID,
		"queue_group", cfg.QueueGroup,
		"subscriptions", len(w.subscriptions),
	)
	return nil
}

// processTransaction scores one ingested transaction. The payload has the
// same layout as the POST /score body.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "worker.score",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.message.id", msg.ID)),
	)
	defer span.End()

	var req domain.ScoreRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		span.SetStatus(codes.Error, "malformed payload")
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	resp, err := w.scorer.Score(ctx, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		slog.Error("failed to score transaction",
			"message_id", msg.ID,
			"user_id", req.UserID,
			"error", err,
		)
		return err
	}

	span.SetAttributes(
		attribute.String("fraudwatch.txn_id", resp.TxnID),
		attribute.String("fraudwatch.decision", string(resp.Decision)),
	)
	slog.Info("transaction processed",
		"txn_id", resp.TxnID,
		"message_id", msg.ID,
		"decision", resp.Decision,
		"risk_score", resp.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) handleConfigReloaded(ctx context.Context, msg *domain.Message) error {
	var evt domain.ConfigReloadedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		slog.Error("failed to parse config reload event", "message_id", msg.ID, "error", err)
		return err
	}
	if evt.NodeID == w.nodeID {
		return nil
	}

	if err := w.store.Reload(ctx); err != nil {
		slog.Error("rule reload after remote apply failed",
			"origin_node", evt.NodeID,
			"error", err,
		)
		return err
	}
	slog.Info("rule configuration reloaded from remote apply",
		"origin_node", evt.NodeID,
		"origin_version", evt.Version,
		"version", w.store.Current().Version,
	)
	return nil
}

// Stop gracefully stops all subscriptions.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
