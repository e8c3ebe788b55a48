package tuning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/metrics"
	"github.com/opensource-finance/fraudwatch/internal/rules"
)

// ApplyResult reports what an apply changed.
type ApplyResult struct {
	Applied     int                 `json:"applied"`
	Skipped     int                 `json:"skipped"`
	Version     uint64              `json:"config_version"`
	Suggestions []domain.Suggestion `json:"suggestions"`
}

// Applier writes approved suggestions into the durable rule document and
// reloads the store.
type Applier struct {
	source      domain.RuleSource
	store       *rules.Store
	queue       domain.SuggestionQueue
	constraints *Constraints
	bus         domain.EventBus
	nodeID      string
	logger      *slog.Logger
}

// NewApplier creates an applier. store must read from source.
func NewApplier(source domain.RuleSource, store *rules.Store, queue domain.SuggestionQueue, constraints *Constraints, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		source:      source,
		store:       store,
		queue:       queue,
		constraints: constraints,
		logger:      logger.With("component", "tuning.applier"),
	}
}

// WithEventBus announces successful applies on domain.TopicConfigReloaded.
func (a *Applier) WithEventBus(bus domain.EventBus, nodeID string) *Applier {
	a.bus = bus
	a.nodeID = nodeID
	return a
}

// Apply sets each approved suggestion whose rule and parameter exist in the
// document, persists the whole document, reloads the store and clears the
// queue. Suggestions that are rejected, target unknown keys, or carry values
// that do not fit the parameter are skipped and keep their status.
//
// A persist failure leaves everything as it was. A reload failure leaves the
// new document on disk and the queue intact.
func (a *Applier) Apply(ctx context.Context, approved []domain.Suggestion) (*ApplyResult, error) {
	doc, err := a.source.LoadRules(ctx)
	if err != nil {
		return nil, &domain.ApplyError{Stage: "load", Err: err}
	}

	result := &ApplyResult{Suggestions: make([]domain.Suggestion, 0, len(approved))}
	for _, sg := range approved {
		if sg.Status == domain.SuggestionRejected {
			result.Skipped++
			result.Suggestions = append(result.Suggestions, sg)
			continue
		}
		sg.Status = domain.SuggestionApproved

		if !doc.Has(sg.TargetRule, sg.Parameter) {
			a.logger.Info("suggestion skipped, unknown parameter",
				"suggestion_id", sg.ID,
				"rule", sg.TargetRule,
				"parameter", sg.Parameter,
			)
			result.Skipped++
			result.Suggestions = append(result.Suggestions, sg)
			continue
		}

		params, _ := doc.Rule(sg.TargetRule)
		value, err := a.coerce(sg.TargetRule, sg.Parameter, params[sg.Parameter], sg.ProposedValue)
		if err != nil {
			a.logger.Warn("suggestion skipped, invalid value",
				"suggestion_id", sg.ID,
				"rule", sg.TargetRule,
				"parameter", sg.Parameter,
				"error", err,
			)
			result.Skipped++
			result.Suggestions = append(result.Suggestions, sg)
			continue
		}

		doc.Set(sg.TargetRule, sg.Parameter, value)
		sg.Status = domain.SuggestionApplied
		result.Applied++
		result.Suggestions = append(result.Suggestions, sg)
	}

	if err := a.source.SaveRules(ctx, doc); err != nil {
		a.logger.Error("failed to persist rule document", "error", err)
		return nil, &domain.ApplyError{Stage: "persist", Err: err}
	}

	for _, sg := range result.Suggestions {
		if sg.Status != domain.SuggestionApplied || sg.ID == "" {
			continue
		}
		if err := a.queue.SetStatus(ctx, sg.ID, domain.SuggestionApplied); err != nil && !errors.Is(err, domain.ErrNotFound) {
			a.logger.Warn("failed to mark suggestion applied", "suggestion_id", sg.ID, "error", err)
		}
	}

	metrics.SuggestionsTotal.WithLabelValues("applied").Add(float64(result.Applied))
	metrics.SuggestionsTotal.WithLabelValues("skipped").Add(float64(result.Skipped))

	if err := a.store.Reload(ctx); err != nil {
		return result, &domain.ApplyError{Stage: "reload", Err: err}
	}
	result.Version = a.store.Current().Version

	if err := a.queue.Clear(ctx); err != nil {
		return result, &domain.ApplyError{Stage: "clear", Err: err}
	}

	a.logger.Info("rule changes applied",
		"applied", result.Applied,
		"skipped", result.Skipped,
		"version", result.Version,
	)
	a.announce(ctx, result.Version)
	return result, nil
}

func (a *Applier) announce(ctx context.Context, version uint64) {
	if a.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.ConfigReloadedEvent{NodeID: a.nodeID, Version: version})
	if err != nil {
		return
	}
	if err := a.bus.Publish(ctx, domain.TopicConfigReloaded, payload); err != nil {
		a.logger.Warn("failed to publish config reload", "error", err)
	}
}

// coerce converts proposed to the kind of current, checking numeric values
// against the parameter's constraint.
func (a *Applier) coerce(rule, param string, current, proposed any) (any, error) {
	switch current.(type) {
	case bool:
		b, ok := proposed.(bool)
		if !ok {
			return nil, kindError(param, "bool", proposed)
		}
		return b, nil

	case []any, []string:
		list, ok := stringList(proposed)
		if !ok {
			return nil, kindError(param, "list of strings", proposed)
		}
		return list, nil

	case map[string]any:
		m, ok := proposed.(map[string]any)
		if !ok {
			return nil, kindError(param, "map of numbers", proposed)
		}
		out := make(map[string]any, len(m))
		for k, v := range m {
			f, err := a.number(rule, param, v)
			if err != nil {
				return nil, err
			}
			out[k] = f
		}
		return out, nil
	}

	if _, ok := rules.ToFloat(current); ok {
		return a.number(rule, param, proposed)
	}
	return nil, fmt.Errorf("%w: %s has unsupported kind %T", domain.ErrInvalidInput, param, current)
}

func (a *Applier) number(rule, param string, v any) (float64, error) {
	f, ok := rules.ToFloat(v)
	if !ok {
		s, isString := v.(string)
		if !isString {
			return 0, kindError(param, "number", v)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, kindError(param, "number", v)
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s must be finite", domain.ErrInvalidInput, param)
	}
	if a.constraints != nil {
		if err := a.constraints.Check(rule, param, f); err != nil {
			return 0, err
		}
	}
	return f, nil
}

func stringList(v any) ([]any, bool) {
	switch items := v.(type) {
	case []any:
		out := make([]any, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case []string:
		out := make([]any, 0, len(items))
		for _, s := range items {
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func kindError(param, want string, got any) error {
	return fmt.Errorf("%w: %s must be a %s, got %T", domain.ErrInvalidInput, param, want, got)
}
