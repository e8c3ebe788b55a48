// Package tadp implements the Transaction Aggregated Decision Processor.
// It blends the model and rule scores and maps the result to an action.
package tadp

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// Decision boundaries. Both comparisons are strict.
const (
	BlockThreshold  = 0.8
	ReviewThreshold = 0.6
)

// Combine blends the two scores and clamps the result to [0,1].
func Combine(modelScore, ruleScore float64, w domain.BlendWeights) float64 {
	return math.Min(math.Max(w.Model*modelScore+w.Rule*ruleScore, 0), 1)
}

// Classify maps a final risk to a label.
func Classify(risk float64) domain.Label {
	switch {
	case risk > BlockThreshold:
		return domain.LabelBlock
	case risk > ReviewThreshold:
		return domain.LabelReview
	default:
		return domain.LabelAllow
	}
}

// Processor turns scores into a decision.
type Processor struct {
	Blend domain.BlendWeights
}

// NewProcessor creates a processor with the given blend weights.
func NewProcessor(blend domain.BlendWeights) *Processor {
	return &Processor{Blend: blend}
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TxnID         string
	ModelScore    float64
	Rules         domain.RuleResult
	ConfigVersion uint64
}

// Process combines, classifies and returns the decision to persist.
func (p *Processor) Process(input *DecisionInput) *domain.Decision {
	risk := Combine(input.ModelScore, input.Rules.Score, p.Blend)
	label := Classify(risk)

	return &domain.Decision{
		TxnID:         input.TxnID,
		FinalRisk:     risk,
		Label:         label,
		Reason:        Reason(input.ModelScore, input.Rules),
		ModelScore:    input.ModelScore,
		RuleScore:     input.Rules.Score,
		RuleFlags:     input.Rules.Flags,
		ConfigVersion: input.ConfigVersion,
		Timestamp:     time.Now().UTC(),
	}
}

// NewTxnID returns a transaction identifier of the form txn_<hex>.
func NewTxnID() string {
	id := uuid.New()
	return "txn_" + strings.ReplaceAll(id.String(), "-", "")
}

// Reason summarizes what drove a decision.
func Reason(modelScore float64, rules domain.RuleResult) string {
	triggered := TriggeredRules(rules)
	if len(triggered) == 0 {
		return fmt.Sprintf("model score %.3f; no rules triggered", modelScore)
	}
	return fmt.Sprintf("model score %.3f; rule score %.3f from %s",
		modelScore, rules.Score, strings.Join(triggered, ", "))
}

// TriggeredRules returns the flag keys set to 1, sorted.
func TriggeredRules(rules domain.RuleResult) []string {
	var out []string
	for k, v := range rules.Flags {
		if v == 1 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
