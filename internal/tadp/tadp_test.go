package tadp

import (
	"math"
	"strings"
	"testing"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

func TestCombine(t *testing.T) {
	w := domain.BlendWeights{Model: 0.8, Rule: 0.2}

	tests := []struct {
		name  string
		model float64
		rule  float64
		w     domain.BlendWeights
		want  float64
	}{
		{"weighted", 0.9, 1.0, w, 0.92},
		{"zero", 0, 0, w, 0},
		{"clamped high", 1.0, 1.0, domain.BlendWeights{Model: 1, Rule: 1}, 1},
		{"rule only", 0.3, 0.5, domain.BlendWeights{Rule: 1}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Combine(tt.model, tt.rule, tt.w)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		risk float64
		want domain.Label
	}{
		{0.0, domain.LabelAllow},
		{0.6, domain.LabelAllow},
		{0.6000001, domain.LabelReview},
		{0.8, domain.LabelReview},
		{0.8000001, domain.LabelBlock},
		{1.0, domain.LabelBlock},
	}

	for _, tt := range tests {
		if got := Classify(tt.risk); got != tt.want {
			t.Errorf("risk %v: expected %s, got %s", tt.risk, tt.want, got)
		}
	}
}

func TestProcessor(t *testing.T) {
	p := NewProcessor(domain.BlendWeights{Model: 0.8, Rule: 0.2})

	decision := p.Process(&DecisionInput{
		TxnID:      "txn_abc",
		ModelScore: 0.9,
		Rules: domain.RuleResult{
			Score: 1.0,
			Flags: map[string]int{domain.FlagVelocity: 1, domain.FlagAmountAnomaly: 1},
		},
		ConfigVersion: 4,
	})

	if decision.Label != domain.LabelBlock {
		t.Errorf("expected BLOCK, got %s", decision.Label)
	}
	if math.Abs(decision.FinalRisk-0.92) > 1e-9 {
		t.Errorf("expected risk 0.92, got %v", decision.FinalRisk)
	}
	if decision.ConfigVersion != 4 {
		t.Errorf("expected config version 4, got %d", decision.ConfigVersion)
	}
	if !strings.Contains(decision.Reason, domain.FlagVelocity) {
		t.Errorf("expected reason to name triggered rules, got %q", decision.Reason)
	}
	if decision.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestNewTxnID(t *testing.T) {
	a, b := NewTxnID(), NewTxnID()
	if !strings.HasPrefix(a, "txn_") || len(a) != 36 {
		t.Errorf("unexpected id format: %s", a)
	}
	if a == b {
		t.Error("expected unique ids")
	}
}

func TestReasonWithoutRules(t *testing.T) {
	r := Reason(0.42, domain.RuleResult{Flags: map[string]int{domain.FlagVelocity: 0}})
	if !strings.Contains(r, "no rules triggered") {
		t.Errorf("unexpected reason: %q", r)
	}
}
