package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// Parameter keys recognized in the rule document.
const (
	ParamTimeWindowSec    = "time_window_sec"
	ParamComponents       = "components"
	ParamDefaultThreshold = "default_threshold"
	ParamThresholds       = "thresholds"
	ParamSmallThreshold   = "small_threshold"
	ParamLargeThreshold   = "large_threshold"
)

// Defaults applied when a key is missing from the document.
const (
	DefaultVelocityWindow = 5.0
	DefaultVelocityWeight = 2.5
	DefaultPCAThreshold   = 3.0
	DefaultPCAWeight      = 1.5
	DefaultSmallThreshold = 10.0
	DefaultLargeThreshold = 1000.0
	DefaultAmountWeight   = 1.0
	DefaultComboWeight    = 3.0
)

// DefaultPCAComponents are the features checked by high_risk_pca by default.
var DefaultPCAComponents = []string{"V4", "V10", "V12", "V14"}

// VelocityRule flags a transaction arriving too soon after the user's previous one.
type VelocityRule struct {
	Enabled       bool
	Weight        float64
	TimeWindowSec float64
}

// HighRiskPCARule flags extreme values on selected features.
type HighRiskPCARule struct {
	Enabled          bool
	Weight           float64
	Components       []string
	DefaultThreshold float64

	// Thresholds overrides DefaultThreshold per component.
	Thresholds map[string]float64
}

// Threshold returns the limit for one component.
func (r HighRiskPCARule) Threshold(component string) float64 {
	if t, ok := r.Thresholds[component]; ok {
		return t
	}
	return r.DefaultThreshold
}

// AmountAnomalyRule flags tiny, huge and round amounts.
type AmountAnomalyRule struct {
	Enabled        bool
	Weight         float64
	SmallThreshold float64
	LargeThreshold float64
}

// ComboRule flags velocity+small and pca+large combinations.
type ComboRule struct {
	Enabled bool
	Weight  float64
}

// Snapshot is an immutable, fully resolved rule configuration.
// Callers must not modify a published snapshot.
type Snapshot struct {
	Velocity      VelocityRule
	HighRiskPCA   HighRiskPCARule
	AmountAnomaly AmountAnomalyRule
	Combo         ComboRule

	Version  uint64
	LoadedAt time.Time

	doc domain.RuleDocument
}

// Document returns a deep copy of the document the snapshot was resolved from.
func (s *Snapshot) Document() domain.RuleDocument {
	if s.doc == nil {
		return domain.RuleDocument{}
	}
	return s.doc.Clone()
}

// EnabledWeight is the normalization denominator.
func (s *Snapshot) EnabledWeight() float64 {
	var total float64
	if s.Velocity.Enabled {
		total += s.Velocity.Weight
	}
	if s.HighRiskPCA.Enabled {
		total += s.HighRiskPCA.Weight
	}
	if s.AmountAnomaly.Enabled {
		total += s.AmountAnomaly.Weight
	}
	if s.Combo.Enabled {
		total += s.Combo.Weight
	}
	return total
}

// DisabledSnapshot returns the snapshot in force before any document loads.
func DisabledSnapshot() *Snapshot {
	snap, _ := Resolve(domain.RuleDocument{})
	return snap
}

// Resolve turns a rule document into a typed snapshot. Missing keys take
// their defaults. Unknown top-level entries and keys are ignored whatever
// their type. A value of the wrong
// type or a negative weight fails the whole document.
func Resolve(doc domain.RuleDocument) (*Snapshot, error) {
	snap := &Snapshot{doc: doc.Clone()}
	var errs []error

	v := params{rule: domain.RuleVelocity, values: entry(doc, domain.RuleVelocity, &errs), errs: &errs}
	snap.Velocity = VelocityRule{
		Enabled:       v.boolean(domain.ParamEnabled, false),
		Weight:        v.weight(DefaultVelocityWeight),
		TimeWindowSec: v.number(ParamTimeWindowSec, DefaultVelocityWindow),
	}

	p := params{rule: domain.RuleHighRiskPCA, values: entry(doc, domain.RuleHighRiskPCA, &errs), errs: &errs}
	snap.HighRiskPCA = HighRiskPCARule{
		Enabled:          p.boolean(domain.ParamEnabled, false),
		Weight:           p.weight(DefaultPCAWeight),
		Components:       p.strings(ParamComponents, DefaultPCAComponents),
		DefaultThreshold: p.number(ParamDefaultThreshold, DefaultPCAThreshold),
		Thresholds:       p.numberMap(ParamThresholds),
	}

	a := params{rule: domain.RuleAmountAnomaly, values: entry(doc, domain.RuleAmountAnomaly, &errs), errs: &errs}
	snap.AmountAnomaly = AmountAnomalyRule{
		Enabled:        a.boolean(domain.ParamEnabled, false),
		Weight:         a.weight(DefaultAmountWeight),
		SmallThreshold: a.number(ParamSmallThreshold, DefaultSmallThreshold),
		LargeThreshold: a.number(ParamLargeThreshold, DefaultLargeThreshold),
	}

	c := params{rule: domain.RuleComboPattern, values: entry(doc, domain.RuleComboPattern, &errs), errs: &errs}
	snap.Combo = ComboRule{
		Enabled: c.boolean(domain.ParamEnabled, false),
		Weight:  c.weight(DefaultComboWeight),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return snap, nil
}

// entry returns the parameters of a recognized rule. A missing or null entry
// takes every default; any other non-object value is an error.
func entry(doc domain.RuleDocument, rule string, errs *[]error) map[string]any {
	raw, ok := doc[rule]
	if !ok || raw == nil {
		return nil
	}
	values, ok := raw.(map[string]any)
	if !ok {
		*errs = append(*errs, fmt.Errorf("%s: expected an object, got %T", rule, raw))
		return nil
	}
	return values
}

// DefaultDocument is a starter document with every rule enabled at its defaults.
func DefaultDocument() domain.RuleDocument {
	return domain.RuleDocument{
		domain.RuleVelocity: domain.RuleParams{
			domain.ParamEnabled: true,
			domain.ParamWeight:  DefaultVelocityWeight,
			ParamTimeWindowSec:  DefaultVelocityWindow,
		},
		domain.RuleHighRiskPCA: domain.RuleParams{
			domain.ParamEnabled:   true,
			domain.ParamWeight:    DefaultPCAWeight,
			ParamComponents:       []any{"V4", "V10", "V12", "V14"},
			ParamDefaultThreshold: DefaultPCAThreshold,
		},
		domain.RuleAmountAnomaly: domain.RuleParams{
			domain.ParamEnabled: true,
			domain.ParamWeight:  DefaultAmountWeight,
			ParamSmallThreshold: DefaultSmallThreshold,
			ParamLargeThreshold: DefaultLargeThreshold,
		},
		domain.RuleComboPattern: domain.RuleParams{
			domain.ParamEnabled: true,
			domain.ParamWeight:  DefaultComboWeight,
		},
	}
}

// params reads typed values out of one rule's flat key map, collecting errors.
type params struct {
	rule   string
	values map[string]any
	errs   *[]error
}

func (p params) fail(key string, want string, got any) {
	*p.errs = append(*p.errs, fmt.Errorf("%s.%s: expected %s, got %T", p.rule, key, want, got))
}

func (p params) boolean(key string, def bool) bool {
	raw, ok := p.values[key]
	if !ok {
		return def
	}
	b, ok := raw.(bool)
	if !ok {
		p.fail(key, "bool", raw)
		return def
	}
	return b
}

func (p params) number(key string, def float64) float64 {
	raw, ok := p.values[key]
	if !ok {
		return def
	}
	f, ok := ToFloat(raw)
	if !ok {
		p.fail(key, "number", raw)
		return def
	}
	return f
}

func (p params) weight(def float64) float64 {
	w := p.number(domain.ParamWeight, def)
	if w < 0 {
		*p.errs = append(*p.errs, fmt.Errorf("%s.%s: must not be negative, got %v", p.rule, domain.ParamWeight, w))
		return def
	}
	return w
}

func (p params) strings(key string, def []string) []string {
	raw, ok := p.values[key]
	if !ok {
		return append([]string(nil), def...)
	}
	switch list := raw.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				p.fail(key, "list of strings", raw)
				return append([]string(nil), def...)
			}
			out = append(out, s)
		}
		return out
	}
	p.fail(key, "list of strings", raw)
	return append([]string(nil), def...)
}

func (p params) numberMap(key string) map[string]float64 {
	raw, ok := p.values[key]
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		p.fail(key, "map of numbers", raw)
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, item := range m {
		f, ok := ToFloat(item)
		if !ok {
			p.fail(key+"."+k, "number", item)
			continue
		}
		out[k] = f
	}
	return out
}

// ToFloat converts the numeric kinds produced by the JSON and YAML decoders.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
