package domain

import "context"

// Recognized rule names. They are evaluated in this order.
const (
	RuleVelocity      = "velocity"
	RuleHighRiskPCA   = "high_risk_pca"
	RuleAmountAnomaly = "amount_anomaly"
	RuleComboPattern  = "combo_pattern"
)

// Flag keys reported in RuleResult.Flags.
const (
	FlagVelocity      = "r1_velocity"
	FlagHighRiskPCA   = "r2_high_risk_pca"
	FlagAmountAnomaly = "r3_amount_anomaly"
	FlagComboPattern  = "r4_combo_pattern"
)

// Keys shared by every rule entry.
const (
	ParamEnabled = "enabled"
	ParamWeight  = "weight"
)

// RuleParams is one rule's flat parameter map.
type RuleParams = map[string]any

// RuleDocument is the durable rule configuration: rule name to a flat map of
// parameters. Every rule carries "enabled" and "weight" beside its own keys.
// Top-level entries that are not rules, such as a "_comment" string, are kept
// as opaque values so a rewrite preserves them.
type RuleDocument map[string]any

// Rule returns the parameter map stored under name. ok is false when the
// entry is missing or is not an object.
func (d RuleDocument) Rule(name string) (RuleParams, bool) {
	params, ok := d[name].(map[string]any)
	return params, ok
}

// Set stores value under rule.param. It reports false when the rule entry is
// missing or is not an object.
func (d RuleDocument) Set(rule, param string, value any) bool {
	params, ok := d.Rule(rule)
	if !ok {
		return false
	}
	params[param] = value
	return true
}

// Clone returns a deep copy of the document.
func (d RuleDocument) Clone() RuleDocument {
	if d == nil {
		return nil
	}
	out := make(RuleDocument, len(d))
	for name, entry := range d {
		out[name] = cloneValue(entry)
	}
	return out
}

// Has reports whether the document holds the rule and parameter.
func (d RuleDocument) Has(rule, param string) bool {
	params, ok := d.Rule(rule)
	if !ok {
		return false
	}
	_, ok = params[param]
	return ok
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		cp := make([]any, len(val))
		for i := range val {
			cp[i] = cloneValue(val[i])
		}
		return cp
	case []string:
		return append([]string(nil), val...)
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, inner := range val {
			cp[k] = cloneValue(inner)
		}
		return cp
	default:
		return v
	}
}

// RuleResult is the output of one rule-engine evaluation.
type RuleResult struct {
	// Score is the normalized rule score in [0,1].
	Score float64 `json:"score"`

	// Flags holds 0/1 per enabled rule, keyed by FlagVelocity etc.
	Flags map[string]int `json:"flags"`
}

// RuleSource loads and persists the whole rule document.
type RuleSource interface {
	LoadRules(ctx context.Context) (RuleDocument, error)
	SaveRules(ctx context.Context, doc RuleDocument) error
}
