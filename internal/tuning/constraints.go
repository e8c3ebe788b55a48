package tuning

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/rules"
)

// DefaultConstraints bound the numeric parameters of the rule document.
// Parameters without an entry are unconstrained beyond their type.
var DefaultConstraints = map[string]string{
	domain.ParamWeight:          "value >= 0.0",
	rules.ParamTimeWindowSec:    "value > 0.0",
	rules.ParamDefaultThreshold: "value >= 0.0",
	rules.ParamThresholds:       "value >= 0.0",
	rules.ParamSmallThreshold:   "value >= 0.0",
	rules.ParamLargeThreshold:   "value >= 0.0",
}

// Constraints holds compiled CEL predicates keyed by parameter name.
// Each predicate sees value (double), rule (string) and param (string).
type Constraints struct {
	programs map[string]compiledConstraint
}

type compiledConstraint struct {
	expr    string
	program cel.Program
}

// NewConstraints compiles exprs. Every expression must evaluate to bool.
func NewConstraints(exprs map[string]string) (*Constraints, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DoubleType),
		cel.Variable("rule", cel.StringType),
		cel.Variable("param", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &Constraints{programs: make(map[string]compiledConstraint, len(exprs))}
	for param, expr := range exprs {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile constraint for %s: %w", param, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("constraint for %s must return bool, got %s", param, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for %s: %w", param, err)
		}
		c.programs[param] = compiledConstraint{expr: expr, program: prg}
	}
	return c, nil
}

// Check reports an error when value violates the constraint for param.
func (c *Constraints) Check(rule, param string, value float64) error {
	compiled, ok := c.programs[param]
	if !ok {
		return nil
	}

	out, _, err := compiled.program.Eval(map[string]any{
		"value": value,
		"rule":  rule,
		"param": param,
	})
	if err != nil {
		return fmt.Errorf("constraint evaluation for %s.%s: %w", rule, param, err)
	}
	if pass, ok := out.Value().(bool); !ok || !pass {
		return fmt.Errorf("%w: %s.%s = %v violates %q", domain.ErrInvalidInput, rule, param, value, compiled.expr)
	}
	return nil
}
