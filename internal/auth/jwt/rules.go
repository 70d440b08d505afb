package jwt

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// RuleSet holds compiled CEL claim rules. Each expression sees the
// token claims as `claims` and must return a bool.
type RuleSet struct {
	rules []compiledRule
}

type compiledRule struct {
	name    string
	program cel.Program
}

// NewRuleSet compiles rules. An empty input yields an empty set.
func NewRuleSet(rules []ClaimRule) (*RuleSet, error) {
	rs := &RuleSet{}
	if len(rules) == 0 {
		return rs, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("claims", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	for i, rule := range rules {
		name := rule.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}

		ast, issues := env.Compile(rule.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %s: %w", name, issues.Err())
		}
		if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("rule %s: expression must return bool, got %s", name, out)
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		rs.rules = append(rs.rules, compiledRule{name: name, program: program})
	}
	return rs, nil
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Evaluate runs every rule against claims and returns the first failure.
// An evaluation error counts as a failure.
func (rs *RuleSet) Evaluate(claims *Claims) error {
	if len(rs.rules) == 0 {
		return nil
	}

	vars := map[string]interface{}{"claims": claims.ToMap()}
	for _, r := range rs.rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			return NewValidationErrorWithClaims(
				fmt.Sprintf("rule %s failed to evaluate", r.name),
				fmt.Errorf("%w: %v", ErrTokenInvalidClaim, err), claims)
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			return NewValidationErrorWithClaims(
				fmt.Sprintf("rule %s rejected the token", r.name),
				ErrTokenInvalidClaim, claims)
		}
	}
	return nil
}
