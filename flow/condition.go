package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// ConditionResult is the well-known key a Condition's Run result carries its
// boolean verdict under.
const ConditionResult = "condition_result"

// DefaultConditionName is the reserved name of the always-true fallback
// condition. At most one transition leaving any source may use it.
const DefaultConditionName = "default"

// Condition is a predicate over State used to choose among a source
// action's outgoing transitions.
type Condition interface {
	// Name identifies the condition in diagnostics and build-time checks.
	Name() string
	// Reads returns the state keys this condition inspects.
	Reads() []string
	// Run evaluates the condition against the keys it declared in Reads,
	// returning a map carrying ConditionResult.
	Run(s State) (map[string]bool, error)
}

// Default is the always-true fallback condition.
type Default struct{}

// Name returns DefaultConditionName.
func (Default) Name() string { return DefaultConditionName }

// Reads returns nil: the default condition reads no state.
func (Default) Reads() []string { return nil }

// Run always reports true.
func (Default) Run(State) (map[string]bool, error) {
	return map[string]bool{ConditionResult: true}, nil
}

// IsDefault reports whether c is the default fallback condition.
func IsDefault(c Condition) bool {
	_, ok := c.(Default)
	return ok
}

// Equals builds a condition that is true when every named key's value in
// state equals the paired expected value (compared via fmt.Sprintf("%v",
// ...), so int(3) and float64(3) compare equal).
func Equals(name string, kv map[string]any) Condition {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	return &equalsCondition{name: name, reads: keys, expect: kv}
}

type equalsCondition struct {
	name   string
	reads  []string
	expect map[string]any
}

func (c *equalsCondition) Name() string    { return c.name }
func (c *equalsCondition) Reads() []string { return c.reads }

func (c *equalsCondition) Run(s State) (map[string]bool, error) {
	for _, k := range c.reads {
		v, ok := s.Get(k)
		if !ok {
			return nil, &EvaluationError{Condition: c.name, Reason: fmt.Sprintf("state key %q is missing", k), Code: "MISSING_STATE_KEY"}
		}
		if fmt.Sprintf("%v", v) != fmt.Sprintf("%v", c.expect[k]) {
			return map[string]bool{ConditionResult: false}, nil
		}
	}
	return map[string]bool{ConditionResult: true}, nil
}

// exprOperators lists comparison operators in precedence order; longer
// operators are checked before shorter ones so ">=" is never mistaken for
// ">" followed by a stray "=".
var exprOperators = []string{"!=", "==", ">=", "<=", ">", "<"}

// Expr builds a condition from a single comparison of the shape
// "key <op> literal", e.g. "count < 10" or "status == ready". The operator
// must appear space-bounded. Numeric comparison is attempted first; string
// comparison is the fallback.
func Expr(name, expression string) Condition {
	key, op, literal := parseExpr(expression)
	return &exprCondition{name: name, expression: expression, key: key, op: op, literal: literal}
}

func parseExpr(expression string) (key, op, literal string) {
	for _, candidate := range exprOperators {
		padded := " " + candidate + " "
		before, after, found := strings.Cut(expression, padded)
		if !found {
			continue
		}
		return strings.TrimSpace(before), candidate, strings.Trim(strings.TrimSpace(after), `"'`)
	}
	return "", "", ""
}

type exprCondition struct {
	name       string
	expression string
	key        string
	op         string
	literal    string
}

func (c *exprCondition) Name() string    { return c.name }
func (c *exprCondition) Reads() []string { return []string{c.key} }

func (c *exprCondition) Run(s State) (map[string]bool, error) {
	if c.op == "" {
		return nil, &EvaluationError{Condition: c.name, Reason: fmt.Sprintf("no operator found in expression %q", c.expression), Code: "NO_OPERATOR"}
	}
	v, ok := s.Get(c.key)
	if !ok {
		return nil, &EvaluationError{Condition: c.name, Reason: fmt.Sprintf("state key %q is missing", c.key), Code: "MISSING_STATE_KEY"}
	}
	result, err := compareValue(v, c.op, c.literal)
	if err != nil {
		return nil, &EvaluationError{Condition: c.name, Reason: err.Error(), Code: "COMPARE_FAILED"}
	}
	return map[string]bool{ConditionResult: result}, nil
}

func compareValue(left any, op, right string) (bool, error) {
	leftStr := fmt.Sprintf("%v", left)
	lf, lErr := strconv.ParseFloat(leftStr, 64)
	rf, rErr := strconv.ParseFloat(right, 64)
	if lErr == nil && rErr == nil {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}
	switch op {
	case "==":
		return leftStr == right, nil
	case "!=":
		return leftStr != right, nil
	case ">":
		return leftStr > right, nil
	case "<":
		return leftStr < right, nil
	case ">=":
		return leftStr >= right, nil
	case "<=":
		return leftStr <= right, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}
