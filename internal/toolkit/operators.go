// ABOUTME: Condition operators and their parsing from user-facing spellings
// ABOUTME: Accepts snake_case, lower case and PascalCase operator names

package toolkit

import (
	"fmt"
	"strings"
)

// Operator is the comparison applied by a condition leaf.
type Operator string

const (
	OperatorPresent     Operator = "Present"
	OperatorBlank       Operator = "Blank"
	OperatorMissing     Operator = "Missing"
	OperatorEqual       Operator = "Equal"
	OperatorNotEqual    Operator = "NotEqual"
	OperatorLessThan    Operator = "LessThan"
	OperatorGreaterThan Operator = "GreaterThan"
	OperatorIn          Operator = "In"
	OperatorNotIn       Operator = "NotIn"
	OperatorContains    Operator = "Contains"
	OperatorNotContains Operator = "NotContains"
	OperatorIContains   Operator = "IContains"
	OperatorStartsWith  Operator = "StartsWith"
	OperatorEndsWith    Operator = "EndsWith"
	OperatorLike        Operator = "Like"
)

// AllOperators lists every supported operator.
var AllOperators = []Operator{
	OperatorPresent,
	OperatorBlank,
	OperatorMissing,
	OperatorEqual,
	OperatorNotEqual,
	OperatorLessThan,
	OperatorGreaterThan,
	OperatorIn,
	OperatorNotIn,
	OperatorContains,
	OperatorNotContains,
	OperatorIContains,
	OperatorStartsWith,
	OperatorEndsWith,
	OperatorLike,
}

// OperatorSet is a set of operators.
type OperatorSet map[Operator]struct{}

// NewOperatorSet builds a set from a list of operators.
func NewOperatorSet(ops ...Operator) OperatorSet {
	set := make(OperatorSet, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return set
}

// operatorsByKey indexes operators by their lowercase name without separators.
var operatorsByKey = func() map[string]Operator {
	m := make(map[string]Operator, len(AllOperators))
	for _, op := range AllOperators {
		m[strings.ToLower(string(op))] = op
	}
	return m
}()

// ParseOperator resolves "not_equal", "notEqual" or "NotEqual" to OperatorNotEqual.
func ParseOperator(s string) (Operator, error) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	op, ok := operatorsByKey[key]
	if !ok {
		return "", fmt.Errorf("%w: unsupported operator %q", ErrValidation, s)
	}
	return op, nil
}

// takesNoValue reports whether the operator ignores the leaf value.
func (op Operator) takesNoValue() bool {
	switch op {
	case OperatorPresent, OperatorBlank, OperatorMissing:
		return true
	default:
		return false
	}
}

// takesList reports whether the operator compares against a list of values.
func (op Operator) takesList() bool {
	return op == OperatorIn || op == OperatorNotIn
}
