// ABOUTME: Condition tree model with leaves, And/Or branches and composition helpers
// ABOUTME: Trees are immutable once built; Intersect and Union always return new trees

package toolkit

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Record is a single row as seen by in-memory evaluation.
type Record map[string]any

// Aggregator combines the children of a branch.
type Aggregator string

const (
	AggregatorAnd Aggregator = "And"
	AggregatorOr  Aggregator = "Or"
)

// ConditionTree is a boolean expression over the fields of a collection.
type ConditionTree interface {
	// Match reports whether the record satisfies the tree.
	Match(record Record) bool

	// ForEachLeaf calls fn on every leaf, depth first.
	ForEachLeaf(fn func(leaf *ConditionTreeLeaf))

	// ToPlainObject returns the untyped form accepted by ParseConditionTree.
	ToPlainObject() map[string]any
}

// ConditionTreeLeaf compares one field with a value.
type ConditionTreeLeaf struct {
	Field    string
	Operator Operator
	Value    any
}

// ConditionTreeBranch combines child trees.
type ConditionTreeBranch struct {
	Aggregator Aggregator
	Conditions []ConditionTree
}

// Intersect returns the conjunction of the given trees. Nil trees are
// skipped and nested And branches are flattened. It returns nil when no tree
// remains, which selects every row.
func Intersect(trees ...ConditionTree) ConditionTree {
	return group(AggregatorAnd, trees)
}

// Union returns the disjunction of the given trees. An empty union selects
// no row.
func Union(trees ...ConditionTree) ConditionTree {
	result := group(AggregatorOr, trees)
	if result == nil {
		return &ConditionTreeBranch{Aggregator: AggregatorOr}
	}
	return result
}

func group(aggregator Aggregator, trees []ConditionTree) ConditionTree {
	conditions := make([]ConditionTree, 0, len(trees))
	for _, tree := range trees {
		if isNilTree(tree) {
			continue
		}
		if branch, ok := tree.(*ConditionTreeBranch); ok && branch.Aggregator == aggregator {
			conditions = append(conditions, branch.Conditions...)
			continue
		}
		conditions = append(conditions, tree)
	}

	switch len(conditions) {
	case 0:
		return nil
	case 1:
		return conditions[0]
	default:
		return &ConditionTreeBranch{Aggregator: aggregator, Conditions: conditions}
	}
}

func isNilTree(tree ConditionTree) bool {
	switch t := tree.(type) {
	case nil:
		return true
	case *ConditionTreeLeaf:
		return t == nil
	case *ConditionTreeBranch:
		return t == nil
	default:
		return false
	}
}

// Fields returns the distinct fields referenced by the tree.
func Fields(tree ConditionTree) []string {
	if isNilTree(tree) {
		return nil
	}
	seen := map[string]bool{}
	var fields []string
	tree.ForEachLeaf(func(leaf *ConditionTreeLeaf) {
		if !seen[leaf.Field] {
			seen[leaf.Field] = true
			fields = append(fields, leaf.Field)
		}
	})
	return fields
}

// MatchTree is Match with a nil tree matching every record.
func MatchTree(tree ConditionTree, record Record) bool {
	if isNilTree(tree) {
		return true
	}
	return tree.Match(record)
}

func (b *ConditionTreeBranch) Match(record Record) bool {
	if b.Aggregator == AggregatorOr {
		for _, c := range b.Conditions {
			if c.Match(record) {
				return true
			}
		}
		return false
	}

	for _, c := range b.Conditions {
		if !c.Match(record) {
			return false
		}
	}
	return true
}

func (b *ConditionTreeBranch) ForEachLeaf(fn func(leaf *ConditionTreeLeaf)) {
	for _, c := range b.Conditions {
		c.ForEachLeaf(fn)
	}
}

func (b *ConditionTreeBranch) ToPlainObject() map[string]any {
	conditions := make([]any, len(b.Conditions))
	for i, c := range b.Conditions {
		conditions[i] = c.ToPlainObject()
	}
	return map[string]any{
		"aggregator": string(b.Aggregator),
		"conditions": conditions,
	}
}

func (l *ConditionTreeLeaf) ForEachLeaf(fn func(leaf *ConditionTreeLeaf)) {
	fn(l)
}

func (l *ConditionTreeLeaf) ToPlainObject() map[string]any {
	return map[string]any{
		"field":    l.Field,
		"operator": string(l.Operator),
		"value":    l.Value,
	}
}

func (l *ConditionTreeLeaf) Match(record Record) bool {
	actual := record[l.Field]

	switch l.Operator {
	case OperatorPresent:
		return !isBlank(actual)
	case OperatorBlank:
		return isBlank(actual)
	case OperatorMissing:
		return actual == nil
	case OperatorEqual:
		return valuesEqual(actual, l.Value)
	case OperatorNotEqual:
		return !valuesEqual(actual, l.Value)
	case OperatorLessThan:
		c, ok := compareValues(actual, l.Value)
		return ok && c < 0
	case OperatorGreaterThan:
		c, ok := compareValues(actual, l.Value)
		return ok && c > 0
	case OperatorIn:
		return containsValue(l.Value, actual)
	case OperatorNotIn:
		return !containsValue(l.Value, actual)
	case OperatorContains:
		return strings.Contains(toString(actual), toString(l.Value))
	case OperatorNotContains:
		return !strings.Contains(toString(actual), toString(l.Value))
	case OperatorIContains:
		return strings.Contains(strings.ToLower(toString(actual)), strings.ToLower(toString(l.Value)))
	case OperatorStartsWith:
		return strings.HasPrefix(toString(actual), toString(l.Value))
	case OperatorEndsWith:
		return strings.HasSuffix(toString(actual), toString(l.Value))
	case OperatorLike:
		return likeMatch(toString(l.Value), toString(actual))
	default:
		return false
	}
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := ToFloat(a); ok {
		if fb, ok := ToFloat(b); ok {
			return fa == fb
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := toTime(b); ok {
			return ta.Equal(tb)
		}
	}
	return toString(a) == toString(b)
}

// compareValues orders numbers, times and strings. The boolean is false when
// the values cannot be ordered.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	if ta, ok := toTime(a); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	return strings.Compare(toString(a), toString(b)), true
}

func containsValue(list any, v any) bool {
	items, ok := list.([]any)
	if !ok {
		return valuesEqual(list, v)
	}
	for _, item := range items {
		if valuesEqual(item, v) {
			return true
		}
	}
	return false
}

// ToFloat converts any Go numeric value (and json.Number) to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// likeMatch evaluates a SQL LIKE pattern where % matches any run and _ one character.
func likeMatch(pattern, s string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile("(?s)" + b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
