// ABOUTME: Translation of condition trees into SQLite WHERE clauses
// ABOUTME: Values are always bound as arguments; identifiers are double-quoted

package sqlds

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// translate returns a WHERE expression and its arguments. Negative operators
// also select NULL values, as the in-memory evaluator does.
func translate(tree toolkit.ConditionTree) (string, []any, error) {
	switch t := tree.(type) {
	case *toolkit.ConditionTreeBranch:
		return translateBranch(t)
	case *toolkit.ConditionTreeLeaf:
		return translateLeaf(t)
	default:
		return "", nil, fmt.Errorf("%w: unsupported condition tree %T", toolkit.ErrValidation, tree)
	}
}

func translateBranch(b *toolkit.ConditionTreeBranch) (string, []any, error) {
	if len(b.Conditions) == 0 {
		if b.Aggregator == toolkit.AggregatorOr {
			return "0", nil, nil
		}
		return "1", nil, nil
	}

	sep := " AND "
	if b.Aggregator == toolkit.AggregatorOr {
		sep = " OR "
	}

	parts := make([]string, 0, len(b.Conditions))
	var args []any
	for _, c := range b.Conditions {
		sql, a, err := translate(c)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		args = append(args, a...)
	}
	return "(" + strings.Join(parts, sep) + ")", args, nil
}

func translateLeaf(l *toolkit.ConditionTreeLeaf) (string, []any, error) {
	col := quoteIdent(l.Field)
	value := bindValue(l.Value)

	switch l.Operator {
	case toolkit.OperatorPresent:
		return fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", col, col), nil, nil
	case toolkit.OperatorBlank:
		return fmt.Sprintf("(%s IS NULL OR %s = '')", col, col), nil, nil
	case toolkit.OperatorMissing:
		return col + " IS NULL", nil, nil
	case toolkit.OperatorEqual:
		if value == nil {
			return col + " IS NULL", nil, nil
		}
		return col + " = ?", []any{value}, nil
	case toolkit.OperatorNotEqual:
		if value == nil {
			return col + " IS NOT NULL", nil, nil
		}
		return fmt.Sprintf("(%s <> ? OR %s IS NULL)", col, col), []any{value}, nil
	case toolkit.OperatorLessThan:
		return col + " < ?", []any{value}, nil
	case toolkit.OperatorGreaterThan:
		return col + " > ?", []any{value}, nil
	case toolkit.OperatorIn:
		return translateIn(col, l.Value, false)
	case toolkit.OperatorNotIn:
		return translateIn(col, l.Value, true)
	case toolkit.OperatorContains:
		return fmt.Sprintf("instr(%s, ?) > 0", col), []any{toString(value)}, nil
	case toolkit.OperatorNotContains:
		return fmt.Sprintf("(instr(%s, ?) = 0 OR %s IS NULL)", col, col), []any{toString(value)}, nil
	case toolkit.OperatorIContains:
		pattern := "%" + escapeLike(strings.ToLower(toString(value))) + "%"
		return fmt.Sprintf(`LOWER(%s) LIKE ? ESCAPE '\'`, col), []any{pattern}, nil
	case toolkit.OperatorStartsWith:
		return fmt.Sprintf("instr(%s, ?) = 1", col), []any{toString(value)}, nil
	case toolkit.OperatorEndsWith:
		s := toString(value)
		if s == "" {
			return col + " IS NOT NULL", nil, nil
		}
		return fmt.Sprintf("substr(%s, -length(?)) = ?", col), []any{s, s}, nil
	case toolkit.OperatorLike:
		return col + " LIKE ?", []any{toString(value)}, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported operator %q", toolkit.ErrValidation, l.Operator)
	}
}

func translateIn(col string, raw any, negate bool) (string, []any, error) {
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}

	var (
		args        []any
		placeholder []string
		hasNull     bool
	)
	for _, item := range items {
		if item == nil {
			hasNull = true
			continue
		}
		args = append(args, bindValue(item))
		placeholder = append(placeholder, "?")
	}

	if !negate {
		var parts []string
		if len(args) > 0 {
			parts = append(parts, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholder, ", ")))
		}
		if hasNull {
			parts = append(parts, col+" IS NULL")
		}
		if len(parts) == 0 {
			return "0", nil, nil
		}
		return "(" + strings.Join(parts, " OR ") + ")", args, nil
	}

	if len(args) == 0 {
		if hasNull {
			return col + " IS NOT NULL", nil, nil
		}
		return "1", nil, nil
	}
	notIn := fmt.Sprintf("%s NOT IN (%s)", col, strings.Join(placeholder, ", "))
	if hasNull {
		return notIn, args, nil
	}
	return fmt.Sprintf("(%s OR %s IS NULL)", notIn, col), args, nil
}

func bindValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return v
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

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
