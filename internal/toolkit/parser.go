// ABOUTME: Parses untyped plain-object conditions into schema-validated condition trees
// ABOUTME: Rejects unknown fields and operators a column does not allow

package toolkit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseConditionTree turns a plain object (as decoded from JSON) into a
// ConditionTree validated against schema. A nil input yields a nil tree.
//
// Branches look like {"aggregator": "and", "conditions": [...]}, leaves like
// {"field": "name", "operator": "equal", "value": "x"}. Any other key (such
// as "source") is ignored.
func ParseConditionTree(schema CollectionSchema, raw any) (ConditionTree, error) {
	if raw == nil {
		return nil, nil
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: condition must be an object, got %T", ErrValidation, raw)
	}

	if _, ok := obj["aggregator"]; ok {
		return parseBranch(schema, obj)
	}
	if _, ok := obj["operator"]; ok {
		return parseLeaf(schema, obj)
	}

	return nil, fmt.Errorf("%w: condition has neither aggregator nor operator", ErrValidation)
}

func parseBranch(schema CollectionSchema, obj map[string]any) (ConditionTree, error) {
	name, _ := obj["aggregator"].(string)

	var aggregator Aggregator
	switch strings.ToLower(name) {
	case "and":
		aggregator = AggregatorAnd
	case "or":
		aggregator = AggregatorOr
	default:
		return nil, fmt.Errorf("%w: unsupported aggregator %q", ErrValidation, name)
	}

	rawConditions, ok := obj["conditions"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: branch conditions must be a list", ErrValidation)
	}

	conditions := make([]ConditionTree, 0, len(rawConditions))
	for i, rc := range rawConditions {
		c, err := ParseConditionTree(schema, rc)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		if c != nil {
			conditions = append(conditions, c)
		}
	}

	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return &ConditionTreeBranch{Aggregator: aggregator, Conditions: conditions}, nil
}

func parseLeaf(schema CollectionSchema, obj map[string]any) (ConditionTree, error) {
	field, _ := obj["field"].(string)
	if field == "" {
		return nil, fmt.Errorf("%w: condition field is required", ErrValidation)
	}

	opName, _ := obj["operator"].(string)
	op, err := ParseOperator(opName)
	if err != nil {
		return nil, err
	}

	column, ok := schema.Fields[field]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrValidation, ErrUnknownField, field)
	}
	if !column.AllowsOperator(op) {
		return nil, fmt.Errorf("%w: operator %s is not allowed on field %q", ErrValidation, op, field)
	}

	value, err := parseLeafValue(column, op, obj["value"])
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}

	return &ConditionTreeLeaf{Field: field, Operator: op, Value: value}, nil
}

func parseLeafValue(column ColumnSchema, op Operator, raw any) (any, error) {
	if op.takesNoValue() {
		return nil, nil
	}

	if op.takesList() {
		var items []any
		switch v := raw.(type) {
		case nil:
			items = []any{}
		case []any:
			items = v
		case string:
			for _, part := range strings.Split(v, ",") {
				items = append(items, strings.TrimSpace(part))
			}
		default:
			items = []any{v}
		}

		out := make([]any, len(items))
		for i, item := range items {
			cast, err := castValue(column.ColumnType, item)
			if err != nil {
				return nil, err
			}
			out[i] = cast
		}
		return out, nil
	}

	return castValue(column.ColumnType, raw)
}

// castValue converts string or json.Number values to the column's type.
// Values already of a matching Go type are returned unchanged.
func castValue(columnType ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch columnType {
	case ColumnTypeNumber:
		switch n := v.(type) {
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", ErrValidation, n)
			}
			return f, nil
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return i, nil
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", ErrValidation, n)
			}
			return f, nil
		}
	case ColumnTypeBoolean:
		if s, ok := v.(string); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a boolean", ErrValidation, s)
			}
			return b, nil
		}
	}

	if n, ok := v.(json.Number); ok {
		return n.String(), nil
	}
	return v, nil
}
