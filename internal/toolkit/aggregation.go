// ABOUTME: Aggregation requests and results exchanged with data sources
// ABOUTME: Count is the only operation the authorization engine relies on

package toolkit

import "fmt"

// AggregationOperation is the aggregate function to compute.
type AggregationOperation string

const (
	AggregationCount   AggregationOperation = "Count"
	AggregationSum     AggregationOperation = "Sum"
	AggregationAverage AggregationOperation = "Avg"
	AggregationMax     AggregationOperation = "Max"
	AggregationMin     AggregationOperation = "Min"
)

// AggregationGroup groups results by a field.
type AggregationGroup struct {
	Field string
}

// Aggregation describes an aggregate query. Field is optional for Count,
// in which case rows are counted instead of non-null values.
type Aggregation struct {
	Operation AggregationOperation
	Field     string
	Groups    []AggregationGroup
}

// AggregateResult is one row of an aggregation result.
type AggregateResult struct {
	Value any
	Group map[string]any
}

// Validate checks the aggregation against a collection schema.
func (a Aggregation) Validate(schema CollectionSchema) error {
	switch a.Operation {
	case AggregationCount:
	case AggregationSum, AggregationAverage, AggregationMax, AggregationMin:
		if a.Field == "" {
			return fmt.Errorf("%w: %s requires a field", ErrValidation, a.Operation)
		}
	default:
		return fmt.Errorf("%w: unsupported aggregation %q", ErrValidation, a.Operation)
	}

	if a.Field != "" {
		if _, ok := schema.Fields[a.Field]; !ok {
			return fmt.Errorf("%w: %w %q", ErrValidation, ErrUnknownField, a.Field)
		}
	}
	for _, g := range a.Groups {
		if _, ok := schema.Fields[g.Field]; !ok {
			return fmt.Errorf("%w: %w %q", ErrValidation, ErrUnknownField, g.Field)
		}
	}
	return nil
}

// CountValue reads a count from the first aggregation row, 0 when there is none.
func CountValue(rows []AggregateResult) (int64, error) {
	if len(rows) == 0 || rows[0].Value == nil {
		return 0, nil
	}
	f, ok := ToFloat(rows[0].Value)
	if !ok {
		return 0, fmt.Errorf("count value has unexpected type %T", rows[0].Value)
	}
	return int64(f), nil
}
