// ABOUTME: SQL collection answering aggregations over one table
// ABOUTME: Builds SELECT statements from the resolved filter and the aggregation

package sqlds

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// Collection is one table of the database.
type Collection struct {
	db     *sql.DB
	table  string
	schema toolkit.CollectionSchema
	logger *slog.Logger
}

var _ toolkit.Collection = (*Collection)(nil)

func (c *Collection) Name() string { return c.table }

func (c *Collection) Schema() toolkit.CollectionSchema { return c.schema }

func (c *Collection) Aggregate(ctx context.Context, caller *toolkit.Caller, filter *toolkit.Filter, aggregation toolkit.Aggregation) ([]toolkit.AggregateResult, error) {
	if err := aggregation.Validate(c.schema); err != nil {
		return nil, err
	}
	tree, err := filter.Resolve(c.schema)
	if err != nil {
		return nil, err
	}

	query, args, err := buildAggregate(c.table, tree, aggregation)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("aggregate", "query", query, "args", len(args))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating %s: %w", c.table, err)
	}
	defer rows.Close()

	var results []toolkit.AggregateResult
	for rows.Next() {
		dest := make([]any, 1+len(aggregation.Groups))
		ptrs := make([]any, len(dest))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning aggregate of %s: %w", c.table, err)
		}

		group := make(map[string]any, len(aggregation.Groups))
		for i, g := range aggregation.Groups {
			group[g.Field] = normalize(dest[i+1])
		}
		results = append(results, toolkit.AggregateResult{Value: normalize(dest[0]), Group: group})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading aggregate of %s: %w", c.table, err)
	}
	return results, nil
}

func buildAggregate(table string, tree toolkit.ConditionTree, aggregation toolkit.Aggregation) (string, []any, error) {
	var value string
	switch aggregation.Operation {
	case toolkit.AggregationCount:
		value = "COUNT(*)"
		if aggregation.Field != "" {
			value = "COUNT(" + quoteIdent(aggregation.Field) + ")"
		}
	case toolkit.AggregationSum:
		value = "SUM(" + quoteIdent(aggregation.Field) + ")"
	case toolkit.AggregationAverage:
		value = "AVG(" + quoteIdent(aggregation.Field) + ")"
	case toolkit.AggregationMax:
		value = "MAX(" + quoteIdent(aggregation.Field) + ")"
	case toolkit.AggregationMin:
		value = "MIN(" + quoteIdent(aggregation.Field) + ")"
	default:
		return "", nil, fmt.Errorf("%w: unsupported aggregation %q", toolkit.ErrValidation, aggregation.Operation)
	}

	columns := []string{value + " AS value"}
	groups := make([]string, len(aggregation.Groups))
	for i, g := range aggregation.Groups {
		groups[i] = quoteIdent(g.Field)
		columns = append(columns, groups[i])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(columns, ", "), quoteIdent(table))

	var args []any
	if tree != nil {
		where, whereArgs, err := translate(tree)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" WHERE " + where)
		args = whereArgs
	}
	if len(groups) > 0 {
		fmt.Fprintf(&b, " GROUP BY %s ORDER BY value DESC", strings.Join(groups, ", "))
	}
	return b.String(), args, nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
