// ABOUTME: Builds the record selection and caller filters of an action request
// ABOUTME: Converts ids, all-records flags and the caller scope into condition trees

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// compositeIDSeparator joins the values of a composite primary key, listed
// in the order of CollectionSchema.PrimaryKeys.
const compositeIDSeparator = "|"

// actionAttributes is data.attributes of an action request.
type actionAttributes struct {
	IDs                   []any          `json:"ids"`
	AllRecords            bool           `json:"all_records"`
	AllRecordsIDsExcluded []any          `json:"all_records_ids_excluded"`
	Values                map[string]any `json:"values"`
	RequesterID           any            `json:"requester_id"`
}

type actionBody struct {
	Data struct {
		Attributes actionAttributes `json:"attributes"`
	} `json:"data"`
}

// requesterID returns the requester as a string, empty when absent.
func (a actionAttributes) requesterID() string {
	switch v := a.RequesterID.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// selectionTree returns the records targeted by the request: the listed ids,
// or every record but the excluded ids when all_records is set.
func selectionTree(schema toolkit.CollectionSchema, attrs actionAttributes) (toolkit.ConditionTree, error) {
	pks := schema.PrimaryKeys()
	if len(pks) == 0 {
		return nil, fmt.Errorf("%w: collection has no primary key", toolkit.ErrValidation)
	}

	if attrs.AllRecords {
		if len(attrs.AllRecordsIDsExcluded) == 0 {
			return nil, nil
		}
		return idsTree(schema, pks, attrs.AllRecordsIDsExcluded, true)
	}
	return idsTree(schema, pks, attrs.IDs, false)
}

func idsTree(schema toolkit.CollectionSchema, pks []string, ids []any, exclude bool) (toolkit.ConditionTree, error) {
	if len(pks) == 1 {
		op := "In"
		if exclude {
			op = "NotIn"
		}
		values := ids
		if values == nil {
			values = []any{}
		}
		return toolkit.ParseConditionTree(schema, map[string]any{"field": pks[0], "operator": op, "value": values})
	}

	trees := make([]toolkit.ConditionTree, 0, len(ids))
	for _, id := range ids {
		parts := strings.Split(fmt.Sprint(id), compositeIDSeparator)
		if len(parts) != len(pks) {
			return nil, fmt.Errorf("%w: id %v does not match the %d primary keys", toolkit.ErrValidation, id, len(pks))
		}

		aggregator, op := "And", "Equal"
		if exclude {
			aggregator, op = "Or", "NotEqual"
		}
		conditions := make([]any, len(pks))
		for i, pk := range pks {
			conditions[i] = map[string]any{"field": pk, "operator": op, "value": parts[i]}
		}
		tree, err := toolkit.ParseConditionTree(schema, map[string]any{"aggregator": aggregator, "conditions": conditions})
		if err != nil {
			return nil, err
		}
		trees = append(trees, tree)
	}

	if exclude {
		return toolkit.Intersect(trees...), nil
	}
	return toolkit.Union(trees...), nil
}

// callerFilters returns the filter restricted by the caller's scope and the
// filter every caller would see.
func (a *Agent) callerFilters(ctx context.Context, caller *toolkit.Caller, collection toolkit.Collection, attrs actionAttributes) (forCaller, forAllCaller *toolkit.Filter, err error) {
	schema := collection.Schema()
	selection, err := selectionTree(schema, attrs)
	if err != nil {
		return nil, nil, err
	}

	var scope toolkit.ConditionTree
	if a.scopes != nil {
		raw, err := a.scopes.ScopeCondition(ctx, caller, collection.Name())
		if err != nil {
			return nil, nil, fmt.Errorf("loading scope: %w", err)
		}
		if raw != nil {
			scope, err = toolkit.ParseConditionTree(schema, raw)
			if err != nil {
				// A broken scope is a server misconfiguration, not a client error.
				return nil, nil, fmt.Errorf("parsing scope of %s: %v", collection.Name(), err)
			}
		}
	}

	forAllCaller = &toolkit.Filter{ConditionTree: selection}
	forCaller = &toolkit.Filter{ConditionTree: toolkit.Intersect(selection, scope)}
	return forCaller, forAllCaller, nil
}
