// ABOUTME: Row filters combining a condition tree with search and segment
// ABOUTME: Filters are values; Override returns a copy and never mutates the receiver

package toolkit

import "fmt"

// Filter selects a subset of a collection's rows.
type Filter struct {
	ConditionTree  ConditionTree
	Search         string
	SearchExtended bool
	Segment        string
}

// FilterOverride lists the components replaced by Override. ConditionTree
// is always replaced (a nil tree clears it); Search and Segment only when set.
type FilterOverride struct {
	ConditionTree ConditionTree
	Search        *string
	Segment       *string
}

// Override returns a new filter with the given components replaced.
func (f *Filter) Override(o FilterOverride) *Filter {
	var next Filter
	if f != nil {
		next = *f
	}

	next.ConditionTree = o.ConditionTree
	if o.Search != nil {
		next.Search = *o.Search
	}
	if o.Segment != nil {
		next.Segment = *o.Segment
	}
	return &next
}

// Tree returns the filter's condition tree, nil for a nil filter.
func (f *Filter) Tree() ConditionTree {
	if f == nil {
		return nil
	}
	return f.ConditionTree
}

// Resolve folds search and segment into a single condition tree.
func (f *Filter) Resolve(schema CollectionSchema) (ConditionTree, error) {
	if f == nil {
		return nil, nil
	}

	trees := []ConditionTree{f.ConditionTree}

	if f.Segment != "" {
		segment, ok := schema.Segments[f.Segment]
		if !ok {
			return nil, fmt.Errorf("%w: unknown segment %q", ErrValidation, f.Segment)
		}
		trees = append(trees, segment)
	}

	if f.Search != "" {
		trees = append(trees, searchCondition(schema, f.Search))
	}

	return Intersect(trees...), nil
}

// searchCondition matches rows where any searchable column contains the term.
// A schema without searchable columns matches no row.
func searchCondition(schema CollectionSchema, search string) ConditionTree {
	columns := schema.SearchableColumns()
	leaves := make([]ConditionTree, 0, len(columns))
	for _, col := range columns {
		if !schema.Fields[col].AllowsOperator(OperatorIContains) {
			continue
		}
		leaves = append(leaves, &ConditionTreeLeaf{Field: col, Operator: OperatorIContains, Value: search})
	}
	return Union(leaves...)
}
