// Package toolkit holds the data-source vocabulary shared by the agent and its
// data sources: callers, collection schemas, condition trees, filters,
// aggregations and the forbidden/validation error kinds.
//
// # Condition Trees
//
// A ConditionTree is a boolean expression over a collection's fields. Leaves
// compare one field with an operator and a value; branches combine children
// with And or Or:
//
//	tree := toolkit.Intersect(
//	    &toolkit.ConditionTreeLeaf{Field: "status", Operator: toolkit.OperatorEqual, Value: "active"},
//	    scope,
//	)
//
// Trees coming from the permission store are untyped plain objects. They are
// turned into validated trees with ParseConditionTree, which fails when a
// field is not part of the collection schema:
//
//	{"field": "name", "operator": "equal", "value": "someName", "source": "data"}
//	{"aggregator": "and", "conditions": [ ... ]}
//
// # Filters
//
// A Filter selects rows of a collection: a condition tree plus an optional
// full-text search and segment. Filters are values; Override returns a new
// filter and never mutates the receiver. Resolve folds search and segment
// into a single tree so data sources only have to translate trees.
//
// # Collections
//
// Collection is the boundary with data sources. The agent only relies on
// Aggregate, which answers aggregation queries (Count, Sum, ...) for a filter
// on behalf of a caller.
package toolkit
