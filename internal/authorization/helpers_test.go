// ABOUTME: Test doubles for the authorization service
// ABOUTME: A scripted oracle and a collection that counts rows by inspecting the filter

package authorization

import (
	"context"
	"slices"
	"sync"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// mockOracle returns canned answers and records the approve queries it sees.
type mockOracle struct {
	canTrigger                bool
	requiresApproval          bool
	triggerCondition          RawCondition
	requiresApprovalCondition RawCondition

	canApprove       bool
	approveCondition RawCondition

	approveConditions      []RoleCondition
	unconditionalApprovers []int

	canRequestParameters bool

	err error

	mu             sync.Mutex
	approveQueries []ApproveQuery
	paramQueries   []PermissionQuery
}

func (m *mockOracle) CanTriggerCustomAction(ctx context.Context, q PermissionQuery) (bool, error) {
	return m.canTrigger, m.err
}

func (m *mockOracle) DoesTriggerCustomActionRequireApproval(ctx context.Context, q PermissionQuery) (bool, error) {
	return m.requiresApproval, m.err
}

func (m *mockOracle) GetConditionalTriggerCondition(ctx context.Context, q PermissionQuery) (RawCondition, error) {
	return m.triggerCondition, m.err
}

func (m *mockOracle) GetConditionalRequiresApprovalCondition(ctx context.Context, q PermissionQuery) (RawCondition, error) {
	return m.requiresApprovalCondition, m.err
}

func (m *mockOracle) CanApproveCustomAction(ctx context.Context, q ApproveQuery) (bool, error) {
	m.mu.Lock()
	m.approveQueries = append(m.approveQueries, q)
	m.mu.Unlock()
	return m.canApprove, m.err
}

func (m *mockOracle) GetConditionalApproveCondition(ctx context.Context, q PermissionQuery) (RawCondition, error) {
	return m.approveCondition, m.err
}

func (m *mockOracle) GetConditionalApproveConditions(ctx context.Context, q ActionQuery) ([]RoleCondition, error) {
	return m.approveConditions, m.err
}

func (m *mockOracle) GetRoleIDsAllowedToApproveWithoutConditions(ctx context.Context, q ActionQuery) ([]int, error) {
	return slices.Clone(m.unconditionalApprovers), m.err
}

func (m *mockOracle) CanRequestCustomActionParameters(ctx context.Context, q PermissionQuery) (bool, error) {
	m.mu.Lock()
	m.paramQueries = append(m.paramQueries, q)
	m.mu.Unlock()
	return m.canRequestParameters, m.err
}

// countingCollection answers Count aggregations with a function of the
// filter it receives, so concurrent calls get deterministic answers.
type countingCollection struct {
	count func(filter *toolkit.Filter) ([]toolkit.AggregateResult, error)

	mu      sync.Mutex
	filters []*toolkit.Filter
}

func (c *countingCollection) Name() string { return "actors" }

func (c *countingCollection) Schema() toolkit.CollectionSchema {
	return toolkit.CollectionSchema{Fields: map[string]toolkit.ColumnSchema{
		"id":   {ColumnType: toolkit.ColumnTypeNumber, IsPrimaryKey: true},
		"name": {ColumnType: toolkit.ColumnTypeString},
		"team": {ColumnType: toolkit.ColumnTypeString},
	}}
}

func (c *countingCollection) Aggregate(ctx context.Context, caller *toolkit.Caller, filter *toolkit.Filter, aggregation toolkit.Aggregation) ([]toolkit.AggregateResult, error) {
	c.mu.Lock()
	c.filters = append(c.filters, filter)
	c.mu.Unlock()

	if aggregation.Operation != toolkit.AggregationCount {
		panic("unexpected aggregation " + string(aggregation.Operation))
	}
	return c.count(filter)
}

func (c *countingCollection) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.filters)
}

func rows(n int64) []toolkit.AggregateResult {
	return []toolkit.AggregateResult{{Value: n}}
}

// nameCondition is the raw condition used by most tests. It is the only
// thing that references the "name" field.
func nameCondition() RawCondition {
	return RawCondition{
		"value":    "someName",
		"field":    "name",
		"operator": "Equal",
		"source":   "data",
	}
}

func hasField(filter *toolkit.Filter, field string) bool {
	return slices.Contains(toolkit.Fields(filter.Tree()), field)
}

// isCallerScoped reports whether the filter carries the caller's scope.
func isCallerScoped(filter *toolkit.Filter) bool {
	return hasField(filter, "team")
}

func isConditioned(filter *toolkit.Filter) bool {
	return hasField(filter, "name")
}

// countBy builds a count function from the four possible filter shapes.
func countBy(callerBase, callerConditioned, allBase, allConditioned int64) func(*toolkit.Filter) ([]toolkit.AggregateResult, error) {
	return func(filter *toolkit.Filter) ([]toolkit.AggregateResult, error) {
		switch {
		case isCallerScoped(filter) && isConditioned(filter):
			return rows(callerConditioned), nil
		case isCallerScoped(filter):
			return rows(callerBase), nil
		case isConditioned(filter):
			return rows(allConditioned), nil
		default:
			return rows(allBase), nil
		}
	}
}

func newRequest(collection toolkit.Collection) ActionRequest {
	ids := &toolkit.ConditionTreeLeaf{Field: "id", Operator: toolkit.OperatorIn, Value: []any{1, 2, 3}}
	scope := &toolkit.ConditionTreeLeaf{Field: "team", Operator: toolkit.OperatorEqual, Value: "Operations"}

	return ActionRequest{
		Caller:             &toolkit.Caller{ID: 1, Email: "john.doe@example.com", Team: "Operations"},
		ActionName:         "do-something",
		Collection:         collection,
		FilterForCaller:    &toolkit.Filter{ConditionTree: toolkit.Intersect(ids, scope)},
		FilterForAllCaller: &toolkit.Filter{ConditionTree: ids},
	}
}
