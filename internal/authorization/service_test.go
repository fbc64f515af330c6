// ABOUTME: Tests for the custom action authorization service
// ABOUTME: Checks denial kinds, approver lists and the exact number of count aggregations

package authorization

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

func unexpectedCount(t *testing.T) func(*toolkit.Filter) ([]toolkit.AggregateResult, error) {
	return func(*toolkit.Filter) ([]toolkit.AggregateResult, error) {
		t.Error("aggregate should not be called")
		return nil, nil
	}
}

func TestAssertCanTrigger_NoConditions(t *testing.T) {
	oracle := &mockOracle{canTrigger: true}
	collection := &countingCollection{count: unexpectedCount(t)}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	require.NoError(t, err)
	assert.Equal(t, 0, collection.calls())
}

func TestAssertCanTrigger_BasePermissionShortCircuits(t *testing.T) {
	oracle := &mockOracle{
		canTrigger:       false,
		triggerCondition: nameCondition(),
		requiresApproval: true,
	}
	collection := &countingCollection{count: unexpectedCount(t)}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	assert.ErrorIs(t, err, ErrCustomActionTriggerForbidden)
	assert.Equal(t, "You don't have permission to trigger this action.", err.Error())
	assert.Equal(t, 0, collection.calls())
}

func TestAssertCanTrigger_ConditionCoversAllRows(t *testing.T) {
	oracle := &mockOracle{canTrigger: true, triggerCondition: nameCondition()}
	collection := &countingCollection{count: func(*toolkit.Filter) ([]toolkit.AggregateResult, error) {
		return rows(16), nil
	}}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	require.NoError(t, err)
	assert.Equal(t, 2, collection.calls())
}

func TestAssertCanTrigger_ConditionMissesSomeRows(t *testing.T) {
	oracle := &mockOracle{canTrigger: true, triggerCondition: nameCondition()}
	collection := &countingCollection{count: countBy(16, 2, 0, 0)}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	assert.ErrorIs(t, err, ErrCustomActionTriggerForbidden)
	assert.Equal(t, 2, collection.calls())
}

func TestAssertCanTrigger_ConditionUsesCallerScope(t *testing.T) {
	oracle := &mockOracle{canTrigger: true, triggerCondition: nameCondition()}
	collection := &countingCollection{count: countBy(16, 16, 40, 2)}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	require.NoError(t, err)
	for _, f := range collection.filters {
		assert.True(t, isCallerScoped(f), "trigger counts must use the caller filter")
	}
}

func TestAssertCanTrigger_ConditionedCountAboveBaseIsDenied(t *testing.T) {
	// The condition only narrows the request filter, so a larger
	// conditioned count means the data source broke that assumption.
	oracle := &mockOracle{canTrigger: true, triggerCondition: nameCondition()}
	collection := &countingCollection{count: countBy(2, 3, 0, 0)}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	assert.ErrorIs(t, err, ErrCustomActionTriggerForbidden)
}

func TestAssertCanTrigger_RequiresApprovalWithoutCondition(t *testing.T) {
	oracle := &mockOracle{
		canTrigger:             true,
		requiresApproval:       true,
		unconditionalApprovers: []int{1, 16},
	}
	collection := &countingCollection{count: unexpectedCount(t)}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	require.ErrorIs(t, err, ErrCustomActionRequiresApproval)
	assert.Equal(t, "This action requires to be approved.", err.Error())

	var fe *toolkit.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "CustomActionRequiresApprovalError", fe.Name)
	assert.Equal(t, map[string]any{"roleIdsAllowedToApprove": []int{1, 16}}, fe.Data)
	assert.Equal(t, 0, collection.calls())
}

func TestAssertCanTrigger_RequiresApprovalConditionMatchesNoRow(t *testing.T) {
	oracle := &mockOracle{
		canTrigger:                true,
		requiresApproval:          true,
		requiresApprovalCondition: nameCondition(),
		approveConditions:         []RoleCondition{{RoleID: 10, Condition: nameCondition()}},
		unconditionalApprovers:    []int{1, 16},
	}
	collection := &countingCollection{count: func(*toolkit.Filter) ([]toolkit.AggregateResult, error) {
		return rows(0), nil
	}}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	require.NoError(t, err)
	assert.Equal(t, 1, collection.calls())
}

func TestAssertCanTrigger_RequiresApprovalConditionMatchesSomeRows(t *testing.T) {
	oracle := &mockOracle{
		canTrigger:                true,
		requiresApproval:          true,
		requiresApprovalCondition: nameCondition(),
		unconditionalApprovers:    []int{1, 16},
	}
	collection := &countingCollection{count: func(*toolkit.Filter) ([]toolkit.AggregateResult, error) {
		return rows(3), nil
	}}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	require.ErrorIs(t, err, ErrCustomActionRequiresApproval)
	ids, ok := RoleIDsAllowedToApprove(err)
	require.True(t, ok)
	assert.Equal(t, []int{1, 16}, ids)
	assert.Equal(t, 1, collection.calls())
}

func TestAssertCanTrigger_InvalidCondition(t *testing.T) {
	oracle := &mockOracle{
		canTrigger:       true,
		requiresApproval: true,
		requiresApprovalCondition: RawCondition{
			"value":    "invalidField",
			"field":    "invalid",
			"operator": "equal",
			"source":   "data",
		},
	}
	collection := &countingCollection{count: unexpectedCount(t)}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	assert.ErrorIs(t, err, ErrInvalidActionCondition)
	assert.Equal(t, 0, collection.calls())
}

func TestAssertCanTrigger_AggregateFailureIsHidden(t *testing.T) {
	driverErr := errors.New("Some internal driver error")
	oracle := &mockOracle{canTrigger: true, triggerCondition: nameCondition()}
	collection := &countingCollection{count: func(f *toolkit.Filter) ([]toolkit.AggregateResult, error) {
		if isConditioned(f) {
			return nil, driverErr
		}
		return rows(3), nil
	}}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	assert.ErrorIs(t, err, ErrInvalidActionCondition)
	assert.NotErrorIs(t, err, driverErr)
	assert.NotContains(t, err.Error(), "driver")
	assert.Equal(t, 2, collection.calls(), "both counts are issued before the failure is reported")
}

func TestAssertCanTrigger_NonNumericCountIsInvalid(t *testing.T) {
	oracle := &mockOracle{canTrigger: true, triggerCondition: nameCondition()}
	collection := &countingCollection{count: func(*toolkit.Filter) ([]toolkit.AggregateResult, error) {
		return []toolkit.AggregateResult{{Value: "many"}}, nil
	}}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	assert.ErrorIs(t, err, ErrInvalidActionCondition)
}

func TestAssertCanTrigger_OracleFailurePropagates(t *testing.T) {
	oracleErr := errors.New("permission backend unavailable")
	oracle := &mockOracle{err: oracleErr}
	collection := &countingCollection{count: unexpectedCount(t)}
	svc := NewService(oracle, nil)

	err := svc.AssertCanTriggerCustomAction(context.Background(), newRequest(collection))

	assert.ErrorIs(t, err, oracleErr)
	var fe *toolkit.ForbiddenError
	assert.False(t, errors.As(err, &fe))
}

func TestAssertCanApprove_NoConditions(t *testing.T) {
	oracle := &mockOracle{canApprove: true, unconditionalApprovers: []int{1, 16}}
	collection := &countingCollection{count: unexpectedCount(t)}
	svc := NewService(oracle, nil)

	err := svc.AssertCanApproveCustomAction(context.Background(), newRequest(collection), "30")

	require.NoError(t, err)
	assert.Equal(t, 0, collection.calls())
	require.Len(t, oracle.approveQueries, 1)
	assert.Equal(t, ApproveQuery{
		PermissionQuery: PermissionQuery{UserID: 1, ActionName: "do-something", CollectionName: "actors"},
		RequesterID:     "30",
	}, oracle.approveQueries[0])
}

func TestAssertCanApprove_Denied(t *testing.T) {
	oracle := &mockOracle{canApprove: false, unconditionalApprovers: []int{1, 16}}
	collection := &countingCollection{count: unexpectedCount(t)}
	svc := NewService(oracle, nil)

	err := svc.AssertCanApproveCustomAction(context.Background(), newRequest(collection), "30")

	require.ErrorIs(t, err, ErrApprovalNotAllowed)
	assert.Equal(t, "You don't have permission to approve this action.", err.Error())
	ids, ok := RoleIDsAllowedToApprove(err)
	require.True(t, ok)
	assert.Equal(t, []int{1, 16}, ids)
}

func TestAssertCanApprove_DeniedWithNoApprovers(t *testing.T) {
	oracle := &mockOracle{canApprove: false}
	collection := &countingCollection{count: unexpectedCount(t)}
	svc := NewService(oracle, nil)

	err := svc.AssertCanApproveCustomAction(context.Background(), newRequest(collection), "30")

	ids, ok := RoleIDsAllowedToApprove(err)
	require.True(t, ok)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func sharedApproveConditions() []RoleCondition {
	return []RoleCondition{
		{RoleID: 10, Condition: RawCondition{"value": "some", "field": "name", "operator": "Equal", "source": "data"}},
		{RoleID: 20, Condition: RawCondition{"value": "some", "field": "name", "operator": "Equal", "source": "data"}},
	}
}

func TestAssertCanApprove_ConditionSatisfied(t *testing.T) {
	oracle := &mockOracle{
		canApprove:             true,
		approveCondition:       nameCondition(),
		approveConditions:      sharedApproveConditions(),
		unconditionalApprovers: []int{1, 16},
	}
	collection := &countingCollection{count: func(*toolkit.Filter) ([]toolkit.AggregateResult, error) {
		return rows(3), nil
	}}
	svc := NewService(oracle, nil)

	err := svc.AssertCanApproveCustomAction(context.Background(), newRequest(collection), "30")

	require.NoError(t, err)
	assert.Equal(t, 2, collection.calls())
}

func TestAssertCanApprove_ConditionMismatch(t *testing.T) {
	oracle := &mockOracle{
		canApprove:             true,
		approveCondition:       nameCondition(),
		approveConditions:      sharedApproveConditions(),
		unconditionalApprovers: []int{1, 16},
	}
	// Only the caller's unconditioned count has rows; every other count
	// comes back empty.
	collection := &countingCollection{count: func(f *toolkit.Filter) ([]toolkit.AggregateResult, error) {
		if isCallerScoped(f) && !isConditioned(f) {
			return rows(3), nil
		}
		return nil, nil
	}}
	svc := NewService(oracle, nil)

	err := svc.AssertCanApproveCustomAction(context.Background(), newRequest(collection), "30")

	require.ErrorIs(t, err, ErrApprovalNotAllowed)
	var fe *toolkit.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "ApprovalNotAllowedError", fe.Name)
	assert.Equal(t, []int{1, 16, 10, 20}, fe.Data["roleIdsAllowedToApprove"])

	// Two counts for the approve condition, then one baseline and one for
	// the condition shared by roles 10 and 20.
	assert.Equal(t, 4, collection.calls())

	scoped := 0
	for _, f := range collection.filters {
		if isCallerScoped(f) {
			scoped++
		}
	}
	assert.Equal(t, 2, scoped, "approver listing must not use the caller scope")
}

func TestAssertCanRequestParameters(t *testing.T) {
	oracle := &mockOracle{canRequestParameters: true}
	svc := NewService(oracle, nil)

	err := svc.AssertCanRequestCustomActionParameters(context.Background(), 1, "custom-action", "books")

	require.NoError(t, err)
	assert.Equal(t, []PermissionQuery{{UserID: 1, ActionName: "custom-action", CollectionName: "books"}}, oracle.paramQueries)
}

func TestAssertCanRequestParameters_Forbidden(t *testing.T) {
	oracle := &mockOracle{canRequestParameters: false}
	svc := NewService(oracle, nil)

	err := svc.AssertCanRequestCustomActionParameters(context.Background(), 1, "custom-action", "books")

	assert.ErrorIs(t, err, toolkit.ErrForbidden)
	assert.Equal(t, "Forbidden", err.Error())
	_, ok := RoleIDsAllowedToApprove(err)
	assert.False(t, ok)
}
