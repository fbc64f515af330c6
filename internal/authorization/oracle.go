// ABOUTME: Permission oracle contract consumed by the authorization service
// ABOUTME: Answers coarse yes/no questions and hands out raw row-level conditions

package authorization

import "context"

// RawCondition is an unparsed condition tree as stored by the permission
// backend. A nil RawCondition means "no condition".
type RawCondition = map[string]any

// RoleCondition attaches a conditional approval rule to a role.
type RoleCondition struct {
	RoleID    int
	Condition RawCondition
}

// PermissionQuery identifies a user's permission on one action of one collection.
type PermissionQuery struct {
	UserID         int
	ActionName     string
	CollectionName string
}

// ApproveQuery is a PermissionQuery for approving a request made by RequesterID.
// Requester ids and role ids are unrelated identifier spaces.
type ApproveQuery struct {
	PermissionQuery
	RequesterID string
}

// ActionQuery identifies an action independently of any user.
type ActionQuery struct {
	ActionName     string
	CollectionName string
}

// Oracle answers permission questions for custom actions.
type Oracle interface {
	CanTriggerCustomAction(ctx context.Context, q PermissionQuery) (bool, error)
	DoesTriggerCustomActionRequireApproval(ctx context.Context, q PermissionQuery) (bool, error)
	GetConditionalTriggerCondition(ctx context.Context, q PermissionQuery) (RawCondition, error)
	GetConditionalRequiresApprovalCondition(ctx context.Context, q PermissionQuery) (RawCondition, error)

	CanApproveCustomAction(ctx context.Context, q ApproveQuery) (bool, error)
	GetConditionalApproveCondition(ctx context.Context, q PermissionQuery) (RawCondition, error)

	// GetConditionalApproveConditions lists the roles whose approval right
	// depends on a condition, in a stable order.
	GetConditionalApproveConditions(ctx context.Context, q ActionQuery) ([]RoleCondition, error)
	// GetRoleIDsAllowedToApproveWithoutConditions lists the roles that may
	// approve regardless of the rows involved.
	GetRoleIDsAllowedToApproveWithoutConditions(ctx context.Context, q ActionQuery) ([]int, error)

	CanRequestCustomActionParameters(ctx context.Context, q PermissionQuery) (bool, error)
}
