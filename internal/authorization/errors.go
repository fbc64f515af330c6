// ABOUTME: Denial errors returned by the authorization service
// ABOUTME: All are toolkit.ForbiddenError kinds; approval errors carry the approver role ids

package authorization

import (
	"errors"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// DataKeyRoleIDsAllowedToApprove is the payload key holding approver role ids.
const DataKeyRoleIDsAllowedToApprove = "roleIdsAllowedToApprove"

var (
	ErrCustomActionTriggerForbidden = &toolkit.ForbiddenError{
		Name:    "CustomActionTriggerForbiddenError",
		Message: "You don't have permission to trigger this action.",
	}

	ErrCustomActionRequiresApproval = &toolkit.ForbiddenError{
		Name:    "CustomActionRequiresApprovalError",
		Message: "This action requires to be approved.",
	}

	ErrApprovalNotAllowed = &toolkit.ForbiddenError{
		Name:    "ApprovalNotAllowedError",
		Message: "You don't have permission to approve this action.",
	}

	// ErrInvalidActionCondition hides the cause so query internals never
	// reach the client.
	ErrInvalidActionCondition = &toolkit.ForbiddenError{
		Name:    "InvalidActionConditionError",
		Message: "The conditions to trigger this action cannot be verified. Please contact an administrator.",
	}
)

func withApprovers(kind *toolkit.ForbiddenError, roleIDs []int) *toolkit.ForbiddenError {
	if roleIDs == nil {
		roleIDs = []int{}
	}
	return kind.WithData(map[string]any{DataKeyRoleIDsAllowedToApprove: roleIDs})
}

// RoleIDsAllowedToApprove extracts the approver role ids carried by err.
func RoleIDsAllowedToApprove(err error) ([]int, bool) {
	var fe *toolkit.ForbiddenError
	if !errors.As(err, &fe) {
		return nil, false
	}
	ids, ok := fe.Data[DataKeyRoleIDsAllowedToApprove].([]int)
	return ids, ok
}
