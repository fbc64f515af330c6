// ABOUTME: Authorization service for custom actions: trigger, approval and parameter checks
// ABOUTME: Stateless apart from its oracle; safe for concurrent use

package authorization

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// ActionRequest describes the rows a caller wants to run an action on.
type ActionRequest struct {
	Caller     *toolkit.Caller
	ActionName string
	Collection toolkit.Collection

	// FilterForCaller includes the caller's row-level scope.
	FilterForCaller *toolkit.Filter
	// FilterForAllCaller is the same filter without the scope. It is used to
	// work out which roles could approve, whoever they are.
	FilterForAllCaller *toolkit.Filter
}

func (r ActionRequest) permissionQuery() PermissionQuery {
	return PermissionQuery{
		UserID:         r.Caller.ID,
		ActionName:     r.ActionName,
		CollectionName: r.Collection.Name(),
	}
}

func (r ActionRequest) actionQuery() ActionQuery {
	return ActionQuery{ActionName: r.ActionName, CollectionName: r.Collection.Name()}
}

// Service checks custom action permissions against an Oracle.
type Service struct {
	oracle Oracle
	logger *slog.Logger
}

// NewService creates an authorization service.
func NewService(oracle Oracle, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		oracle: oracle,
		logger: logger.With("component", "authorization"),
	}
}

// AssertCanTriggerCustomAction returns nil when the caller may run the
// action right away. It returns ErrCustomActionTriggerForbidden when the
// caller may not run it, and ErrCustomActionRequiresApproval (carrying the
// approver role ids) when the run must be approved first.
func (s *Service) AssertCanTriggerCustomAction(ctx context.Context, req ActionRequest) error {
	canTrigger, err := s.canTriggerCustomAction(ctx, req)
	if err != nil {
		return err
	}
	if !canTrigger {
		s.logger.Debug("trigger denied",
			"user_id", req.Caller.ID,
			"collection", req.Collection.Name(),
			"action", req.ActionName)
		return ErrCustomActionTriggerForbidden
	}

	requiresApproval, err := s.doesTriggerRequireApproval(ctx, req)
	if err != nil {
		return err
	}
	if !requiresApproval {
		return nil
	}

	roleIDs, err := s.roleIDsAllowedToApprove(ctx, req)
	if err != nil {
		return err
	}
	s.logger.Debug("trigger requires approval",
		"user_id", req.Caller.ID,
		"collection", req.Collection.Name(),
		"action", req.ActionName,
		"approver_roles", roleIDs)
	return withApprovers(ErrCustomActionRequiresApproval, roleIDs)
}

// AssertCanApproveCustomAction returns nil when the caller may approve a run
// of the action requested by requesterID, and ErrApprovalNotAllowed
// (carrying the approver role ids) otherwise.
func (s *Service) AssertCanApproveCustomAction(ctx context.Context, req ActionRequest, requesterID string) error {
	canApprove, err := s.canApproveCustomAction(ctx, req, requesterID)
	if err != nil {
		return err
	}
	if canApprove {
		return nil
	}

	roleIDs, err := s.roleIDsAllowedToApprove(ctx, req)
	if err != nil {
		return err
	}
	s.logger.Debug("approval denied",
		"user_id", req.Caller.ID,
		"requester_id", requesterID,
		"collection", req.Collection.Name(),
		"action", req.ActionName,
		"approver_roles", roleIDs)
	return withApprovers(ErrApprovalNotAllowed, roleIDs)
}

// AssertCanRequestCustomActionParameters returns toolkit.ErrForbidden when
// the user may neither trigger nor approve the action.
func (s *Service) AssertCanRequestCustomActionParameters(ctx context.Context, userID int, actionName, collectionName string) error {
	canRequest, err := s.oracle.CanRequestCustomActionParameters(ctx, PermissionQuery{
		UserID:         userID,
		ActionName:     actionName,
		CollectionName: collectionName,
	})
	if err != nil {
		return fmt.Errorf("checking action parameters permission: %w", err)
	}
	if !canRequest {
		return toolkit.ErrForbidden
	}
	return nil
}

func (s *Service) canTriggerCustomAction(ctx context.Context, req ActionRequest) (bool, error) {
	q := req.permissionQuery()

	canTrigger, err := s.oracle.CanTriggerCustomAction(ctx, q)
	if err != nil {
		return false, fmt.Errorf("checking trigger permission: %w", err)
	}
	if !canTrigger {
		return false, nil
	}

	condition, err := s.oracle.GetConditionalTriggerCondition(ctx, q)
	if err != nil {
		return false, fmt.Errorf("fetching trigger condition: %w", err)
	}
	return s.canPerformConditionalAction(ctx, req, req.FilterForCaller, condition)
}

func (s *Service) doesTriggerRequireApproval(ctx context.Context, req ActionRequest) (bool, error) {
	q := req.permissionQuery()

	requiresApproval, err := s.oracle.DoesTriggerCustomActionRequireApproval(ctx, q)
	if err != nil {
		return false, fmt.Errorf("checking approval requirement: %w", err)
	}
	if !requiresApproval {
		return false, nil
	}

	condition, err := s.oracle.GetConditionalRequiresApprovalCondition(ctx, q)
	if err != nil {
		return false, fmt.Errorf("fetching approval requirement condition: %w", err)
	}
	if condition == nil {
		return true, nil
	}

	// Approval is only needed when some targeted row matches the condition.
	matching, err := s.countIntersection(ctx, req, req.FilterForCaller, condition)
	if err != nil {
		return false, err
	}
	return matching != 0, nil
}

func (s *Service) canApproveCustomAction(ctx context.Context, req ActionRequest, requesterID string) (bool, error) {
	q := req.permissionQuery()

	canApprove, err := s.oracle.CanApproveCustomAction(ctx, ApproveQuery{PermissionQuery: q, RequesterID: requesterID})
	if err != nil {
		return false, fmt.Errorf("checking approve permission: %w", err)
	}
	if !canApprove {
		return false, nil
	}

	condition, err := s.oracle.GetConditionalApproveCondition(ctx, q)
	if err != nil {
		return false, fmt.Errorf("fetching approve condition: %w", err)
	}
	return s.canPerformConditionalAction(ctx, req, req.FilterForCaller, condition)
}

// roleIDsAllowedToApprove lists the roles that could approve the request:
// roles approving unconditionally first, then every role whose condition
// covers all the rows of FilterForAllCaller. Roles sharing a condition are
// counted once.
func (s *Service) roleIDsAllowedToApprove(ctx context.Context, req ActionRequest) ([]int, error) {
	q := req.actionQuery()

	conditional, err := s.oracle.GetConditionalApproveConditions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetching approve conditions: %w", err)
	}
	unconditional, err := s.oracle.GetRoleIDsAllowedToApproveWithoutConditions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetching unconditional approvers: %w", err)
	}

	groups := GroupRoleConditions(conditional)
	if len(groups) == 0 {
		return unconditional, nil
	}

	conditions := make([]RawCondition, 0, len(groups)+1)
	conditions = append(conditions, nil)
	for _, g := range groups {
		conditions = append(conditions, g.Condition)
	}

	counts, err := s.countAll(ctx, req, req.FilterForAllCaller, conditions)
	if err != nil {
		return nil, err
	}

	roleIDs := make([]int, 0, len(unconditional)+len(conditional))
	roleIDs = append(roleIDs, unconditional...)
	for i, g := range groups {
		if counts[i+1] == counts[0] {
			roleIDs = append(roleIDs, g.RoleIDs...)
		}
	}
	return roleIDs, nil
}
