// ABOUTME: Action permission and scope store methods
// ABOUTME: Conditions are stored as JSON text; NULL means the rule is unconditional

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const actionPermissionColumns = `
	role_id, collection, action,
	trigger_enabled, trigger_condition,
	approval_required, approval_required_condition,
	user_approval_enabled, user_approval_condition,
	self_approval_enabled, updated_at`

// SetActionPermission creates or replaces a role's permission on an action.
func (s *SQLiteStore) SetActionPermission(ctx context.Context, p *ActionPermission) error {
	p.UpdatedAt = time.Now().UTC()

	trigger, err := marshalCondition(p.TriggerCondition)
	if err != nil {
		return err
	}
	approvalRequired, err := marshalCondition(p.ApprovalRequiredCondition)
	if err != nil {
		return err
	}
	userApproval, err := marshalCondition(p.UserApprovalCondition)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_permissions (`+actionPermissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (role_id, collection, action) DO UPDATE SET
			trigger_enabled = excluded.trigger_enabled,
			trigger_condition = excluded.trigger_condition,
			approval_required = excluded.approval_required,
			approval_required_condition = excluded.approval_required_condition,
			user_approval_enabled = excluded.user_approval_enabled,
			user_approval_condition = excluded.user_approval_condition,
			self_approval_enabled = excluded.self_approval_enabled,
			updated_at = excluded.updated_at
	`,
		p.RoleID, p.Collection, p.Action,
		p.TriggerEnabled, trigger,
		p.ApprovalRequired, approvalRequired,
		p.UserApprovalEnabled, userApproval,
		p.SelfApprovalEnabled, formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("role %d: %w", p.RoleID, ErrNotFound)
		}
		return fmt.Errorf("saving action permission: %w", err)
	}

	s.logger.Debug("saved action permission",
		"role_id", p.RoleID,
		"collection", p.Collection,
		"action", p.Action)
	return nil
}

// GetActionPermission retrieves a role's permission on an action.
func (s *SQLiteStore) GetActionPermission(ctx context.Context, roleID int, collection, action string) (*ActionPermission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+actionPermissionColumns+`
		FROM action_permissions
		WHERE role_id = ? AND collection = ? AND action = ?
	`, roleID, collection, action)
	return scanActionPermission(row)
}

// ListActionPermissions returns all roles' permissions on an action, ordered by role ID.
func (s *SQLiteStore) ListActionPermissions(ctx context.Context, collection, action string) ([]*ActionPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionPermissionColumns+`
		FROM action_permissions
		WHERE collection = ? AND action = ?
		ORDER BY role_id
	`, collection, action)
	if err != nil {
		return nil, fmt.Errorf("listing action permissions: %w", err)
	}
	defer rows.Close()

	perms := []*ActionPermission{}
	for rows.Next() {
		p, err := scanActionPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating action permissions: %w", err)
	}
	return perms, nil
}

// DeleteActionPermission removes a role's permission on an action.
func (s *SQLiteStore) DeleteActionPermission(ctx context.Context, roleID int, collection, action string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM action_permissions WHERE role_id = ? AND collection = ? AND action = ?`,
		roleID, collection, action)
	if err != nil {
		return fmt.Errorf("deleting action permission: %w", err)
	}
	return requireAffected(res)
}

func scanActionPermission(scanner interface{ Scan(dest ...any) error }) (*ActionPermission, error) {
	var p ActionPermission
	var trigger, approvalRequired, userApproval sql.NullString
	var updatedAt string

	err := scanner.Scan(
		&p.RoleID, &p.Collection, &p.Action,
		&p.TriggerEnabled, &trigger,
		&p.ApprovalRequired, &approvalRequired,
		&p.UserApprovalEnabled, &userApproval,
		&p.SelfApprovalEnabled, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning action permission: %w", err)
	}

	if p.TriggerCondition, err = unmarshalCondition(trigger); err != nil {
		return nil, err
	}
	if p.ApprovalRequiredCondition, err = unmarshalCondition(approvalRequired); err != nil {
		return nil, err
	}
	if p.UserApprovalCondition, err = unmarshalCondition(userApproval); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

// SetScope creates or replaces a role's scope on a collection.
func (s *SQLiteStore) SetScope(ctx context.Context, scope *Scope) error {
	if scope.Condition == nil {
		return fmt.Errorf("scope condition is required")
	}
	scope.UpdatedAt = time.Now().UTC()

	condition, err := marshalCondition(scope.Condition)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scopes (role_id, collection, condition_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (role_id, collection) DO UPDATE SET
			condition_json = excluded.condition_json,
			updated_at = excluded.updated_at
	`, scope.RoleID, scope.Collection, condition, formatTime(scope.UpdatedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("role %d: %w", scope.RoleID, ErrNotFound)
		}
		return fmt.Errorf("saving scope: %w", err)
	}

	s.logger.Debug("saved scope", "role_id", scope.RoleID, "collection", scope.Collection)
	return nil
}

// GetScope retrieves a role's scope on a collection.
func (s *SQLiteStore) GetScope(ctx context.Context, roleID int, collection string) (*Scope, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT role_id, collection, condition_json, updated_at
		FROM scopes
		WHERE role_id = ? AND collection = ?
	`, roleID, collection)
	return scanScope(row)
}

// ListScopes returns every scope of a role ordered by collection.
func (s *SQLiteStore) ListScopes(ctx context.Context, roleID int) ([]*Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_id, collection, condition_json, updated_at
		FROM scopes
		WHERE role_id = ?
		ORDER BY collection
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("listing scopes: %w", err)
	}
	defer rows.Close()

	scopes := []*Scope{}
	for rows.Next() {
		scope, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scopes: %w", err)
	}
	return scopes, nil
}

// DeleteScope removes a role's scope on a collection.
func (s *SQLiteStore) DeleteScope(ctx context.Context, roleID int, collection string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scopes WHERE role_id = ? AND collection = ?`, roleID, collection)
	if err != nil {
		return fmt.Errorf("deleting scope: %w", err)
	}
	return requireAffected(res)
}

func scanScope(scanner interface{ Scan(dest ...any) error }) (*Scope, error) {
	var scope Scope
	var condition sql.NullString
	var updatedAt string

	err := scanner.Scan(&scope.RoleID, &scope.Collection, &condition, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning scope: %w", err)
	}

	if scope.Condition, err = unmarshalCondition(condition); err != nil {
		return nil, err
	}
	if scope.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &scope, nil
}

// requireAffected turns a no-op write into ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
