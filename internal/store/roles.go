// ABOUTME: Role entity store methods
// ABOUTME: Roles own action permissions and scopes; deleting a role cascades to them

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRole inserts a role and sets its ID.
// Returns ErrDuplicate if a role with the same name exists.
func (s *SQLiteStore) CreateRole(ctx context.Context, role *Role) error {
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (name, created_at) VALUES (?, ?)`,
		role.Name, formatTime(role.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting role: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading role id: %w", err)
	}
	role.ID = int(id)

	s.logger.Debug("created role", "id", role.ID, "name", role.Name)
	return nil
}

// GetRole retrieves a role by ID.
func (s *SQLiteStore) GetRole(ctx context.Context, id int) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM roles WHERE id = ?`, id)
	return scanRole(row)
}

// GetRoleByName retrieves a role by name.
func (s *SQLiteStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM roles WHERE name = ?`, name)
	return scanRole(row)
}

func scanRole(scanner interface{ Scan(dest ...any) error }) (*Role, error) {
	var role Role
	var createdAt string

	err := scanner.Scan(&role.ID, &role.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning role: %w", err)
	}

	role.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &role, nil
}

// ListRoles returns all roles ordered by ID. Returns an empty slice if there
// are none.
func (s *SQLiteStore) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []*Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return roles, nil
}

// DeleteRole removes a role together with its permissions and scopes.
// Fails while users still belong to the role.
func (s *SQLiteStore) DeleteRole(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrRoleInUse
		}
		return fmt.Errorf("deleting role: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted role", "id", id)
	return nil
}
