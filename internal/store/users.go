// ABOUTME: User entity store methods
// ABOUTME: Users carry the identity fields copied into caller tokens

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, email, first_name, last_name, team, role_id, tags_json, created_at`

// CreateUser inserts a user and sets its ID.
// Returns ErrDuplicate if the email is already used.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	var tagsJSON any
	if len(user.Tags) > 0 {
		data, err := json.Marshal(user.Tags)
		if err != nil {
			return fmt.Errorf("marshaling tags: %w", err)
		}
		tagsJSON = string(data)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, first_name, last_name, team, role_id, tags_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		user.Email,
		user.FirstName,
		user.LastName,
		user.Team,
		user.RoleID,
		tagsJSON,
		formatTime(user.CreatedAt),
	)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return fmt.Errorf("role %d: %w", user.RoleID, ErrNotFound)
		case isConstraintViolation(err):
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	user.ID = int(id)

	s.logger.Debug("created user", "id", user.ID, "email", user.Email, "role_id", user.RoleID)
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// ListUsers returns all users ordered by ID.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// DeleteUser removes a user.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(scanner interface{ Scan(dest ...any) error }) (*User, error) {
	var user User
	var tagsJSON sql.NullString
	var createdAt string

	err := scanner.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.Team,
		&user.RoleID,
		&tagsJSON,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if tagsJSON.Valid {
		if err := json.Unmarshal([]byte(tagsJSON.String), &user.Tags); err != nil {
			return nil, fmt.Errorf("unmarshaling tags: %w", err)
		}
	}

	user.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}
