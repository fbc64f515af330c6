// ABOUTME: Store interface and data types for agent permission persistence
// ABOUTME: Defines roles, users, action permissions, scopes and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an entity with the same unique key exists
var ErrDuplicate = errors.New("already exists")

// ErrRoleInUse is returned when deleting a role that users still belong to
var ErrRoleInUse = errors.New("role has users")

// Condition is a condition tree in its plain-object form, stored as JSON.
// A nil Condition means the rule has no condition.
type Condition = map[string]any

// Role groups users sharing the same permissions
type Role struct {
	ID        int
	Name      string
	CreatedAt time.Time
}

// User is an admin panel user. Every user belongs to exactly one role.
type User struct {
	ID        int
	Email     string
	FirstName string
	LastName  string
	Team      string
	RoleID    int
	Tags      map[string]string
	CreatedAt time.Time
}

// ActionPermission holds what a role may do with one custom action of one
// collection.
type ActionPermission struct {
	RoleID     int
	Collection string
	Action     string

	TriggerEnabled   bool
	TriggerCondition Condition

	ApprovalRequired          bool
	ApprovalRequiredCondition Condition

	UserApprovalEnabled   bool
	UserApprovalCondition Condition
	SelfApprovalEnabled   bool

	UpdatedAt time.Time
}

// Scope restricts the rows of a collection a role can see. Condition values
// may reference the current user with {{currentUser.team}}-style templates.
type Scope struct {
	RoleID     int
	Collection string
	Condition  Condition
	UpdatedAt  time.Time
}

// RoleStore manages roles
type RoleStore interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id int) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	DeleteRole(ctx context.Context, id int) error
}

// UserStore manages users
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	DeleteUser(ctx context.Context, id int) error
}

// PermissionStore manages action permissions and scopes
type PermissionStore interface {
	// SetActionPermission creates or replaces the permission of a role.
	SetActionPermission(ctx context.Context, p *ActionPermission) error
	GetActionPermission(ctx context.Context, roleID int, collection, action string) (*ActionPermission, error)
	// ListActionPermissions returns every role's permission on an action,
	// ordered by role ID.
	ListActionPermissions(ctx context.Context, collection, action string) ([]*ActionPermission, error)
	DeleteActionPermission(ctx context.Context, roleID int, collection, action string) error

	SetScope(ctx context.Context, scope *Scope) error
	GetScope(ctx context.Context, roleID int, collection string) (*Scope, error)
	ListScopes(ctx context.Context, roleID int) ([]*Scope, error)
	DeleteScope(ctx context.Context, roleID int, collection string) error
}

// AuditStore records authorization decisions
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is everything the agent persists
type Store interface {
	RoleStore
	UserStore
	PermissionStore
	AuditStore

	// Close releases any resources held by the store
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MockStore)(nil)
)
