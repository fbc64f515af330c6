// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"
)

type permissionKey struct {
	roleID     int
	collection string
	action     string
}

type scopeKey struct {
	roleID     int
	collection string
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	roles       map[int]*Role
	users       map[int]*User
	permissions map[permissionKey]*ActionPermission
	scopes      map[scopeKey]*Scope
	audit       []AuditEntry
	nextRoleID  int
	nextUserID  int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		roles:       make(map[int]*Role),
		users:       make(map[int]*User),
		permissions: make(map[permissionKey]*ActionPermission),
		scopes:      make(map[scopeKey]*Scope),
	}
}

// CreateRole stores a new role.
func (m *MockStore) CreateRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.roles {
		if r.Name == role.Name {
			return ErrDuplicate
		}
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}

	m.nextRoleID++
	role.ID = m.nextRoleID
	r := *role
	m.roles[r.ID] = &r
	return nil
}

// GetRole retrieves a role by ID.
func (m *MockStore) GetRole(ctx context.Context, id int) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *r
	return &result, nil
}

// GetRoleByName retrieves a role by name.
func (m *MockStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.roles {
		if r.Name == name {
			result := *r
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// ListRoles returns all roles ordered by ID.
func (m *MockStore) ListRoles(ctx context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roles := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		result := *r
		roles = append(roles, &result)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

// DeleteRole removes a role together with its permissions and scopes.
func (m *MockStore) DeleteRole(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	for _, u := range m.users {
		if u.RoleID == id {
			return ErrRoleInUse
		}
	}

	delete(m.roles, id)
	for k := range m.permissions {
		if k.roleID == id {
			delete(m.permissions, k)
		}
	}
	for k := range m.scopes {
		if k.roleID == id {
			delete(m.scopes, k)
		}
	}
	return nil
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[user.RoleID]; !ok {
		return fmt.Errorf("role %d: %w", user.RoleID, ErrNotFound)
	}
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrDuplicate
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	m.nextUserID++
	user.ID = m.nextUserID
	m.users[user.ID] = copyUser(user)
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id int) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// GetUserByEmail retrieves a user by email.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

// ListUsers returns all users ordered by ID.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// DeleteUser removes a user.
func (m *MockStore) DeleteUser(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func copyUser(u *User) *User {
	c := *u
	c.Tags = maps.Clone(u.Tags)
	return &c
}

// SetActionPermission creates or replaces a role's permission on an action.
func (m *MockStore) SetActionPermission(ctx context.Context, p *ActionPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[p.RoleID]; !ok {
		return fmt.Errorf("role %d: %w", p.RoleID, ErrNotFound)
	}
	p.UpdatedAt = time.Now().UTC()

	c := *p
	m.permissions[permissionKey{p.RoleID, p.Collection, p.Action}] = &c
	return nil
}

// GetActionPermission retrieves a role's permission on an action.
func (m *MockStore) GetActionPermission(ctx context.Context, roleID int, collection, action string) (*ActionPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.permissions[permissionKey{roleID, collection, action}]
	if !ok {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// ListActionPermissions returns all roles' permissions on an action, ordered by role ID.
func (m *MockStore) ListActionPermissions(ctx context.Context, collection, action string) ([]*ActionPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perms := []*ActionPermission{}
	for k, p := range m.permissions {
		if k.collection == collection && k.action == action {
			result := *p
			perms = append(perms, &result)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].RoleID < perms[j].RoleID })
	return perms, nil
}

// DeleteActionPermission removes a role's permission on an action.
func (m *MockStore) DeleteActionPermission(ctx context.Context, roleID int, collection, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := permissionKey{roleID, collection, action}
	if _, ok := m.permissions[key]; !ok {
		return ErrNotFound
	}
	delete(m.permissions, key)
	return nil
}

// SetScope creates or replaces a role's scope on a collection.
func (m *MockStore) SetScope(ctx context.Context, scope *Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if scope.Condition == nil {
		return fmt.Errorf("scope condition is required")
	}
	if _, ok := m.roles[scope.RoleID]; !ok {
		return fmt.Errorf("role %d: %w", scope.RoleID, ErrNotFound)
	}
	scope.UpdatedAt = time.Now().UTC()

	c := *scope
	m.scopes[scopeKey{scope.RoleID, scope.Collection}] = &c
	return nil
}

// GetScope retrieves a role's scope on a collection.
func (m *MockStore) GetScope(ctx context.Context, roleID int, collection string) (*Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scopes[scopeKey{roleID, collection}]
	if !ok {
		return nil, ErrNotFound
	}
	result := *s
	return &result, nil
}

// ListScopes returns every scope of a role ordered by collection.
func (m *MockStore) ListScopes(ctx context.Context, roleID int) ([]*Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scopes := []*Scope{}
	for k, s := range m.scopes {
		if k.roleID == roleID {
			result := *s
			scopes = append(scopes, &result)
		}
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].Collection < scopes[j].Collection })
	return scopes, nil
}

// DeleteScope removes a role's scope on a collection.
func (m *MockStore) DeleteScope(ctx context.Context, roleID int, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scopeKey{roleID, collection}
	if _, ok := m.scopes[key]; !ok {
		return ErrNotFound
	}
	delete(m.scopes, key)
	return nil
}

// AppendAuditLog appends a new entry to the audit log.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareAuditEntry(e)
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns audit entries matching the filter, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []AuditEntry{}
	for _, e := range m.audit {
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.Timestamp.After(*f.Until) {
			continue
		}
		if f.ActorUserID != nil && e.ActorUserID != *f.ActorUserID {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		if f.Collection != nil && e.Collection != *f.Collection {
			continue
		}
		if f.Outcome != nil && e.Outcome != *f.Outcome {
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	if limit := normalizeAuditLimit(f.Limit); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
