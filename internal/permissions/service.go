// ABOUTME: Store-backed permission oracle for custom actions
// ABOUTME: Caches users and per-action permissions; concurrent misses share one load

package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/servequery/servequery-agent/internal/authorization"
	"github.com/servequery/servequery-agent/internal/cache"
	"github.com/servequery/servequery-agent/internal/store"
)

// Source is what the service reads from storage
type Source interface {
	GetUser(ctx context.Context, id int) (*store.User, error)
	ListActionPermissions(ctx context.Context, collection, action string) ([]*store.ActionPermission, error)
	GetScope(ctx context.Context, roleID int, collection string) (*store.Scope, error)
}

// Options configures caching. A zero CacheTTL disables caching: every
// lookup reaches the source, though concurrent lookups still share one load.
type Options struct {
	CacheTTL  time.Duration
	CacheSize int
}

// Service implements authorization.Oracle on top of a Source.
type Service struct {
	source Source
	logger *slog.Logger

	users       *cache.Cache[int, *store.User]
	permissions *cache.Cache[string, []*store.ActionPermission]
	scopes      *cache.Cache[string, *store.Scope]
	group       singleflight.Group
}

var _ authorization.Oracle = (*Service)(nil)

// New creates a permission service. Call Close to stop the cache janitors.
func New(source Source, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CacheTTL < 0 {
		opts.CacheTTL = 0
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	return &Service{
		source:      source,
		logger:      logger.With("component", "permissions"),
		users:       cache.New[int, *store.User](opts.CacheTTL, opts.CacheSize),
		permissions: cache.New[string, []*store.ActionPermission](opts.CacheTTL, opts.CacheSize),
		scopes:      cache.New[string, *store.Scope](opts.CacheTTL, opts.CacheSize),
	}
}

// Invalidate drops every cached entry.
func (s *Service) Invalidate() {
	s.users.Purge()
	s.permissions.Purge()
	s.scopes.Purge()
}

// Close stops the cache cleanup goroutines.
func (s *Service) Close() {
	s.users.Close()
	s.permissions.Close()
	s.scopes.Close()
}

// load runs fn once for concurrent callers of the same key. fn gets a context
// that no single caller can cancel; each caller stops waiting when its own ctx
// is done.
func (s *Service) load(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// user returns the user with the given ID, or nil when the user does not exist.
func (s *Service) user(ctx context.Context, id int) (*store.User, error) {
	if u, ok := s.users.Get(id); ok {
		return u, nil
	}

	v, err := s.load(ctx, "user:"+strconv.Itoa(id), func(ctx context.Context) (any, error) {
		u, err := s.source.GetUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug("unknown user has no permissions", "user_id", id)
			u, err = nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("loading user %d: %w", id, err)
		}
		s.users.Set(id, u)
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	u, _ := v.(*store.User)
	return u, nil
}

// actionPermissions returns every role's permission on an action, ordered by role ID.
func (s *Service) actionPermissions(ctx context.Context, collection, action string) ([]*store.ActionPermission, error) {
	key := collection + "\x00" + action
	if perms, ok := s.permissions.Get(key); ok {
		return perms, nil
	}

	v, err := s.load(ctx, "perms:"+key, func(ctx context.Context) (any, error) {
		perms, err := s.source.ListActionPermissions(ctx, collection, action)
		if err != nil {
			return nil, fmt.Errorf("loading permissions of %s/%s: %w", collection, action, err)
		}
		s.permissions.Set(key, perms)
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*store.ActionPermission), nil
}

// rolePermission returns the permission of the user's role on an action, or
// nil when the user or the permission does not exist.
func (s *Service) rolePermission(ctx context.Context, userID int, collection, action string) (*store.ActionPermission, error) {
	u, err := s.user(ctx, userID)
	if err != nil || u == nil {
		return nil, err
	}

	perms, err := s.actionPermissions(ctx, collection, action)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		if p.RoleID == u.RoleID {
			return p, nil
		}
	}
	return nil, nil
}

func (s *Service) CanTriggerCustomAction(ctx context.Context, q authorization.PermissionQuery) (bool, error) {
	p, err := s.rolePermission(ctx, q.UserID, q.CollectionName, q.ActionName)
	if err != nil || p == nil {
		return false, err
	}
	return p.TriggerEnabled, nil
}

func (s *Service) GetConditionalTriggerCondition(ctx context.Context, q authorization.PermissionQuery) (authorization.RawCondition, error) {
	p, err := s.rolePermission(ctx, q.UserID, q.CollectionName, q.ActionName)
	if err != nil || p == nil {
		return nil, err
	}
	return p.TriggerCondition, nil
}

func (s *Service) DoesTriggerCustomActionRequireApproval(ctx context.Context, q authorization.PermissionQuery) (bool, error) {
	p, err := s.rolePermission(ctx, q.UserID, q.CollectionName, q.ActionName)
	if err != nil || p == nil {
		return false, err
	}
	return p.ApprovalRequired, nil
}

func (s *Service) GetConditionalRequiresApprovalCondition(ctx context.Context, q authorization.PermissionQuery) (authorization.RawCondition, error) {
	p, err := s.rolePermission(ctx, q.UserID, q.CollectionName, q.ActionName)
	if err != nil || p == nil {
		return nil, err
	}
	return p.ApprovalRequiredCondition, nil
}

// CanApproveCustomAction requires approval rights, and self approval rights
// when the approver is also the requester.
func (s *Service) CanApproveCustomAction(ctx context.Context, q authorization.ApproveQuery) (bool, error) {
	p, err := s.rolePermission(ctx, q.UserID, q.CollectionName, q.ActionName)
	if err != nil || p == nil {
		return false, err
	}
	if !p.UserApprovalEnabled {
		return false, nil
	}
	if q.RequesterID == strconv.Itoa(q.UserID) {
		return p.SelfApprovalEnabled, nil
	}
	return true, nil
}

func (s *Service) GetConditionalApproveCondition(ctx context.Context, q authorization.PermissionQuery) (authorization.RawCondition, error) {
	p, err := s.rolePermission(ctx, q.UserID, q.CollectionName, q.ActionName)
	if err != nil || p == nil {
		return nil, err
	}
	return p.UserApprovalCondition, nil
}

// GetConditionalApproveConditions lists approving roles with a condition, by role ID.
func (s *Service) GetConditionalApproveConditions(ctx context.Context, q authorization.ActionQuery) ([]authorization.RoleCondition, error) {
	perms, err := s.actionPermissions(ctx, q.CollectionName, q.ActionName)
	if err != nil {
		return nil, err
	}

	var conditions []authorization.RoleCondition
	for _, p := range perms {
		if p.UserApprovalEnabled && p.UserApprovalCondition != nil {
			conditions = append(conditions, authorization.RoleCondition{
				RoleID:    p.RoleID,
				Condition: p.UserApprovalCondition,
			})
		}
	}
	return conditions, nil
}

// GetRoleIDsAllowedToApproveWithoutConditions lists approving roles without a condition, by role ID.
func (s *Service) GetRoleIDsAllowedToApproveWithoutConditions(ctx context.Context, q authorization.ActionQuery) ([]int, error) {
	perms, err := s.actionPermissions(ctx, q.CollectionName, q.ActionName)
	if err != nil {
		return nil, err
	}

	roleIDs := []int{}
	for _, p := range perms {
		if p.UserApprovalEnabled && p.UserApprovalCondition == nil {
			roleIDs = append(roleIDs, p.RoleID)
		}
	}
	return roleIDs, nil
}

// CanRequestCustomActionParameters lets anyone who may trigger or approve
// the action load its form.
func (s *Service) CanRequestCustomActionParameters(ctx context.Context, q authorization.PermissionQuery) (bool, error) {
	p, err := s.rolePermission(ctx, q.UserID, q.CollectionName, q.ActionName)
	if err != nil || p == nil {
		return false, err
	}
	return p.TriggerEnabled || p.UserApprovalEnabled, nil
}
