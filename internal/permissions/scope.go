// ABOUTME: Row-level scopes applied to every query a caller makes on a collection
// ABOUTME: Renders {{currentUser.*}} templates in scope values from the caller's identity

package permissions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/servequery/servequery-agent/internal/store"
	"github.com/servequery/servequery-agent/internal/toolkit"
)

// ScopeCondition returns the caller's scope on collection as a plain-object
// condition with templates rendered. It returns nil when the caller's role
// has no scope there.
func (s *Service) ScopeCondition(ctx context.Context, caller *toolkit.Caller, collection string) (map[string]any, error) {
	u, err := s.user(ctx, caller.ID)
	if err != nil || u == nil {
		return nil, err
	}

	key := strconv.Itoa(u.RoleID) + "\x00" + collection
	scope, ok := s.scopes.Get(key)
	if !ok {
		v, err := s.load(ctx, "scope:"+key, func(ctx context.Context) (any, error) {
			scope, err := s.source.GetScope(ctx, u.RoleID, collection)
			if errors.Is(err, store.ErrNotFound) {
				scope, err = nil, nil
			}
			if err != nil {
				return nil, fmt.Errorf("loading scope of role %d on %s: %w", u.RoleID, collection, err)
			}
			s.scopes.Set(key, scope)
			return scope, nil
		})
		if err != nil {
			return nil, err
		}
		scope, _ = v.(*store.Scope)
	}

	if scope == nil {
		return nil, nil
	}

	rendered, ok := renderTemplates(scope.Condition, caller).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("scope of role %d on %s is not an object", u.RoleID, collection)
	}
	return rendered, nil
}

var currentUserTemplate = regexp.MustCompile(`\{\{\s*currentUser\.([A-Za-z0-9_.]+)\s*\}\}`)

// renderTemplates returns a copy of v where strings referencing the current
// user are replaced. A string made of a single template takes the typed
// value (so {{currentUser.id}} stays a number); templates inside a longer
// string are replaced by their text form.
func renderTemplates(v any, caller *toolkit.Caller) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = renderTemplates(item, caller)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = renderTemplates(item, caller)
		}
		return out
	case string:
		if m := currentUserTemplate.FindStringSubmatchIndex(x); m != nil && m[0] == 0 && m[1] == len(x) {
			return callerValue(caller, x[m[2]:m[3]])
		}
		return currentUserTemplate.ReplaceAllStringFunc(x, func(t string) string {
			v := callerValue(caller, currentUserTemplate.FindStringSubmatch(t)[1])
			if v == nil {
				return ""
			}
			return fmt.Sprint(v)
		})
	default:
		return v
	}
}

func callerValue(caller *toolkit.Caller, path string) any {
	if tag, ok := strings.CutPrefix(path, "tags."); ok {
		return caller.Tags[tag]
	}

	switch path {
	case "id":
		return caller.ID
	case "email":
		return caller.Email
	case "firstName":
		return caller.FirstName
	case "lastName":
		return caller.LastName
	case "team":
		return caller.Team
	case "role":
		return caller.Role
	case "renderingId":
		return caller.RenderingID
	default:
		return nil
	}
}
