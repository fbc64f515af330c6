// ABOUTME: Agent holding the data source, the authorization engine and action customizations
// ABOUTME: Collections are customized with a fluent API before Start validates them

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/servequery/servequery-agent/internal/authorization"
	"github.com/servequery/servequery-agent/internal/store"
	"github.com/servequery/servequery-agent/internal/toolkit"
)

// ScopeProvider returns the caller's row-level scope on a collection as a
// plain-object condition, nil when the caller is not restricted.
type ScopeProvider interface {
	ScopeCondition(ctx context.Context, caller *toolkit.Caller, collection string) (map[string]any, error)
}

// AuditLogger records authorization decisions.
type AuditLogger interface {
	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
}

// ActionContext is what an action receives when it runs.
type ActionContext struct {
	Caller     *toolkit.Caller
	Collection toolkit.Collection

	// Filter selects the targeted records visible to the caller.
	Filter *toolkit.Filter

	Values map[string]any

	// RequesterID is set when the action runs on approval of another user's request.
	RequesterID string
}

// ActionResult is returned to the client after the action ran.
type ActionResult struct {
	Success string `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Success builds a successful result.
func Success(message string) ActionResult { return ActionResult{Success: message} }

// Failure builds a result reporting a business error to the user.
func Failure(message string) ActionResult { return ActionResult{Error: message} }

// FormField is one input of an action form.
type FormField struct {
	Label        string `json:"label"`
	Type         string `json:"type"`
	IsRequired   bool   `json:"isRequired"`
	Description  string `json:"description,omitempty"`
	DefaultValue any    `json:"defaultValue,omitempty"`
}

// ActionDefinition declares a custom action.
type ActionDefinition struct {
	Scope   toolkit.ActionScope
	Form    []FormField
	Execute func(ctx context.Context, ac *ActionContext) (ActionResult, error)
}

// Options wires the agent's collaborators. Audit may be nil.
type Options struct {
	Authorization *authorization.Service
	Scopes        ScopeProvider
	Audit         AuditLogger
	Logger        *slog.Logger
}

// Agent serves custom actions over the collections of a data source.
type Agent struct {
	dataSource toolkit.DataSource
	authz      *authorization.Service
	scopes     ScopeProvider
	audit      AuditLogger
	logger     *slog.Logger

	mu      sync.RWMutex
	actions map[string]map[string]ActionDefinition
	errs    []error
}

// New creates an agent over dataSource.
func New(dataSource toolkit.DataSource, opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		dataSource: dataSource,
		authz:      opts.Authorization,
		scopes:     opts.Scopes,
		audit:      opts.Audit,
		logger:     logger.With("component", "agent"),
		actions:    make(map[string]map[string]ActionDefinition),
	}
}

// CollectionCustomizer adds behavior to one collection.
type CollectionCustomizer struct {
	agent      *Agent
	collection string
}

// CustomizeCollection runs fn against the named collection.
func (a *Agent) CustomizeCollection(name string, fn func(c *CollectionCustomizer)) *Agent {
	fn(&CollectionCustomizer{agent: a, collection: name})
	return a
}

// AddAction declares an action on the collection. Declaring the same action
// twice is reported by Start.
func (c *CollectionCustomizer) AddAction(name string, def ActionDefinition) *CollectionCustomizer {
	a := c.agent
	a.mu.Lock()
	defer a.mu.Unlock()

	if def.Execute == nil {
		a.errs = append(a.errs, fmt.Errorf("action %s/%s has no Execute function", c.collection, name))
		return c
	}
	if def.Scope == "" {
		def.Scope = toolkit.ActionScopeSingle
	}

	actions := a.actions[c.collection]
	if actions == nil {
		actions = make(map[string]ActionDefinition)
		a.actions[c.collection] = actions
	}
	if _, dup := actions[name]; dup {
		a.errs = append(a.errs, fmt.Errorf("action %s/%s is declared twice", c.collection, name))
		return c
	}
	actions[name] = def
	return c
}

// Start validates the customizations against the data source.
func (a *Agent) Start() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	errs := append([]error(nil), a.errs...)
	for collection, actions := range a.actions {
		if _, err := a.dataSource.Collection(collection); err != nil {
			errs = append(errs, fmt.Errorf("customizing %s: %w", collection, err))
			continue
		}
		a.logger.Info("collection customized", "collection", collection, "actions", len(actions))
	}
	if a.authz == nil {
		errs = append(errs, errors.New("agent requires an authorization service"))
	}
	return errors.Join(errs...)
}

// action returns the collection and the definition of an action.
func (a *Agent) action(collectionName, actionName string) (toolkit.Collection, ActionDefinition, bool) {
	a.mu.RLock()
	def, ok := a.actions[collectionName][actionName]
	a.mu.RUnlock()
	if !ok {
		return nil, ActionDefinition{}, false
	}

	collection, err := a.dataSource.Collection(collectionName)
	if err != nil {
		return nil, ActionDefinition{}, false
	}
	return collection, def, true
}
