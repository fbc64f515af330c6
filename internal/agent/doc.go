// Package agent exposes customized collections over HTTP.
//
// # Customization
//
// Actions are declared per collection with a fluent API:
//
//	a := agent.New(dataSource, agent.Options{...})
//	a.CustomizeCollection("actors", func(c *agent.CollectionCustomizer) {
//	    c.AddAction("do-something", agent.ActionDefinition{
//	        Scope:   toolkit.ActionScopeBulk,
//	        Execute: func(ctx context.Context, ac *agent.ActionContext) (agent.ActionResult, error) {
//	            return agent.Success("done"), nil
//	        },
//	    })
//	})
//	if err := a.Start(); err != nil { ... }
//
// Start checks that every customized collection exists in the data source.
//
// # Routes
//
//	GET  /servequery/healthcheck
//	POST /servequery/_actions/{collection}/{action}/hooks/load
//	POST /servequery/_actions/{collection}/{action}
//
// Action routes require a caller token. Triggering an action checks the
// caller may trigger it; a request carrying requester_id is an approval and
// checks the caller may approve it instead. Both checks evaluate permission
// conditions against the selected records, restricted by the caller's scope
// for the caller filter and unrestricted for the all-callers filter.
//
// Denials answer 403 with {"errors":[{"name","detail","status","data"}]}.
package agent
