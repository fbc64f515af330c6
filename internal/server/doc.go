// Package server assembles a running servequery agent from its configuration.
//
// New opens the permission store, connects every configured data source,
// builds the permission oracle and the authorization engine, declares the
// configured actions on the agent and prepares the HTTP server. Run serves
// until its context is canceled, then shuts everything down within the
// configured shutdown timeout.
//
// Go programs embedding the agent add their own actions with WithCustomization:
//
//	srv, err := server.New(ctx, cfg, logger, server.WithCustomization(func(a *agent.Agent) {
//		a.CustomizeCollection("actors", func(c *agent.CollectionCustomizer) {
//			c.AddAction("archive", agent.ActionDefinition{Execute: archive})
//		})
//	}))
package server
