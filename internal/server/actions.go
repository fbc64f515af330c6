// ABOUTME: Declares actions from configuration on the agent
// ABOUTME: A configured action counts its targeted records and answers a message

package server

import (
	"context"
	"strconv"
	"strings"

	"github.com/servequery/servequery-agent/internal/agent"
	"github.com/servequery/servequery-agent/internal/config"
	"github.com/servequery/servequery-agent/internal/toolkit"
)

func declareAction(a *agent.Agent, cfg config.ActionConfig) {
	form := make([]agent.FormField, len(cfg.Form))
	for i, f := range cfg.Form {
		form[i] = agent.FormField{
			Label:       f.Label,
			Type:        f.Type,
			IsRequired:  f.Required,
			Description: f.Description,
		}
	}

	a.CustomizeCollection(cfg.Collection, func(c *agent.CollectionCustomizer) {
		c.AddAction(cfg.Name, agent.ActionDefinition{
			Scope: toolkit.ActionScope(cfg.Scope),
			Form:  form,
			Execute: func(ctx context.Context, ac *agent.ActionContext) (agent.ActionResult, error) {
				rows, err := ac.Collection.Aggregate(ctx, ac.Caller, ac.Filter, toolkit.Aggregation{Operation: toolkit.AggregationCount})
				if err != nil {
					return agent.ActionResult{}, err
				}
				n, err := toolkit.CountValue(rows)
				if err != nil {
					return agent.ActionResult{}, err
				}
				return agent.Success(strings.ReplaceAll(cfg.SuccessMessage, "{count}", strconv.FormatInt(n, 10))), nil
			},
		})
	})
}
