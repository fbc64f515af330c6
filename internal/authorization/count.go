// ABOUTME: Count aggregations behind every row-level condition check
// ABOUTME: Counts run concurrently; any failure becomes ErrInvalidActionCondition

package authorization

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// countIntersection counts the rows matching filter AND condition. A nil
// condition counts the filter alone.
func (s *Service) countIntersection(ctx context.Context, req ActionRequest, filter *toolkit.Filter, condition RawCondition) (int64, error) {
	tree := filter.Tree()
	if condition != nil {
		conditionTree, err := toolkit.ParseConditionTree(req.Collection.Schema(), map[string]any(condition))
		if err != nil {
			s.logger.Warn("action condition cannot be parsed",
				"collection", req.Collection.Name(),
				"action", req.ActionName,
				"error", err)
			return 0, ErrInvalidActionCondition
		}
		tree = toolkit.Intersect(conditionTree, tree)
	}

	rows, err := req.Collection.Aggregate(ctx, req.Caller,
		filter.Override(toolkit.FilterOverride{ConditionTree: tree}),
		toolkit.Aggregation{Operation: toolkit.AggregationCount})
	if err != nil {
		s.logger.Warn("action condition count failed",
			"collection", req.Collection.Name(),
			"action", req.ActionName,
			"error", err)
		return 0, ErrInvalidActionCondition
	}

	count, err := toolkit.CountValue(rows)
	if err != nil {
		s.logger.Warn("action condition count unreadable",
			"collection", req.Collection.Name(),
			"action", req.ActionName,
			"error", err)
		return 0, ErrInvalidActionCondition
	}
	return count, nil
}

// countAll runs one count per condition concurrently and waits for all of
// them. The first failure wins.
func (s *Service) countAll(ctx context.Context, req ActionRequest, filter *toolkit.Filter, conditions []RawCondition) ([]int64, error) {
	counts := make([]int64, len(conditions))

	g, gctx := errgroup.WithContext(ctx)
	for i, condition := range conditions {
		g.Go(func() error {
			n, err := s.countIntersection(gctx, req, filter, condition)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

// canPerformConditionalAction reports whether every row matched by filter
// also satisfies condition. A nil condition is always satisfied.
func (s *Service) canPerformConditionalAction(ctx context.Context, req ActionRequest, filter *toolkit.Filter, condition RawCondition) (bool, error) {
	if condition == nil {
		return true, nil
	}

	counts, err := s.countAll(ctx, req, filter, []RawCondition{nil, condition})
	if err != nil {
		return false, err
	}

	total, matching := counts[0], counts[1]
	if matching > total {
		s.logger.Warn("conditioned count exceeds request count",
			"collection", req.Collection.Name(),
			"action", req.ActionName,
			"total", total,
			"matching", matching)
	}
	return matching == total, nil
}
