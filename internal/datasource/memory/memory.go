// ABOUTME: In-memory data source evaluating condition trees against Go maps
// ABOUTME: Used for tests, demos and small static collections

package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// Collection holds rows in memory.
type Collection struct {
	name   string
	schema toolkit.CollectionSchema

	mu      sync.RWMutex
	records []toolkit.Record
}

var _ toolkit.Collection = (*Collection)(nil)

// NewCollection creates an empty collection.
func NewCollection(name string, schema toolkit.CollectionSchema) *Collection {
	return &Collection{name: name, schema: schema}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Schema() toolkit.CollectionSchema { return c.schema }

// Add appends records. Records are copied.
func (c *Collection) Add(records ...toolkit.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		cp := make(toolkit.Record, len(r))
		for k, v := range r {
			cp[k] = v
		}
		c.records = append(c.records, cp)
	}
}

// List returns copies of the records selected by filter, in insertion order.
func (c *Collection) List(ctx context.Context, caller *toolkit.Caller, filter *toolkit.Filter) ([]toolkit.Record, error) {
	tree, err := filter.Resolve(c.schema)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []toolkit.Record
	for _, r := range c.records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if toolkit.MatchTree(tree, r) {
			cp := make(toolkit.Record, len(r))
			for k, v := range r {
				cp[k] = v
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

// Aggregate computes the aggregation over the records selected by filter.
// Grouped results are sorted by value, largest first.
func (c *Collection) Aggregate(ctx context.Context, caller *toolkit.Caller, filter *toolkit.Filter, aggregation toolkit.Aggregation) ([]toolkit.AggregateResult, error) {
	if err := aggregation.Validate(c.schema); err != nil {
		return nil, err
	}
	records, err := c.List(ctx, caller, filter)
	if err != nil {
		return nil, err
	}

	if len(aggregation.Groups) == 0 {
		return []toolkit.AggregateResult{{Value: compute(aggregation, records), Group: map[string]any{}}}, nil
	}

	var keys []string
	buckets := map[string][]toolkit.Record{}
	groups := map[string]map[string]any{}
	for _, r := range records {
		group := make(map[string]any, len(aggregation.Groups))
		parts := make([]string, len(aggregation.Groups))
		for i, g := range aggregation.Groups {
			group[g.Field] = r[g.Field]
			parts[i] = fmt.Sprintf("%T:%v", r[g.Field], r[g.Field])
		}
		key := strings.Join(parts, "\x00")
		if _, ok := buckets[key]; !ok {
			keys = append(keys, key)
			groups[key] = group
		}
		buckets[key] = append(buckets[key], r)
	}

	results := make([]toolkit.AggregateResult, 0, len(keys))
	for _, key := range keys {
		results = append(results, toolkit.AggregateResult{
			Value: compute(aggregation, buckets[key]),
			Group: groups[key],
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, _ := toolkit.ToFloat(results[i].Value)
		b, _ := toolkit.ToFloat(results[j].Value)
		return a > b
	})
	return results, nil
}

// compute returns an int64 for Count and a float64 (or nil when no value
// is numeric) for the other operations.
func compute(aggregation toolkit.Aggregation, records []toolkit.Record) any {
	if aggregation.Operation == toolkit.AggregationCount {
		var n int64
		for _, r := range records {
			if aggregation.Field == "" || r[aggregation.Field] != nil {
				n++
			}
		}
		return n
	}

	var values []float64
	for _, r := range records {
		if f, ok := toolkit.ToFloat(r[aggregation.Field]); ok {
			values = append(values, f)
		}
	}
	if len(values) == 0 {
		return nil
	}

	result := values[0]
	switch aggregation.Operation {
	case toolkit.AggregationSum, toolkit.AggregationAverage:
		result = 0
		for _, v := range values {
			result += v
		}
		if aggregation.Operation == toolkit.AggregationAverage {
			result /= float64(len(values))
		}
	case toolkit.AggregationMax:
		for _, v := range values[1:] {
			result = max(result, v)
		}
	case toolkit.AggregationMin:
		for _, v := range values[1:] {
			result = min(result, v)
		}
	}
	return result
}

// DataSource is a fixed set of in-memory collections.
type DataSource struct {
	collections []*Collection
}

var _ toolkit.DataSource = (*DataSource)(nil)

// NewDataSource creates a data source over the given collections.
func NewDataSource(collections ...*Collection) *DataSource {
	return &DataSource{collections: collections}
}

func (d *DataSource) Collections() []toolkit.Collection {
	out := make([]toolkit.Collection, len(d.collections))
	for i, c := range d.collections {
		out[i] = c
	}
	return out
}

func (d *DataSource) Collection(name string) (toolkit.Collection, error) {
	for _, c := range d.collections {
		if c.name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", toolkit.ErrCollectionNotFound, name)
}
