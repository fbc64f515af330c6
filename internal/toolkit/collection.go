// ABOUTME: Collection and DataSource interfaces implemented by data-source adapters
// ABOUTME: The agent reaches rows only through these contracts

package toolkit

import (
	"context"
	"fmt"
)

// Collection is a named set of rows owned by a data source.
type Collection interface {
	Name() string
	Schema() CollectionSchema

	// Aggregate computes aggregation over the rows selected by filter.
	Aggregate(ctx context.Context, caller *Caller, filter *Filter, aggregation Aggregation) ([]AggregateResult, error)
}

// DataSource owns a set of collections.
type DataSource interface {
	Collections() []Collection
	Collection(name string) (Collection, error)
}

// CompositeDataSource exposes the collections of several data sources as one.
type CompositeDataSource struct {
	collections []Collection
	byName      map[string]Collection
}

// NewCompositeDataSource merges data sources. Collection names must be unique
// across all of them.
func NewCompositeDataSource(sources ...DataSource) (*CompositeDataSource, error) {
	c := &CompositeDataSource{byName: make(map[string]Collection)}
	for _, ds := range sources {
		for _, col := range ds.Collections() {
			if _, dup := c.byName[col.Name()]; dup {
				return nil, fmt.Errorf("%w: collection %q is defined twice", ErrValidation, col.Name())
			}
			c.byName[col.Name()] = col
			c.collections = append(c.collections, col)
		}
	}
	return c, nil
}

func (c *CompositeDataSource) Collections() []Collection {
	return c.collections
}

func (c *CompositeDataSource) Collection(name string) (Collection, error) {
	col, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return col, nil
}
