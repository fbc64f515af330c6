// ABOUTME: MongoDB data source whose collections are declared in configuration
// ABOUTME: Counts with CountDocuments and other aggregations with a $group pipeline

package mongods

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// CollectionConfig declares a Mongo collection and the types of its fields.
type CollectionConfig struct {
	Name       string
	PrimaryKey string
	Fields     map[string]toolkit.ColumnType
}

// DataSource exposes declared collections of one Mongo database.
type DataSource struct {
	client      *mongo.Client
	owned       bool
	collections []*Collection
}

var _ toolkit.DataSource = (*DataSource)(nil)

// Connect dials uri and exposes the declared collections of database.
func Connect(ctx context.Context, uri, database string, collections []CollectionConfig, logger *slog.Logger) (*DataSource, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	ds := New(client, database, collections, logger)
	ds.owned = true
	return ds, nil
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *mongo.Client, database string, collections []CollectionConfig, logger *slog.Logger) *DataSource {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mongods")

	ds := &DataSource{client: client}
	for _, cfg := range collections {
		ds.collections = append(ds.collections, newCollection(client.Database(database).Collection(cfg.Name), cfg, logger))
	}
	return ds
}

// Close disconnects the client when the data source created it.
func (d *DataSource) Close(ctx context.Context) error {
	if !d.owned {
		return nil
	}
	return d.client.Disconnect(ctx)
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

// Collection is one Mongo collection.
type Collection struct {
	name   string
	coll   *mongo.Collection
	schema toolkit.CollectionSchema
	logger *slog.Logger
}

var _ toolkit.Collection = (*Collection)(nil)

func newCollection(coll *mongo.Collection, cfg CollectionConfig, logger *slog.Logger) *Collection {
	pk := cfg.PrimaryKey
	if pk == "" {
		pk = "_id"
	}

	schema := toolkit.CollectionSchema{Fields: map[string]toolkit.ColumnSchema{}, Searchable: true}
	for field, t := range cfg.Fields {
		schema.Fields[field] = toolkit.ColumnSchema{ColumnType: t, IsSortable: true}
	}
	col := schema.Fields[pk]
	if col.ColumnType == "" {
		col.ColumnType = toolkit.ColumnTypeString
	}
	col.IsPrimaryKey = true
	schema.Fields[pk] = col

	return &Collection{
		name:   cfg.Name,
		coll:   coll,
		schema: schema,
		logger: logger.With("collection", cfg.Name),
	}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Schema() toolkit.CollectionSchema { return c.schema }

func (c *Collection) Aggregate(ctx context.Context, caller *toolkit.Caller, filter *toolkit.Filter, aggregation toolkit.Aggregation) ([]toolkit.AggregateResult, error) {
	if err := aggregation.Validate(c.schema); err != nil {
		return nil, err
	}
	tree, err := filter.Resolve(c.schema)
	if err != nil {
		return nil, err
	}
	match, err := translate(tree)
	if err != nil {
		return nil, err
	}

	if aggregation.Operation == toolkit.AggregationCount && aggregation.Field == "" && len(aggregation.Groups) == 0 {
		n, err := c.coll.CountDocuments(ctx, match)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.name, err)
		}
		return []toolkit.AggregateResult{{Value: n, Group: map[string]any{}}}, nil
	}

	pipeline, err := buildPipeline(match, aggregation)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("aggregate", "stages", len(pipeline))

	cursor, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregating %s: %w", c.name, err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reading aggregate of %s: %w", c.name, err)
	}
	return decodeResults(docs, aggregation), nil
}
