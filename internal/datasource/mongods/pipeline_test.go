// ABOUTME: Tests for aggregation pipelines, result decoding and collection schemas
// ABOUTME: None of these tests need a running MongoDB server

package mongods

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

func TestBuildPipeline(t *testing.T) {
	match := bson.M{"team": "ops"}

	pipeline, err := buildPipeline(match, toolkit.Aggregation{
		Operation: toolkit.AggregationSum,
		Field:     "age",
		Groups:    []toolkit.AggregationGroup{{Field: "team"}},
	})
	require.NoError(t, err)
	assert.Equal(t, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "team", Value: "$team"}}},
			{Key: "value", Value: bson.M{"$sum": "$age"}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "value", Value: -1}}}},
	}, pipeline)
}

func TestBuildPipeline_Accumulators(t *testing.T) {
	tests := []struct {
		op    toolkit.AggregationOperation
		field string
		want  bson.M
	}{
		{toolkit.AggregationCount, "", bson.M{"$sum": 1}},
		{toolkit.AggregationAverage, "age", bson.M{"$avg": "$age"}},
		{toolkit.AggregationMax, "age", bson.M{"$max": "$age"}},
		{toolkit.AggregationMin, "age", bson.M{"$min": "$age"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			pipeline, err := buildPipeline(bson.M{}, toolkit.Aggregation{Operation: tt.op, Field: tt.field})
			require.NoError(t, err)
			require.Len(t, pipeline, 2, "ungrouped pipelines are not sorted")

			group := pipeline[1][0].Value.(bson.D)
			assert.Nil(t, group[0].Value)
			assert.Equal(t, tt.want, group[1].Value)
		})
	}
}

func TestDecodeResults(t *testing.T) {
	count := toolkit.Aggregation{Operation: toolkit.AggregationCount, Field: "age"}

	results := decodeResults(nil, count)
	require.Len(t, results, 1)
	assert.Equal(t, int64(0), results[0].Value)

	results = decodeResults([]bson.M{{"_id": nil, "value": int32(4)}}, count)
	assert.Equal(t, int64(4), results[0].Value)

	results = decodeResults(nil, toolkit.Aggregation{Operation: toolkit.AggregationMax, Field: "age"})
	assert.Nil(t, results[0].Value)

	grouped := toolkit.Aggregation{Operation: toolkit.AggregationAverage, Field: "age", Groups: []toolkit.AggregationGroup{{Field: "team"}}}
	results = decodeResults([]bson.M{
		{"_id": bson.D{{Key: "team", Value: "ops"}}, "value": 40.5},
		{"_id": bson.M{"team": "sales"}, "value": 12.0},
	}, grouped)
	assert.Equal(t, []toolkit.AggregateResult{
		{Value: 40.5, Group: map[string]any{"team": "ops"}},
		{Value: 12.0, Group: map[string]any{"team": "sales"}},
	}, results)
}

func TestNew_Schema(t *testing.T) {
	// Connect does not dial; nothing here talks to a server.
	client, err := mongo.Connect(options.Client().ApplyURI("mongodb://127.0.0.1:1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	ds := New(client, "app", []CollectionConfig{
		{Name: "actors", Fields: map[string]toolkit.ColumnType{"name": toolkit.ColumnTypeString, "age": toolkit.ColumnTypeNumber}},
		{Name: "films", PrimaryKey: "code", Fields: map[string]toolkit.ColumnType{"code": toolkit.ColumnTypeNumber}},
	}, nil)

	require.Len(t, ds.Collections(), 2)

	actors, err := ds.Collection("actors")
	require.NoError(t, err)
	assert.Equal(t, []string{"_id"}, actors.Schema().PrimaryKeys())
	assert.Equal(t, toolkit.ColumnTypeString, actors.Schema().Fields["_id"].ColumnType)
	assert.Equal(t, toolkit.ColumnTypeNumber, actors.Schema().Fields["age"].ColumnType)

	films, err := ds.Collection("films")
	require.NoError(t, err)
	assert.Equal(t, []string{"code"}, films.Schema().PrimaryKeys())
	assert.Equal(t, toolkit.ColumnTypeNumber, films.Schema().Fields["code"].ColumnType)

	_, err = ds.Collection("missing")
	assert.ErrorIs(t, err, toolkit.ErrCollectionNotFound)

	assert.NoError(t, ds.Close(context.Background()), "borrowed clients are left open")

	_, err = actors.Aggregate(context.Background(), nil, nil, toolkit.Aggregation{Operation: toolkit.AggregationSum})
	assert.ErrorIs(t, err, toolkit.ErrValidation)
}
