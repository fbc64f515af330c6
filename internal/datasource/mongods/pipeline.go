// ABOUTME: Aggregation pipeline construction and result decoding
// ABOUTME: Groups are keyed by a sub-document of the grouped fields

package mongods

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

func buildPipeline(match bson.M, aggregation toolkit.Aggregation) (mongo.Pipeline, error) {
	ref := "$" + aggregation.Field

	var accumulator bson.M
	switch aggregation.Operation {
	case toolkit.AggregationCount:
		accumulator = bson.M{"$sum": 1}
		if aggregation.Field != "" {
			accumulator = bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{ref, nil}}, nil}}, 0, 1,
			}}}
		}
	case toolkit.AggregationSum:
		accumulator = bson.M{"$sum": ref}
	case toolkit.AggregationAverage:
		accumulator = bson.M{"$avg": ref}
	case toolkit.AggregationMax:
		accumulator = bson.M{"$max": ref}
	case toolkit.AggregationMin:
		accumulator = bson.M{"$min": ref}
	default:
		return nil, fmt.Errorf("%w: unsupported aggregation %q", toolkit.ErrValidation, aggregation.Operation)
	}

	var id any
	if len(aggregation.Groups) > 0 {
		key := bson.D{}
		for _, g := range aggregation.Groups {
			key = append(key, bson.E{Key: g.Field, Value: "$" + g.Field})
		}
		id = key
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: id}, {Key: "value", Value: accumulator}}}},
	}
	if len(aggregation.Groups) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: bson.D{{Key: "value", Value: -1}}}})
	}
	return pipeline, nil
}

func decodeResults(docs []bson.M, aggregation toolkit.Aggregation) []toolkit.AggregateResult {
	if len(aggregation.Groups) == 0 {
		var value any
		if aggregation.Operation == toolkit.AggregationCount {
			value = int64(0)
		}
		if len(docs) > 0 {
			value = numeric(docs[0]["value"])
		}
		return []toolkit.AggregateResult{{Value: value, Group: map[string]any{}}}
	}

	results := make([]toolkit.AggregateResult, 0, len(docs))
	for _, doc := range docs {
		key := document(doc["_id"])
		group := make(map[string]any, len(aggregation.Groups))
		for _, g := range aggregation.Groups {
			group[g.Field] = key[g.Field]
		}
		results = append(results, toolkit.AggregateResult{Value: numeric(doc["value"]), Group: group})
	}
	return results
}

// numeric widens the integer types Mongo returns for counts and sums.
func numeric(v any) any {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int:
		return int64(n)
	default:
		return v
	}
}

func document(v any) map[string]any {
	switch d := v.(type) {
	case bson.M:
		return d
	case map[string]any:
		return d
	case bson.D:
		m := make(map[string]any, len(d))
		for _, e := range d {
			m[e.Key] = e.Value
		}
		return m
	default:
		return map[string]any{}
	}
}
