// ABOUTME: Translation of condition trees into MongoDB query documents
// ABOUTME: Text operators become anchored or quoted regular expressions

package mongods

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// matchNothing is a query that selects no document.
var matchNothing = bson.M{"$expr": bson.M{"$eq": bson.A{1, 0}}}

// translate returns the query document for tree. A nil tree matches everything.
func translate(tree toolkit.ConditionTree) (bson.M, error) {
	switch t := tree.(type) {
	case nil:
		return bson.M{}, nil
	case *toolkit.ConditionTreeBranch:
		if len(t.Conditions) == 0 {
			if t.Aggregator == toolkit.AggregatorOr {
				return matchNothing, nil
			}
			return bson.M{}, nil
		}
		children := make(bson.A, 0, len(t.Conditions))
		for _, c := range t.Conditions {
			child, err := translate(c)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		op := "$and"
		if t.Aggregator == toolkit.AggregatorOr {
			op = "$or"
		}
		return bson.M{op: children}, nil
	case *toolkit.ConditionTreeLeaf:
		return translateLeaf(t)
	default:
		return nil, fmt.Errorf("%w: unsupported condition tree %T", toolkit.ErrValidation, tree)
	}
}

func translateLeaf(l *toolkit.ConditionTreeLeaf) (bson.M, error) {
	f := l.Field
	value := bindValue(f, l.Value)

	switch l.Operator {
	case toolkit.OperatorPresent:
		return bson.M{f: bson.M{"$nin": bson.A{nil, ""}}}, nil
	case toolkit.OperatorBlank:
		return bson.M{f: bson.M{"$in": bson.A{nil, ""}}}, nil
	case toolkit.OperatorMissing:
		return bson.M{f: nil}, nil
	case toolkit.OperatorEqual:
		return bson.M{f: value}, nil
	case toolkit.OperatorNotEqual:
		return bson.M{f: bson.M{"$ne": value}}, nil
	case toolkit.OperatorLessThan:
		return bson.M{f: bson.M{"$lt": value}}, nil
	case toolkit.OperatorGreaterThan:
		return bson.M{f: bson.M{"$gt": value}}, nil
	case toolkit.OperatorIn:
		return bson.M{f: bson.M{"$in": bindList(f, l.Value)}}, nil
	case toolkit.OperatorNotIn:
		return bson.M{f: bson.M{"$nin": bindList(f, l.Value)}}, nil
	case toolkit.OperatorContains:
		return bson.M{f: bson.Regex{Pattern: regexp.QuoteMeta(toString(l.Value))}}, nil
	case toolkit.OperatorNotContains:
		return bson.M{f: bson.M{"$not": bson.Regex{Pattern: regexp.QuoteMeta(toString(l.Value))}}}, nil
	case toolkit.OperatorIContains:
		return bson.M{f: bson.Regex{Pattern: regexp.QuoteMeta(toString(l.Value)), Options: "i"}}, nil
	case toolkit.OperatorStartsWith:
		return bson.M{f: bson.Regex{Pattern: "^" + regexp.QuoteMeta(toString(l.Value))}}, nil
	case toolkit.OperatorEndsWith:
		return bson.M{f: bson.Regex{Pattern: regexp.QuoteMeta(toString(l.Value)) + "$"}}, nil
	case toolkit.OperatorLike:
		return bson.M{f: bson.Regex{Pattern: likePattern(toString(l.Value)), Options: "s"}}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported operator %q", toolkit.ErrValidation, l.Operator)
	}
}

func bindList(field string, raw any) bson.A {
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}
	out := make(bson.A, len(items))
	for i, item := range items {
		out[i] = bindValue(field, item)
	}
	return out
}

// bindValue converts json numbers, and hex strings compared against _id,
// which Mongo stores as ObjectIDs.
func bindValue(field string, v any) any {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case string:
		if field == "_id" {
			if oid, err := bson.ObjectIDFromHex(x); err == nil {
				return oid
			}
		}
		return x
	default:
		return v
	}
}

// likePattern turns a SQL LIKE pattern into an anchored regular expression.
func likePattern(like string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range like {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
