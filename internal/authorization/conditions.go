// ABOUTME: Groups role conditions by a content hash so equal rules are counted once
// ABOUTME: The hash is a canonical serialization fed to blake3

package authorization

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strconv"

	"github.com/zeebo/blake3"
)

// ConditionGroup is a set of roles sharing one condition.
type ConditionGroup struct {
	RoleIDs   []int
	Condition RawCondition
}

// GroupRoleConditions merges roles whose conditions hash identically. Groups
// keep the order in which their first role appears.
func GroupRoleConditions(conditions []RoleCondition) []ConditionGroup {
	var groups []ConditionGroup
	index := make(map[string]int, len(conditions))

	for _, rc := range conditions {
		hash := HashCondition(rc.Condition)
		if i, ok := index[hash]; ok {
			groups[i].RoleIDs = append(groups[i].RoleIDs, rc.RoleID)
			continue
		}
		index[hash] = len(groups)
		groups = append(groups, ConditionGroup{RoleIDs: []int{rc.RoleID}, Condition: rc.Condition})
	}
	return groups
}

// HashCondition returns a hex digest of a canonical form of condition.
//
// Object keys are sorted, every numeric type is written the same way
// (so 16, int64(16), 16.0 and json.Number("16") agree) and list order is
// kept. Equal hashes mean structurally equal conditions, which is a
// heuristic for equal predicates, not a proof.
func HashCondition(condition any) string {
	h := blake3.New()
	writeCanonical(h, condition)
	return hex.EncodeToString(h.Sum(nil))
}

func writeCanonical(w io.Writer, v any) {
	switch x := v.(type) {
	case nil:
		io.WriteString(w, "n;")
		return
	case string:
		fmt.Fprintf(w, "s%d:%s;", len(x), x)
		return
	case bool:
		fmt.Fprintf(w, "b%t;", x)
		return
	case json.Number:
		if f, err := x.Float64(); err == nil {
			writeNumber(w, f)
			return
		}
		fmt.Fprintf(w, "s%d:%s;", len(x), x)
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeNumber(w, float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		writeNumber(w, float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		writeNumber(w, rv.Float())
	case reflect.String:
		s := rv.String()
		fmt.Fprintf(w, "s%d:%s;", len(s), s)
	case reflect.Slice, reflect.Array:
		fmt.Fprintf(w, "a%d[", rv.Len())
		for i := range rv.Len() {
			writeCanonical(w, rv.Index(i).Interface())
		}
		io.WriteString(w, "]")
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		values := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			keys = append(keys, k)
			values[k] = iter.Value().Interface()
		}
		slices.Sort(keys)
		fmt.Fprintf(w, "o%d{", len(keys))
		for _, k := range keys {
			fmt.Fprintf(w, "s%d:%s;", len(k), k)
			writeCanonical(w, values[k])
		}
		io.WriteString(w, "}")
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			io.WriteString(w, "n;")
			return
		}
		writeCanonical(w, rv.Elem().Interface())
	default:
		fmt.Fprintf(w, "v%v;", v)
	}
}

func writeNumber(w io.Writer, f float64) {
	fmt.Fprintf(w, "d%s;", strconv.FormatFloat(f, 'g', -1, 64))
}
