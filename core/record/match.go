package record

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// Normalize converts v into its JSON representation: numbers become float64, times strings, structs maps.
func Normalize(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val, nil
	case time.Time:
		return formatTime(val), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling value")
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrap(err, "unmarshalling value")
	}
	return out, nil
}

// NormalizeConditions validates conds and normalises their values.
func NormalizeConditions(collection string, conds []Condition) ([]Condition, error) {
	out := make([]Condition, 0, len(conds))
	for _, cond := range conds {
		if cond.Field == "" {
			return nil, core.NewQueryError(collection, errors.New("empty field name"))
		}
		if !cond.Op.Valid() {
			return nil, core.NewQueryError(collection, fmt.Errorf("unsupported operator %q", cond.Op))
		}
		val, err := Normalize(cond.Value)
		if err != nil {
			return nil, core.NewQueryError(collection, err)
		}
		if cond.Op == OpIn {
			if _, ok := val.([]interface{}); !ok {
				return nil, core.NewQueryError(collection, fmt.Errorf("%q operator needs a list, got %T", OpIn, cond.Value))
			}
		}
		out = append(out, Condition{Field: cond.Field, Op: cond.Op, Value: val})
	}
	return out, nil
}

// Match reports whether rec satisfies every normalised condition.
// A record lacking a field never matches a condition on that field.
func Match(rec Record, conds []Condition) bool {
	for _, cond := range conds {
		val, ok := rec.Field(cond.Field)
		if !ok || !matchOne(val, cond.Op, cond.Value) {
			return false
		}
	}
	return true
}

func matchOne(val interface{}, op Operator, want interface{}) bool {
	switch op {
	case OpEqual:
		return equal(val, want)
	case OpNotEqual:
		return !equal(val, want)
	case OpIn:
		list, _ := want.([]interface{})
		for _, item := range list {
			if equal(val, item) {
				return true
			}
		}
		return false
	}

	cmp, ok := compare(val, want)
	if !ok {
		return false
	}
	switch op {
	case OpLess:
		return cmp < 0
	case OpLessOrEqual:
		return cmp <= 0
	case OpGreater:
		return cmp > 0
	case OpGreaterOrEqual:
		return cmp >= 0
	default:
		return false
	}
}

func equal(a, b interface{}) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two normalised scalars of the same kind. ok is false for mismatched kinds.
func compare(a, b interface{}) (cmp int, ok bool) {
	switch av := a.(type) {
	case float64:
		bv, isNum := b.(float64)
		if !isNum {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		if at, bt, isTime := parseTimes(av, bv); isTime {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			}
			return 0, true
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case nil:
		if b == nil {
			return 0, true
		}
	}
	return 0, false
}

func parseTimes(a, b string) (time.Time, time.Time, bool) {
	if len(a) < len(time.RFC3339)-5 || len(b) < len(time.RFC3339)-5 {
		return time.Time{}, time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, a)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	bt, err := time.Parse(time.RFC3339Nano, b)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return at, bt, true
}

// Sort orders records in place. Records missing an ordering field sort last; ties keep their order.
func Sort(records []Record, ordering []core.DBOrdering) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, ord := range ordering {
			cmp, missing := compareField(records[i], records[j], ord.Field)
			if missing != 0 {
				return missing < 0
			}
			if cmp == 0 {
				continue
			}
			if ord.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

// compareField compares field in a and b. missing is -1 when only b lacks the field, 1 when only a does.
func compareField(a, b Record, field string) (cmp, missing int) {
	switch field {
	case FieldCreatedAt:
		return compareTimes(a.CreatedAt, b.CreatedAt), 0
	case FieldUpdatedAt:
		return compareTimes(a.UpdatedAt, b.UpdatedAt), 0
	}
	av, aok := a.Field(field)
	bv, bok := b.Field(field)
	switch {
	case !aok && !bok:
		return 0, 0
	case !aok:
		return 0, 1
	case !bok:
		return 0, -1
	}
	cmp, _ = compare(av, bv)
	return cmp, 0
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
