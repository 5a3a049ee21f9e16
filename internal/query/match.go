package query

import (
	"reflect"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Match reports whether the JSON document raw satisfies every condition.
// Dotted paths reach into nested objects; a condition on an array field
// matches when any element matches.
func Match(raw []byte, filter Filter) bool {
	for _, cond := range filter {
		if !matchCondition(gjson.GetBytes(raw, escapePath(cond.Path)), cond) {
			return false
		}
	}
	return true
}

func matchCondition(res gjson.Result, cond Condition) bool {
	switch cond.Op {
	case OpExists:
		want, _ := cond.Value.(bool)
		return res.Exists() == want
	case OpNe:
		return !equalOrContains(res, cond.Value)
	case OpNin:
		for _, candidate := range cond.Value.([]any) {
			if equalOrContains(res, candidate) {
				return false
			}
		}
		return true
	}

	if !res.Exists() {
		return false
	}
	switch cond.Op {
	case OpRegex:
		return anyElement(res, func(r gjson.Result) bool {
			return cond.Pattern.MatchString(r.String())
		})
	case OpEq:
		return equalOrContains(res, cond.Value)
	case OpIn:
		for _, candidate := range cond.Value.([]any) {
			if equalOrContains(res, candidate) {
				return true
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		return anyElement(res, func(r gjson.Result) bool {
			value := r.Value()
			if typeRank(value) != typeRank(cond.Value) {
				return false
			}
			c := Compare(value, cond.Value)
			switch cond.Op {
			case OpGt:
				return c > 0
			case OpGte:
				return c >= 0
			case OpLt:
				return c < 0
			default:
				return c <= 0
			}
		})
	}
	return false
}

func equalOrContains(res gjson.Result, want any) bool {
	if !res.Exists() {
		return false
	}
	if reflect.DeepEqual(res.Value(), want) {
		return true
	}
	if _, wantArray := want.([]any); res.IsArray() && !wantArray {
		for _, elem := range res.Array() {
			if reflect.DeepEqual(elem.Value(), want) {
				return true
			}
		}
	}
	return false
}

func anyElement(res gjson.Result, fn func(gjson.Result) bool) bool {
	if res.IsArray() {
		for _, elem := range res.Array() {
			if fn(elem) {
				return true
			}
		}
		return false
	}
	return fn(res)
}

// Lookup returns the value at a dotted path of a JSON document.
func Lookup(raw []byte, path string) (any, bool) {
	res := gjson.GetBytes(raw, escapePath(path))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// escapePath protects gjson wildcard and modifier characters inside each
// dotted component so field names are matched literally.
func escapePath(path string) string {
	if !strings.ContainsAny(path, `*?|#@\!=<>~%`) {
		return path
	}
	var b strings.Builder
	for _, r := range path {
		if strings.ContainsRune(`*?|#@\!=<>~%`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// typeRank orders JSON kinds: null, numbers, strings, objects, arrays,
// booleans.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case map[string]any:
		return 3
	case []any:
		return 4
	case bool:
		return 5
	default:
		return 6
	}
}

// Compare orders two decoded JSON values, first by kind then by value.
func Compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case string:
		return strings.Compare(av, b.(string))
	case bool:
		bv := b.(bool)
		if av != bv {
			if !av {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Sortable pairs a decoded document with its JSON encoding.
type Sortable struct {
	Raw []byte
	Doc map[string]any
}

// SortDocuments orders docs in place by spec. Missing fields sort as null.
func SortDocuments(docs []Sortable, spec []SortField) {
	if len(spec) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range spec {
			a, _ := Lookup(docs[i].Raw, field.Field)
			b, _ := Lookup(docs[j].Raw, field.Field)
			c := Compare(a, b)
			if c == 0 {
				continue
			}
			if field.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
