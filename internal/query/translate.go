package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Comparison operators accepted inside an operator object such as
// {"age": {"$gte": 18}}.
const (
	OpEq     = "eq"
	OpNe     = "ne"
	OpGt     = "gt"
	OpGte    = "gte"
	OpLt     = "lt"
	OpLte    = "lte"
	OpIn     = "in"
	OpNin    = "nin"
	OpExists = "exists"
	OpRegex  = "regex"
)

var operatorNames = map[string]string{
	"$eq":     OpEq,
	"$ne":     OpNe,
	"$gt":     OpGt,
	"$gte":    OpGte,
	"$lt":     OpLt,
	"$lte":    OpLte,
	"$in":     OpIn,
	"$nin":    OpNin,
	"$exists": OpExists,
}

// Condition is one translated filter term.
type Condition struct {
	Path    string
	Op      string
	Value   any
	Pattern *regexp.Regexp
}

// Filter is a conjunction of conditions.
type Filter []Condition

var (
	jsRegex = regexp.MustCompile(`^/(.*)/([igm]*)$`)
	glob    = regexp.MustCompile(`[?*]`)
	special = regexp.MustCompile(`([\][.+(){}|^$\\])`)
)

// Translate compiles a decoded filter. String values written as /re/flags
// become regular expressions and strings containing * or ? become anchored
// globs; everything else is an exact match.
func Translate(q Query) (Filter, error) {
	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	filter := make(Filter, 0, len(keys))
	for _, key := range keys {
		if key == "" || strings.HasPrefix(key, "$") {
			return nil, fmt.Errorf("%w: unsupported top-level key %q", ErrBadQuery, key)
		}
		conds, err := translateValue(key, q[key])
		if err != nil {
			return nil, err
		}
		filter = append(filter, conds...)
	}
	return filter, nil
}

func translateValue(path string, value any) ([]Condition, error) {
	switch v := value.(type) {
	case string:
		cond, err := translateString(path, v)
		if err != nil {
			return nil, err
		}
		return []Condition{cond}, nil
	case map[string]any:
		if isOperatorObject(v) {
			return translateOperators(path, v)
		}
	}
	normalized, err := normalize(value)
	if err != nil {
		return nil, err
	}
	return []Condition{{Path: path, Op: OpEq, Value: normalized}}, nil
}

func translateString(path, value string) (Condition, error) {
	if m := jsRegex.FindStringSubmatch(value); m != nil {
		flags := ""
		for _, letter := range m[2] {
			switch letter {
			case 'i':
				flags += "i"
			case 'm':
				flags += "m"
			}
		}
		pattern := m[1]
		if flags != "" {
			pattern = "(?" + flags + ")" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: %v", ErrBadQuery, err)
		}
		return Condition{Path: path, Op: OpRegex, Pattern: re}, nil
	}

	if glob.MatchString(value) {
		escaped := special.ReplaceAllString(value, `\$1`)
		escaped = strings.NewReplacer("*", ".*", "?", ".?").Replace(escaped)
		if re, err := regexp.Compile("^" + escaped + "$"); err == nil {
			return Condition{Path: path, Op: OpRegex, Pattern: re}, nil
		}
	}
	return Condition{Path: path, Op: OpEq, Value: value}, nil
}

func isOperatorObject(v map[string]any) bool {
	if len(v) == 0 {
		return false
	}
	for key := range v {
		if !strings.HasPrefix(key, "$") {
			return false
		}
	}
	return true
}

func translateOperators(path string, ops map[string]any) ([]Condition, error) {
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	conds := make([]Condition, 0, len(ops))
	for _, name := range names {
		op, ok := operatorNames[name]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported operator %q", ErrBadQuery, name)
		}
		value, err := normalize(ops[name])
		if err != nil {
			return nil, err
		}
		switch op {
		case OpIn, OpNin:
			if _, ok := value.([]any); !ok {
				return nil, fmt.Errorf("%w: %s needs an array", ErrBadQuery, name)
			}
		case OpExists:
			if _, ok := value.(bool); !ok {
				return nil, fmt.Errorf("%w: %s needs a boolean", ErrBadQuery, name)
			}
		}
		conds = append(conds, Condition{Path: path, Op: op, Value: value})
	}
	return conds, nil
}

// normalize puts a value into the shape encoding/json decodes to, so that
// comparisons against stored documents are like for like.
func normalize(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	return out, nil
}

// Restrict prunes a filter for restricted readers: operator keys and
// non-scalar values are dropped.
func Restrict(q Query) Query {
	restricted := Query{}
	for key, value := range q {
		if strings.HasPrefix(key, "$") {
			continue
		}
		switch value.(type) {
		case string, float64, int, int64, json.Number:
			restricted[key] = value
		}
	}
	return restricted
}
