// Package query carries structured filters and sort specs between the client
// and the server. The wire form is two URL parameters: mq holds the
// percent-encoded JSON filter and ms the comma-joined sort fields.
package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"reflect"
	"strings"
)

const (
	FilterParam = "mq"
	SortParam   = "ms"
)

// Query maps field names, or dotted paths into nested objects, to filter
// values.
type Query map[string]any

// SortField is one entry of a sort spec.
type SortField struct {
	Field      string
	Descending bool
}

// Params are the transport parameters for one fetch. ID is set instead of
// MQ/MS when the caller asked for a single record by identity.
type Params struct {
	ID string
	MQ string
	MS string
}

// Values returns the URL parameters. An identity lookup has none.
func (p Params) Values() url.Values {
	values := url.Values{}
	if p.ID != "" {
		return values
	}
	values.Set(FilterParam, p.MQ)
	if p.MS != "" {
		values.Set(SortParam, p.MS)
	}
	return values
}

// ErrEmptyID is returned for an identity lookup with an empty id.
var ErrEmptyID = fmt.Errorf("%w: empty record id", ErrBadQuery)

// Encode turns a filter and sort spec into transport parameters.
//
// A string query is an opaque record identity and bypasses structured
// encoding; the empty string is rejected. Any other query goes through
// Fields. The caller's values are never modified.
func Encode(q any, sort []SortField) (Params, error) {
	if id, ok := q.(string); ok {
		if id == "" {
			return Params{}, ErrEmptyID
		}
		return Params{ID: id}, nil
	}
	filter, err := Fields(q)
	if err != nil {
		return Params{}, err
	}

	raw, err := marshalFilter(filter)
	if err != nil {
		return Params{}, err
	}
	params := Params{MQ: EscapeComponent(raw)}

	if len(sort) > 0 {
		fields := make([]string, 0, len(sort))
		for _, field := range sort {
			sign := "+"
			if field.Descending {
				sign = "-"
			}
			fields = append(fields, sign+EscapeComponent(field.Field))
		}
		params.MS = strings.Join(fields, ",")
	}
	return params, nil
}

// Fields returns a fresh copy of an object query. nil is the empty filter.
// Any map keyed by strings counts as an object and is normalised through
// JSON, so map[string]string and named map types filter the same way as
// Query. Every other value is rejected rather than widened to match
// everything.
func Fields(q any) (map[string]any, error) {
	switch v := q.(type) {
	case nil:
		return map[string]any{}, nil
	case Query:
		return cloneFilter(v), nil
	case map[string]any:
		return cloneFilter(v), nil
	}
	rv := reflect.ValueOf(q)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("%w: query must be an object or a record id, got %T", ErrBadQuery, q)
	}
	if rv.IsNil() {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	filter := map[string]any{}
	if err := json.Unmarshal(raw, &filter); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	return filter, nil
}

func cloneFilter(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}

// marshalFilter renders JSON the way a browser's JSON.stringify would: no
// HTML escaping and no trailing newline. Map keys come out sorted, which
// keeps the encoding deterministic.
func marshalFilter(filter map[string]any) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(filter); err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// EscapeComponent percent-encodes s with encodeURIComponent rules: only
// ASCII letters, digits and -_.!~*'() pass through.
func EscapeComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}
