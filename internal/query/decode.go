package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var ErrBadQuery = errors.New("bad query")

// DecodeFilter reverses the mq encoding. An empty parameter or a JSON null
// is the empty filter.
func DecodeFilter(mq string) (Query, error) {
	if strings.TrimSpace(mq) == "" {
		return Query{}, nil
	}
	raw, err := url.PathUnescape(mq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	var filter Query
	if err := json.Unmarshal([]byte(raw), &filter); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	if filter == nil {
		filter = Query{}
	}
	return filter, nil
}

// DecodeSort reverses the ms encoding. A sign that arrives as a space was a
// literal '+' that went through form decoding.
func DecodeSort(ms string) ([]SortField, error) {
	if ms == "" {
		return nil, nil
	}
	parts := strings.Split(ms, ",")
	fields := make([]SortField, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		var descending bool
		switch part[0] {
		case '+', ' ':
		case '-':
			descending = true
		default:
			return nil, fmt.Errorf("%w: sort field %q has no direction", ErrBadQuery, part)
		}
		name, err := url.PathUnescape(part[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
		}
		if name == "" {
			return nil, fmt.Errorf("%w: empty sort field", ErrBadQuery)
		}
		fields = append(fields, SortField{Field: name, Descending: descending})
	}
	return fields, nil
}

var rangeHeader = regexp.MustCompile(`items=(\d+)-(\d+)`)

// ParseRange reads a "Range: items=start-stop" header. stop is inclusive.
func ParseRange(header string) (start, stop int, ok bool) {
	m := rangeHeader.FindStringSubmatch(header)
	if m == nil {
		return 0, 0, false
	}
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	stop, err = strconv.Atoi(m[2])
	if err != nil || stop < start {
		return 0, 0, false
	}
	return start, stop, true
}
