package auth

import (
	"sort"
	"strings"
)

// Mode is a set of capability letters kept in canonical (sorted, unique)
// order. Each letter is an independent flag.
type Mode string

const (
	Create         Mode = "c"
	Read           Mode = "Rr"
	RestrictedRead Mode = "R"
	Update         Mode = "u"
	Delete         Mode = "d"
	// Override allows writing records owned by other users.
	Override Mode = "O"
)

var (
	// CollectionSet holds the letters that may be granted on a collection.
	CollectionSet = NewMode("crRudO")
	// DatabaseSet holds the letters that may be granted on a whole database,
	// requested with collection "*".
	DatabaseSet = NewMode("rRd")
)

// NewMode builds a canonical Mode from arbitrary letters.
func NewMode(letters string) Mode {
	seen := make(map[rune]struct{}, len(letters))
	runes := make([]rune, 0, len(letters))
	for _, r := range letters {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })
	return Mode(runes)
}

// Intersect returns the letters present in both modes.
func (m Mode) Intersect(other Mode) Mode {
	var b strings.Builder
	for _, r := range string(NewMode(string(m))) {
		if strings.ContainsRune(string(other), r) {
			b.WriteRune(r)
		}
	}
	return Mode(b.String())
}

// Has reports whether every letter of want is granted.
func (m Mode) Has(want Mode) bool {
	for _, r := range string(want) {
		if !strings.ContainsRune(string(m), r) {
			return false
		}
	}
	return true
}

// Allows reports whether at least one letter of want is granted.
func (m Mode) Allows(want Mode) bool {
	return m.Intersect(want) != ""
}

// Restricted reports whether reads are limited to restricted lookups, i.e.
// the mode carries R but not r.
func (m Mode) Restricted() bool {
	return m.Intersect(Read) == RestrictedRead
}

func (m Mode) String() string {
	return string(m)
}
