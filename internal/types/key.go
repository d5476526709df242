package types

import "fmt"

// SentinelName is the field name of the universal sentinel key.
// The leading NUL keeps it out of the path namespace.
const SentinelName = "\x00sentinel"

// Key is the ordering unit of the index.
// Score is a numeric projection of Value enabling ceiling/floor lookups for
// range and version bounds; for exact keys it is derived from Value.
type Key struct {
	Name  string
	Value Value
	Score float64
}

// SentinelKey marks entries that match independently of any field value.
func SentinelKey() Key {
	return Key{Name: SentinelName, Value: Number(0), Score: 0}
}

// ExactKey builds the key for an equality component or request probe.
func ExactKey(name string, v Value) Key {
	return Key{Name: name, Value: v, Score: v.Score()}
}

// IsSentinel reports whether k is the universal sentinel key.
func (k Key) IsSentinel() bool {
	return k.Name == SentinelName
}

func (k Key) String() string {
	if k.IsSentinel() {
		return "<sentinel>"
	}
	return fmt.Sprintf("%s=%s@%g", k.Name, k.Value, k.Score)
}

// IndexEntry references the term an index key belongs to.
// PredicateCount is the number of predicates of the term the entry covers,
// i.e. the combination level the entry is stored at.
type IndexEntry struct {
	CriteriaID     CriteriaID
	TermIndex      int
	PredicateCount int
}
