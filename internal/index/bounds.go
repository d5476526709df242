package index

import (
	"math"
	"slices"

	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

// bound is one ordered component: a score interval owned by an entry.
// pred confirms a hit with the exact detail check.
type bound struct {
	lo, hi float64
	entry  uint32
	pred   *rules.CompiledPredicate
}

// boundList holds the ordered components of one (field, caveat) pair.
//
// Sorted by lo. maxHi[i] is the largest hi among bounds[0..i], which lets a
// probe walk down from the floor of the query score and stop as soon as no
// earlier bound can still cover it.
type boundList struct {
	bounds []bound
	maxHi  []float64
}

func (l *boundList) clone() *boundList {
	return &boundList{
		bounds: slices.Clone(l.bounds),
		maxHi:  slices.Clone(l.maxHi),
	}
}

// rebuild drops bounds of removed entries, re-sorts and recomputes maxHi.
func (l *boundList) rebuild(removed map[uint32]struct{}) {
	if len(removed) > 0 {
		l.bounds = slices.DeleteFunc(l.bounds, func(b bound) bool {
			_, gone := removed[b.entry]
			return gone
		})
	}
	slices.SortStableFunc(l.bounds, func(a, b bound) int {
		switch {
		case a.lo < b.lo:
			return -1
		case a.lo > b.lo:
			return 1
		case a.entry < b.entry:
			return -1
		case a.entry > b.entry:
			return 1
		}
		return 0
	})

	l.maxHi = l.maxHi[:0]
	running := math.Inf(-1)
	for _, b := range l.bounds {
		running = max(running, b.hi)
		l.maxHi = append(l.maxHi, running)
	}
}

// probe calls fn for every entry whose bound covers score and whose
// predicate detail accepts v.
func (l *boundList) probe(score float64, v types.Value, fn func(entry uint32)) {
	// First index with lo > score; everything before has lo <= score.
	i, _ := slices.BinarySearchFunc(l.bounds, score, func(b bound, s float64) int {
		if b.lo <= s {
			return -1
		}
		return 1
	})
	for i--; i >= 0 && l.maxHi[i] >= score; i-- {
		b := l.bounds[i]
		if b.hi >= score && b.pred.MatchValue(v) {
			fn(b.entry)
		}
	}
}

// contains reports whether entry owns a bound covering score that accepts v.
func (l *boundList) contains(entry uint32, score float64, v types.Value) bool {
	hit := false
	l.probe(score, v, func(e uint32) {
		if e == entry {
			hit = true
		}
	})
	return hit
}

func (l *boundList) len() int { return len(l.bounds) }
