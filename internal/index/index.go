// Package index implements the combinatorial inverted index over
// normal-form criteria.
//
// A Leveled index holds the entries of one normal form (DNF or CNF),
// partitioned by combination level. Each level maps field names to exact
// posting lists (roaring bitmaps of entry ids keyed by value) and ordered
// bound lists (score intervals per caveat for RANGE and VERSIONING).
//
// A Leveled value is immutable once published. Mutations go through a Txn
// that clones only the levels, fields, posting lists and bound lists it
// touches, then Commit returns the next version. Readers holding the
// previous version are never affected.
package index

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

// Entry is one indexed Key-set of a term.
type Entry struct {
	types.IndexEntry
	// Required is the number of probe hits that match the entry.
	Required int

	keys []entryKey
}

// Level is the combination level the entry is stored at.
func (e *Entry) Level() int { return e.PredicateCount }

// TermRef identifies one term of one criteria.
type TermRef struct {
	CriteriaID types.CriteriaID
	Term       int
}

type fieldIndex struct {
	exact   map[types.Value]*roaring.Bitmap
	ordered map[types.Caveat]*boundList
}

func (f *fieldIndex) empty() bool {
	return len(f.exact) == 0 && len(f.ordered) == 0
}

type level struct {
	fields  map[string]*fieldIndex
	entries int
}

// Leveled is an immutable index version for one normal form.
type Leveled struct {
	form       types.Form
	opts       Options
	levels     []*level
	entries    []*Entry // by id; nil slots are free
	free       []uint32
	byCriteria map[types.CriteriaID][]uint32
	live       int
}

// New returns an empty index for form.
func New(form types.Form, opts Options) *Leveled {
	return &Leveled{
		form:       form,
		opts:       opts.normalized(),
		levels:     []*level{newLevel()},
		byCriteria: make(map[types.CriteriaID][]uint32),
	}
}

func newLevel() *level {
	return &level{fields: make(map[string]*fieldIndex)}
}

// Form returns the normal form this index holds.
func (ix *Leveled) Form() types.Form { return ix.form }

// Options returns the generation bounds.
func (ix *Leveled) Options() Options { return ix.opts }

// Len returns the number of live entries.
func (ix *Leveled) Len() int { return ix.live }

// Has reports whether the index holds entries for id.
func (ix *Leveled) Has(id types.CriteriaID) bool {
	return len(ix.byCriteria[id]) > 0
}

// Entries returns the entries of a criteria.
func (ix *Leveled) Entries(id types.CriteriaID) []*Entry {
	ids := ix.byCriteria[id]
	out := make([]*Entry, 0, len(ids))
	for _, eid := range ids {
		out = append(out, ix.entries[eid])
	}
	return out
}

// CriteriaIDs returns every criteria id with entries.
func (ix *Leveled) CriteriaIDs() []types.CriteriaID {
	out := make([]types.CriteriaID, 0, len(ix.byCriteria))
	for id := range ix.byCriteria {
		out = append(out, id)
	}
	return out
}

// LevelCounts returns the number of entries stored at each level.
func (ix *Leveled) LevelCounts() []int {
	counts := make([]int, len(ix.levels))
	for k, lvl := range ix.levels {
		counts[k] = lvl.entries
	}
	return counts
}

// Match returns the ids of entries whose every key is hit by fields.
// Level-0 sentinel entries always match.
func (ix *Leveled) Match(fields rules.Fields) []uint32 {
	hits := make(map[uint32]int)
	var matched []uint32

	count := func(id uint32) {
		hits[id]++
		if hits[id] == ix.entries[id].Required {
			matched = append(matched, id)
		}
	}

	sentinel := types.SentinelKey()
	for _, lvl := range ix.levels {
		if fi := lvl.fields[sentinel.Name]; fi != nil {
			if bm := fi.exact[sentinel.Value]; bm != nil {
				bm.Iterate(func(id uint32) bool {
					count(id)
					return true
				})
			}
		}
		for name, v := range fields {
			fi := lvl.fields[name]
			if fi == nil {
				continue
			}
			if bm := fi.exact[v]; bm != nil {
				bm.Iterate(func(id uint32) bool {
					count(id)
					return true
				})
			}
			for caveat, list := range fi.ordered {
				score, ok := rules.OrderedScore(caveat, v)
				if !ok {
					continue
				}
				list.probe(score, v, count)
			}
		}
	}
	return matched
}

// Candidates returns the terms with at least one matched entry.
func (ix *Leveled) Candidates(fields rules.Fields) map[TermRef]struct{} {
	matched := ix.Match(fields)
	terms := make(map[TermRef]struct{}, len(matched))
	for _, id := range matched {
		e := ix.entries[id]
		terms[TermRef{CriteriaID: e.CriteriaID, Term: e.TermIndex}] = struct{}{}
	}
	return terms
}

// Entry returns the entry with the given id, or nil.
func (ix *Leveled) Entry(id uint32) *Entry {
	if int(id) >= len(ix.entries) {
		return nil
	}
	return ix.entries[id]
}
