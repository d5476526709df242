package index

import (
	"cmp"
	"slices"
	"strconv"

	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

// KeyProbe reports how one predicate of a term relates to the index.
type KeyProbe struct {
	// Indexed is true when at least one entry of the term carries a key of
	// the predicate.
	Indexed bool
	// KeyHit is true when one of those keys is present in the index and
	// covers the request value.
	KeyHit bool
}

// Explain probes the stored keys of one term of criteria id against fields,
// keyed by source predicate index. Sentinel entries are reported under -1.
func (ix *Leveled) Explain(id types.CriteriaID, term int, fields rules.Fields) map[int]KeyProbe {
	out := make(map[int]KeyProbe)
	for _, eid := range ix.byCriteria[id] {
		e := ix.entries[eid]
		if e.TermIndex != term {
			continue
		}
		for _, k := range e.keys {
			probe := out[k.pred]
			probe.Indexed = true
			if ix.keyHit(e.Level(), eid, k, fields) {
				probe.KeyHit = true
			}
			out[k.pred] = probe
		}
	}
	return out
}

func (ix *Leveled) keyHit(k int, eid uint32, key entryKey, fields rules.Fields) bool {
	if k >= len(ix.levels) {
		return false
	}
	lvl := ix.levels[k]

	if key.exact {
		if !key.key.IsSentinel() {
			v, ok := fields.Get(key.key.Name)
			if !ok || v != key.key.Value {
				return false
			}
		}
		fi := lvl.fields[key.key.Name]
		if fi == nil {
			return false
		}
		bm := fi.exact[key.key.Value]
		return bm != nil && bm.Contains(eid)
	}

	v, ok := fields.Get(key.field)
	if !ok {
		return false
	}
	fi := lvl.fields[key.field]
	if fi == nil || fi.ordered[key.caveat] == nil {
		return false
	}
	score, ok := rules.OrderedScore(key.caveat, v)
	if !ok {
		return false
	}
	return fi.ordered[key.caveat].contains(eid, score, v)
}

// Posting references the term an entry belongs to.
type Posting struct {
	CriteriaID types.CriteriaID `json:"criteria_id"`
	Term       int              `json:"term"`
	Entry      uint32           `json:"entry"`
}

// KeySnapshot is one key of a level with the entries stored under it.
type KeySnapshot struct {
	Field    string    `json:"field"`
	Caveat   string    `json:"caveat"`
	Key      string    `json:"key"`
	Postings []Posting `json:"postings"`
}

// LevelSnapshot lists the keys of one level.
type LevelSnapshot struct {
	Level   int           `json:"level"`
	Entries int           `json:"entries"`
	Keys    []KeySnapshot `json:"keys"`
}

// Snapshot is a diagnostic dump of a Leveled index.
type Snapshot struct {
	Form    string          `json:"form"`
	Entries int             `json:"entries"`
	Levels  []LevelSnapshot `json:"levels"`
}

// Dump renders the index in a deterministic order.
func (ix *Leveled) Dump() Snapshot {
	snap := Snapshot{Form: ix.form.String(), Entries: ix.live}

	posting := func(eid uint32) Posting {
		e := ix.entries[eid]
		return Posting{CriteriaID: e.CriteriaID, Term: e.TermIndex, Entry: eid}
	}

	for k, lvl := range ix.levels {
		ls := LevelSnapshot{Level: k, Entries: lvl.entries, Keys: []KeySnapshot{}}
		for name, fi := range lvl.fields {
			for v, bm := range fi.exact {
				ks := KeySnapshot{
					Field:  fieldLabel(name),
					Caveat: types.CaveatEquality.String(),
					Key:    types.ExactKey(name, v).String(),
				}
				for _, eid := range bm.ToArray() {
					ks.Postings = append(ks.Postings, posting(eid))
				}
				ls.Keys = append(ls.Keys, ks)
			}
			for caveat, list := range fi.ordered {
				for _, b := range list.bounds {
					ls.Keys = append(ls.Keys, KeySnapshot{
						Field:    fieldLabel(name),
						Caveat:   caveat.String(),
						Key:      "[" + formatScore(b.lo) + ", " + formatScore(b.hi) + "]",
						Postings: []Posting{posting(b.entry)},
					})
				}
			}
		}
		slices.SortFunc(ls.Keys, func(a, b KeySnapshot) int {
			return cmp.Or(
				cmp.Compare(a.Field, b.Field),
				cmp.Compare(a.Caveat, b.Caveat),
				cmp.Compare(a.Key, b.Key),
				cmp.Compare(a.Postings[0].Entry, b.Postings[0].Entry),
			)
		})
		snap.Levels = append(snap.Levels, ls)
	}
	return snap
}

func fieldLabel(name string) string {
	if name == types.SentinelName {
		return "*"
	}
	return name
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
