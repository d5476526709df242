package index

import (
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

/*
 * Copy-on-write transaction over a Leveled index.
 *
 * Begin shallow-copies the top-level tables (level slice, entry table,
 * criteria map). Everything below is shared with the base version until a
 * write touches it; the first touch clones the object and records it in
 * owned, so later writes in the same transaction mutate the clone in place.
 *
 * Bound lists are appended to unsorted during the transaction and marked
 * dirty. Commit filters removed entries out of dirty lists, re-sorts them and
 * recomputes prefix maxima. Entry ids released by Remove are only returned
 * to the free list at Commit, so an id is never reused while a dirty list
 * may still hold a bound for it.
 */

// Txn builds the next version of a Leveled index.
type Txn struct {
	next    *Leveled
	owned   map[any]struct{}
	dirty   map[*boundList]struct{}
	removed map[uint32]struct{}
	done    bool
}

// Begin starts a transaction on top of ix. ix itself is never modified.
func (ix *Leveled) Begin() *Txn {
	return &Txn{
		next: &Leveled{
			form:       ix.form,
			opts:       ix.opts,
			levels:     slices.Clone(ix.levels),
			entries:    slices.Clone(ix.entries),
			free:       slices.Clone(ix.free),
			byCriteria: maps.Clone(ix.byCriteria),
			live:       ix.live,
		},
		owned:   make(map[any]struct{}),
		dirty:   make(map[*boundList]struct{}),
		removed: make(map[uint32]struct{}),
	}
}

// Insert indexes every term of c, replacing entries already held for c.ID.
// It returns the number of entries created.
func (t *Txn) Insert(c *rules.Compiled) int {
	t.mustBeOpen()
	t.Remove(c.ID)

	ids := make([]uint32, 0, len(c.Terms))
	for _, term := range c.Terms {
		for _, spec := range planTerm(t.next.form, term, t.next.opts) {
			id := t.alloc()
			e := &Entry{
				IndexEntry: types.IndexEntry{
					CriteriaID:     c.ID,
					TermIndex:      term.Index,
					PredicateCount: spec.level,
				},
				Required: spec.required(),
				keys:     spec.keys,
			}
			t.next.entries[id] = e
			for _, k := range e.keys {
				t.addKey(spec.level, id, k)
			}
			t.level(spec.level).entries++
			ids = append(ids, id)
		}
	}
	t.next.byCriteria[c.ID] = ids
	t.next.live += len(ids)
	return len(ids)
}

// Remove drops every entry of id. It returns the number of entries removed.
func (t *Txn) Remove(id types.CriteriaID) int {
	t.mustBeOpen()
	ids, ok := t.next.byCriteria[id]
	if !ok {
		return 0
	}
	for _, eid := range ids {
		e := t.next.entries[eid]
		for _, k := range e.keys {
			t.removeKey(e.Level(), eid, k)
		}
		t.level(e.Level()).entries--
		t.next.entries[eid] = nil
		t.removed[eid] = struct{}{}
	}
	delete(t.next.byCriteria, id)
	t.next.live -= len(ids)
	return len(ids)
}

// Commit finalizes the transaction and returns the new version.
func (t *Txn) Commit() *Leveled {
	t.mustBeOpen()
	t.done = true

	for list := range t.dirty {
		list.rebuild(t.removed)
	}

	for obj := range t.owned {
		fi, ok := obj.(*fieldIndex)
		if !ok {
			continue
		}
		for caveat, list := range fi.ordered {
			if list.len() == 0 {
				delete(fi.ordered, caveat)
			}
		}
	}
	for obj := range t.owned {
		lvl, ok := obj.(*level)
		if !ok {
			continue
		}
		for name, fi := range lvl.fields {
			if fi.empty() {
				delete(lvl.fields, name)
			}
		}
	}

	// Highest levels with no entries left are dropped; level 0 always exists.
	for n := len(t.next.levels); n > 1 && t.next.levels[n-1].entries == 0; n-- {
		t.next.levels = t.next.levels[:n-1]
	}

	for id := range t.removed {
		t.next.free = append(t.next.free, id)
	}
	slices.Sort(t.next.free)
	return t.next
}

func (t *Txn) mustBeOpen() {
	if t.done {
		panic("index: transaction already committed")
	}
}

func (t *Txn) alloc() uint32 {
	if n := len(t.next.free); n > 0 {
		id := t.next.free[n-1]
		t.next.free = t.next.free[:n-1]
		return id
	}
	t.next.entries = append(t.next.entries, nil)
	return uint32(len(t.next.entries) - 1)
}

func (t *Txn) own(obj any) bool {
	_, ok := t.owned[obj]
	return ok
}

// level returns a writable level k, growing the level table as needed.
func (t *Txn) level(k int) *level {
	for len(t.next.levels) <= k {
		lvl := newLevel()
		t.owned[lvl] = struct{}{}
		t.next.levels = append(t.next.levels, lvl)
	}
	lvl := t.next.levels[k]
	if t.own(lvl) {
		return lvl
	}
	c := &level{fields: maps.Clone(lvl.fields), entries: lvl.entries}
	t.owned[c] = struct{}{}
	t.next.levels[k] = c
	return c
}

// field returns a writable field index for name at level k.
func (t *Txn) field(k int, name string) *fieldIndex {
	lvl := t.level(k)
	fi, ok := lvl.fields[name]
	switch {
	case !ok:
		fi = &fieldIndex{
			exact:   make(map[types.Value]*roaring.Bitmap),
			ordered: make(map[types.Caveat]*boundList),
		}
	case t.own(fi):
		return fi
	default:
		fi = &fieldIndex{exact: maps.Clone(fi.exact), ordered: maps.Clone(fi.ordered)}
	}
	t.owned[fi] = struct{}{}
	lvl.fields[name] = fi
	return fi
}

func (t *Txn) postings(fi *fieldIndex, v types.Value) *roaring.Bitmap {
	bm, ok := fi.exact[v]
	switch {
	case !ok:
		bm = roaring.New()
	case t.own(bm):
		return bm
	default:
		bm = bm.Clone()
	}
	t.owned[bm] = struct{}{}
	fi.exact[v] = bm
	return bm
}

func (t *Txn) bounds(fi *fieldIndex, caveat types.Caveat) *boundList {
	list, ok := fi.ordered[caveat]
	switch {
	case !ok:
		list = &boundList{}
	case t.own(list):
		return list
	default:
		list = list.clone()
	}
	t.owned[list] = struct{}{}
	t.dirty[list] = struct{}{}
	fi.ordered[caveat] = list
	return list
}

func (t *Txn) addKey(k int, id uint32, key entryKey) {
	if key.exact {
		t.postings(t.field(k, key.key.Name), key.key.Value).Add(id)
		return
	}
	list := t.bounds(t.field(k, key.field), key.caveat)
	list.bounds = append(list.bounds, bound{lo: key.lo, hi: key.hi, entry: id, pred: key.cp})
}

func (t *Txn) removeKey(k int, id uint32, key entryKey) {
	if key.exact {
		fi := t.field(k, key.key.Name)
		if _, ok := fi.exact[key.key.Value]; !ok {
			return
		}
		bm := t.postings(fi, key.key.Value)
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(fi.exact, key.key.Value)
		}
		return
	}
	fi := t.field(k, key.field)
	if _, ok := fi.ordered[key.caveat]; ok {
		t.bounds(fi, key.caveat)
	}
}
