package engine

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/solatis/critidx/internal/index"
	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

/*
 * Index groups.
 *
 * A groupHandle is the stable identity of a group; the name -> handle map
 * lives in Manager. The handle publishes immutable groupVersions through an
 * atomic pointer: readers Load once and work on that version for the whole
 * call, so they never see a half-applied mutation.
 *
 * Writers serialize on handle.mu, build the next version with copy-on-write
 * index transactions and Store it. Writers of different groups never
 * contend.
 *
 * Ratification bookkeeping (criteria touched or deleted since the last full
 * run) sits under its own mutex so Ratify never waits on a writer.
 */

type groupVersion struct {
	generation uint64
	criteria   map[types.CriteriaID]*rules.Compiled
	dnf        *index.Leveled
	cnf        *index.Leveled

	// paths holds every request path referenced by the group, refcounted
	// so a search resolves each path once.
	paths    map[string]rules.Path
	pathRefs map[string]int
}

func newGroupVersion(opts index.Options) *groupVersion {
	return &groupVersion{
		criteria: make(map[types.CriteriaID]*rules.Compiled),
		dnf:      index.New(types.FormDNF, opts),
		cnf:      index.New(types.FormCNF, opts),
		paths:    make(map[string]rules.Path),
		pathRefs: make(map[string]int),
	}
}

func (v *groupVersion) indexFor(f types.Form) *index.Leveled {
	if f == types.FormCNF {
		return v.cnf
	}
	return v.dnf
}

func (v *groupVersion) resolve(doc any) rules.Fields {
	return rules.ResolveFields(doc, v.paths)
}

// ids returns the criteria ids in sorted order.
func (v *groupVersion) ids() []types.CriteriaID {
	return slices.Sorted(maps.Keys(v.criteria))
}

// sources returns the criteria as added, sorted by id.
func (v *groupVersion) sources() []types.Criteria {
	out := make([]types.Criteria, 0, len(v.criteria))
	for _, id := range v.ids() {
		out = append(out, v.criteria[id].Source)
	}
	return out
}

// mutation builds the successor of a groupVersion.
type mutation struct {
	next *groupVersion
	dnf  *index.Txn
	cnf  *index.Txn
}

func (v *groupVersion) begin() *mutation {
	return &mutation{
		next: &groupVersion{
			generation: v.generation + 1,
			criteria:   maps.Clone(v.criteria),
			dnf:        v.dnf,
			cnf:        v.cnf,
			paths:      maps.Clone(v.paths),
			pathRefs:   maps.Clone(v.pathRefs),
		},
	}
}

func (m *mutation) txn(f types.Form) *index.Txn {
	if f == types.FormCNF {
		if m.cnf == nil {
			m.cnf = m.next.cnf.Begin()
		}
		return m.cnf
	}
	if m.dnf == nil {
		m.dnf = m.next.dnf.Begin()
	}
	return m.dnf
}

// put inserts or replaces a compiled criteria.
func (m *mutation) put(c *rules.Compiled) {
	if old, ok := m.next.criteria[c.ID]; ok {
		m.remove(old.ID)
	}
	m.txn(c.Form).Insert(c)
	m.next.criteria[c.ID] = c
	for name, p := range c.Paths() {
		m.next.pathRefs[name]++
		m.next.paths[name] = p
	}
}

// remove drops a criteria. It reports whether the id was present.
func (m *mutation) remove(id types.CriteriaID) bool {
	old, ok := m.next.criteria[id]
	if !ok {
		return false
	}
	m.txn(old.Form).Remove(id)
	delete(m.next.criteria, id)
	for name := range old.Paths() {
		if m.next.pathRefs[name]--; m.next.pathRefs[name] <= 0 {
			delete(m.next.pathRefs, name)
			delete(m.next.paths, name)
		}
	}
	return true
}

func (m *mutation) commit() *groupVersion {
	if m.dnf != nil {
		m.next.dnf = m.dnf.Commit()
	}
	if m.cnf != nil {
		m.next.cnf = m.cnf.Commit()
	}
	return m.next
}

// sampleRing remembers the most recent searched request documents.
type sampleRing struct {
	mu   sync.Mutex
	docs []any
	next int
	full bool
}

func newSampleRing(capacity int) *sampleRing {
	if capacity <= 0 {
		return nil
	}
	return &sampleRing{docs: make([]any, capacity)}
}

func (r *sampleRing) add(doc any) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[r.next] = doc
	r.next++
	if r.next == len(r.docs) {
		r.next = 0
		r.full = true
	}
}

// snapshot returns the samples oldest first.
func (r *sampleRing) snapshot() []any {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return slices.Clone(r.docs[:r.next])
	}
	return append(slices.Clone(r.docs[r.next:]), r.docs[:r.next]...)
}

func (r *sampleRing) len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.docs)
	}
	return r.next
}

type groupHandle struct {
	id  uint64
	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[groupVersion]

	samples *sampleRing
	result  atomic.Pointer[types.RatificationResult]

	trackMu sync.Mutex
	touched map[types.CriteriaID]struct{}
	deleted map[types.CriteriaID]struct{}
}

func newGroupHandle(id uint64, v *groupVersion, sampleCapacity int) *groupHandle {
	h := &groupHandle{
		id:      id,
		samples: newSampleRing(sampleCapacity),
		touched: make(map[types.CriteriaID]struct{}),
		deleted: make(map[types.CriteriaID]struct{}),
	}
	h.cur.Store(v)
	return h
}

func (h *groupHandle) track(put []types.CriteriaID, removed []types.CriteriaID) {
	h.trackMu.Lock()
	defer h.trackMu.Unlock()
	for _, id := range put {
		h.touched[id] = struct{}{}
		delete(h.deleted, id)
	}
	for _, id := range removed {
		delete(h.touched, id)
		h.deleted[id] = struct{}{}
	}
}

// pending returns the touched and deleted sets; reset clears them.
func (h *groupHandle) pending(reset bool) (touched, deleted []types.CriteriaID) {
	h.trackMu.Lock()
	defer h.trackMu.Unlock()
	touched = slices.Sorted(maps.Keys(h.touched))
	deleted = slices.Sorted(maps.Keys(h.deleted))
	if reset {
		clear(h.touched)
		clear(h.deleted)
	}
	return touched, deleted
}
