// Package engine manages named index groups: criteria mutation, indexed
// search with validation, import/export, snapshots and ratification.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

// Manager owns the index groups of one process.
// All methods are safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	groups map[string]*groupHandle
	seq    atomic.Uint64

	opts   Options
	logger *slog.Logger
}

// New creates a Manager.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		groups: make(map[string]*groupHandle),
		opts:   DefaultOptions(),
		logger: discardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.opts.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Options returns the bounds the Manager was created with.
func (m *Manager) Options() Options { return m.opts }

func (m *Manager) newHandle(v *groupVersion) *groupHandle {
	return newGroupHandle(m.seq.Add(1), v, m.opts.SampleCapacity)
}

func notFound(op, group string) error {
	return types.NewIndexError(types.KindIndexNotFound, op, group, nil)
}

// lookup returns the handle bound to name.
func (m *Manager) lookup(op, name string) (*groupHandle, error) {
	m.mu.RLock()
	h := m.groups[name]
	m.mu.RUnlock()
	if h == nil {
		return nil, notFound(op, name)
	}
	return h, nil
}

// current returns the published version of a group.
func (m *Manager) current(op, name string) (*groupVersion, *groupHandle, error) {
	h, err := m.lookup(op, name)
	if err != nil {
		return nil, nil, err
	}
	return h.cur.Load(), h, nil
}

// lockGroup returns the handle bound to name with its writer lock held.
// With create set, a missing group is created empty. The binding is
// re-checked after locking because Replace and DropGroup may rebind the
// name while the caller waits.
func (m *Manager) lockGroup(op, name string, create bool) (*groupHandle, error) {
	for {
		m.mu.RLock()
		h := m.groups[name]
		m.mu.RUnlock()

		if h == nil {
			if !create {
				return nil, notFound(op, name)
			}
			m.mu.Lock()
			if m.groups[name] == nil {
				m.groups[name] = m.newHandle(newGroupVersion(m.opts.indexOptions()))
				m.logger.Debug("group created", "group", name)
			}
			m.mu.Unlock()
			continue
		}

		h.mu.Lock()
		m.mu.RLock()
		bound := m.groups[name] == h
		m.mu.RUnlock()
		if bound {
			return h, nil
		}
		h.mu.Unlock()
	}
}

// compileAll compiles a batch, failing on the first invalid criteria.
func compileAll(criteria []types.Criteria) ([]*rules.Compiled, error) {
	out := make([]*rules.Compiled, 0, len(criteria))
	for _, c := range criteria {
		compiled, err := rules.Compile(c)
		if err != nil {
			return nil, fmt.Errorf("criteria %q: %w", c.ID, err)
		}
		out = append(out, compiled)
	}
	return out, nil
}

// Add indexes criteria into group, creating the group when missing.
// Re-adding an id is allowed only when its form, term count and per-term
// predicate counts are unchanged; otherwise the whole batch fails with
// IndexGenerationError and nothing is applied.
func (m *Manager) Add(group string, criteria ...types.Criteria) error {
	return m.write("add", group, criteria, true)
}

// Index is an alias of Add used for bulk seeding.
func (m *Manager) Index(group string, criteria ...types.Criteria) error {
	return m.write("index", group, criteria, true)
}

// Update replaces criteria regardless of shape, creating the group when
// missing.
func (m *Manager) Update(group string, criteria ...types.Criteria) error {
	return m.write("update", group, criteria, false)
}

func (m *Manager) write(op, group string, criteria []types.Criteria, checkShape bool) (err error) {
	defer func() { mutationTotal.WithLabelValues(op, resultLabel(err)).Inc() }()

	compiled, err := compileAll(criteria)
	if err != nil {
		return types.NewIndexError(types.KindIndexGenerationError, op, group, err)
	}

	h, err := m.lockGroup(op, group, true)
	if err != nil {
		return err
	}
	defer h.mu.Unlock()

	mut := h.cur.Load().begin()
	ids := make([]types.CriteriaID, 0, len(compiled))
	for _, c := range compiled {
		if existing, ok := mut.next.criteria[c.ID]; ok && checkShape && !types.SameShape(existing.Source, c.Source) {
			return types.NewIndexError(types.KindIndexGenerationError, op, group,
				fmt.Errorf("criteria %q: shape %s%v conflicts with indexed %s%v; use update",
					c.ID, c.Form, c.Source.Shape(), existing.Form, existing.Source.Shape()))
		}
		mut.put(c)
		ids = append(ids, c.ID)
	}
	next := mut.commit()
	h.cur.Store(next)
	h.track(ids, nil)

	groupCriteria.WithLabelValues(group).Set(float64(len(next.criteria)))
	m.logger.Debug("criteria indexed",
		"op", op,
		"group", group,
		"criteria", len(ids),
		"generation", next.generation)
	return nil
}

// Delete removes criteria by the id of each argument.
func (m *Manager) Delete(group string, criteria ...types.Criteria) error {
	ids := make([]types.CriteriaID, len(criteria))
	for i, c := range criteria {
		ids[i] = c.ID
	}
	return m.DeleteByID(group, ids...)
}

// DeleteByID removes criteria from every level of the group's indexes.
// Unknown ids are ignored.
func (m *Manager) DeleteByID(group string, ids ...types.CriteriaID) (err error) {
	defer func() { mutationTotal.WithLabelValues("delete", resultLabel(err)).Inc() }()

	h, err := m.lockGroup("delete", group, false)
	if err != nil {
		return err
	}
	defer h.mu.Unlock()

	mut := h.cur.Load().begin()
	removed := make([]types.CriteriaID, 0, len(ids))
	for _, id := range ids {
		if mut.remove(id) {
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	next := mut.commit()
	h.cur.Store(next)
	h.track(nil, removed)

	groupCriteria.WithLabelValues(group).Set(float64(len(next.criteria)))
	m.logger.Debug("criteria deleted",
		"group", group,
		"criteria", len(removed),
		"generation", next.generation)
	return nil
}

// DropGroup removes a group and all of its criteria.
func (m *Manager) DropGroup(group string) (err error) {
	defer func() { mutationTotal.WithLabelValues("drop", resultLabel(err)).Inc() }()

	h, err := m.lockGroup("drop", group, false)
	if err != nil {
		return err
	}
	defer h.mu.Unlock()

	m.mu.Lock()
	delete(m.groups, group)
	m.mu.Unlock()

	groupCriteria.DeleteLabelValues(group)
	m.logger.Info("group dropped", "group", group)
	return nil
}

// Replace binds oldName to the group currently bound to newName and
// removes newName. Concurrent readers of either name observe the binding
// before or after the swap, never a missing group in between. When oldName
// does not exist, newName is renamed to oldName.
func (m *Manager) Replace(oldName, newName string) (err error) {
	defer func() { mutationTotal.WithLabelValues("replace", resultLabel(err)).Inc() }()

	if oldName == newName {
		_, err := m.lookup("replace", newName)
		return err
	}

	var moved *groupHandle
	for moved == nil {
		m.mu.RLock()
		oldH, newH := m.groups[oldName], m.groups[newName]
		m.mu.RUnlock()
		if newH == nil {
			return notFound("replace", newName)
		}

		// Handles are locked in creation order so concurrent Replace calls
		// over the same groups cannot deadlock.
		locked := []*groupHandle{newH}
		if oldH != nil {
			if oldH.id < newH.id {
				locked = []*groupHandle{oldH, newH}
			} else {
				locked = []*groupHandle{newH, oldH}
			}
		}
		for _, h := range locked {
			h.mu.Lock()
		}

		m.mu.Lock()
		if m.groups[oldName] == oldH && m.groups[newName] == newH {
			m.groups[oldName] = newH
			delete(m.groups, newName)
			moved = newH
		}
		m.mu.Unlock()

		for _, h := range slices.Backward(locked) {
			h.mu.Unlock()
		}
	}

	groupCriteria.DeleteLabelValues(newName)
	groupCriteria.WithLabelValues(oldName).Set(float64(len(moved.cur.Load().criteria)))
	m.logger.Info("group replaced", "group", oldName, "from", newName)
	return nil
}

// Groups returns the bound group names in sorted order.
func (m *Manager) Groups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.groups))
}

// Lookup returns a criteria of a group as it was added.
func (m *Manager) Lookup(group string, id types.CriteriaID) (types.Criteria, error) {
	v, _, err := m.current("lookup", group)
	if err != nil {
		return types.Criteria{}, err
	}
	c, ok := v.criteria[id]
	if !ok {
		return types.Criteria{}, types.NewIndexError(types.KindIndexNotFound, "lookup", group,
			fmt.Errorf("%w: %q", types.ErrCriteriaNotFound, id))
	}
	return c.Source, nil
}

// Stats describes a group version.
type Stats struct {
	Group      string `json:"group"`
	Generation uint64 `json:"generation"`
	Criteria   int    `json:"criteria"`
	Paths      int    `json:"paths"`
	DNFEntries []int  `json:"dnf_entries"`
	CNFEntries []int  `json:"cnf_entries"`
	Samples    int    `json:"samples"`
}

// Stats returns counters for a group. Entry counts are per level.
func (m *Manager) Stats(group string) (Stats, error) {
	v, h, err := m.current("stats", group)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Group:      group,
		Generation: v.generation,
		Criteria:   len(v.criteria),
		Paths:      len(v.paths),
		DNFEntries: v.dnf.LevelCounts(),
		CNFEntries: v.cnf.LevelCounts(),
		Samples:    h.samples.len(),
	}, nil
}

// IsNotFound reports whether err is an INDEX_NOT_FOUND failure.
func IsNotFound(err error) bool {
	return errors.Is(err, types.ErrIndexNotFound)
}
