package engine

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/solatis/critidx/internal/codec"
	"github.com/solatis/critidx/internal/index"
	"github.com/solatis/critidx/internal/types"
)

// Export serializes the criteria of a group as a codec.Export document.
func (m *Manager) Export(group string) ([]byte, error) {
	v, _, err := m.current("export", group)
	if err != nil {
		return nil, err
	}
	data, err := codec.MarshalExport(group, v.generation, v.sources())
	if err != nil {
		return nil, types.NewIndexError(types.KindIndexExportError, "export", group, err)
	}
	return data, nil
}

// Import builds a new group from an export document or a bare criteria
// array. It fails with IndexGroupExists when name is already bound and with
// IndexImportError when the data cannot be decoded or compiled.
func (m *Manager) Import(name string, data []byte) (err error) {
	defer func() { mutationTotal.WithLabelValues("import", resultLabel(err)).Inc() }()

	if _, err := m.lookup("import", name); err == nil {
		return types.NewIndexError(types.KindIndexGroupExists, "import", name, nil)
	}

	doc, criteria, err := codec.UnmarshalExport(data)
	if err != nil {
		return types.NewIndexError(types.KindIndexImportError, "import", name, err)
	}
	compiled, err := compileAll(criteria)
	if err != nil {
		return types.NewIndexError(types.KindIndexImportError, "import", name, err)
	}

	mut := newGroupVersion(m.opts.indexOptions()).begin()
	ids := make([]types.CriteriaID, 0, len(compiled))
	for _, c := range compiled {
		mut.put(c)
		ids = append(ids, c.ID)
	}
	v := mut.commit()

	h := m.newHandle(v)
	h.track(ids, nil)

	m.mu.Lock()
	if _, exists := m.groups[name]; exists {
		m.mu.Unlock()
		return types.NewIndexError(types.KindIndexGroupExists, "import", name, nil)
	}
	m.groups[name] = h
	m.mu.Unlock()

	groupCriteria.WithLabelValues(name).Set(float64(len(v.criteria)))
	m.logger.Info("group imported",
		"group", name,
		"source_group", doc.Group,
		"source_generation", doc.Generation,
		"criteria", len(v.criteria))
	return nil
}

// GroupSnapshot is the diagnostic state of a group version.
type GroupSnapshot struct {
	SnapshotID string             `json:"snapshot_id"`
	Group      string             `json:"group"`
	Generation uint64             `json:"generation"`
	Criteria   []types.CriteriaID `json:"criteria"`
	Paths      []string           `json:"paths"`
	DNF        index.Snapshot     `json:"dnf"`
	CNF        index.Snapshot     `json:"cnf"`
}

// Snapshot returns the group's index state as JSON. Failures are
// InternalError.
func (m *Manager) Snapshot(group string) ([]byte, error) {
	v, _, err := m.current("snapshot", group)
	if err != nil {
		return nil, err
	}

	snap := GroupSnapshot{
		SnapshotID: types.NewSnapshotID(),
		Group:      group,
		Generation: v.generation,
		Criteria:   v.ids(),
		Paths:      slices.Sorted(maps.Keys(v.paths)),
		DNF:        v.dnf.Dump(),
		CNF:        v.cnf.Dump(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, types.NewIndexError(types.KindInternalError, "snapshot", group, fmt.Errorf("encode snapshot: %w", err))
	}
	return data, nil
}
