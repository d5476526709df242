package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solatis/critidx/internal/codec"
	"github.com/solatis/critidx/internal/engine"
	"github.com/solatis/critidx/internal/types"
)

// PersistGroup exports group from m and stores the document.
func (s *Store) PersistGroup(ctx context.Context, m *engine.Manager, group string) (ExportRecord, error) {
	data, err := m.Export(group)
	if err != nil {
		return ExportRecord{}, err
	}
	doc, _, err := codec.UnmarshalExport(data)
	if err != nil {
		return ExportRecord{}, types.NewIndexError(types.KindIndexExportError, "persist", group, err)
	}
	if err := s.SaveExport(ctx, group, doc.Generation, len(doc.Criteria), data); err != nil {
		return ExportRecord{}, err
	}
	return ExportRecord{
		Group:         group,
		Generation:    doc.Generation,
		CriteriaCount: len(doc.Criteria),
		Payload:       data,
	}, nil
}

// PersistSnapshot stores the diagnostic snapshot of group.
func (s *Store) PersistSnapshot(ctx context.Context, m *engine.Manager, group string) (SnapshotRecord, error) {
	data, err := m.Snapshot(group)
	if err != nil {
		return SnapshotRecord{}, err
	}
	var head struct {
		SnapshotID string `json:"snapshot_id"`
		Generation uint64 `json:"generation"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return SnapshotRecord{}, types.NewIndexError(types.KindInternalError, "snapshot", group, err)
	}
	return s.SaveSnapshot(ctx, head.SnapshotID, group, head.Generation, data)
}

// Restore imports the latest export of every stored group into m. Groups
// already bound in m are skipped. It returns the restored group names.
func (s *Store) Restore(ctx context.Context, m *engine.Manager, logger *slog.Logger) ([]string, error) {
	groups, err := s.ListExportedGroups(ctx)
	if err != nil {
		return nil, err
	}

	var restored []string
	var errs []error
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		rec, err := s.LatestExport(ctx, group)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		err = m.Import(group, rec.Payload)
		switch {
		case errors.Is(err, types.ErrIndexGroupExists):
			logger.Warn("restore skipped, group already loaded", "group", group)
		case err != nil:
			errs = append(errs, fmt.Errorf("restore %q: %w", group, err))
		default:
			logger.Info("group restored",
				"group", group,
				"generation", rec.Generation,
				"criteria", rec.CriteriaCount)
			restored = append(restored, group)
		}
	}
	return restored, errors.Join(errs...)
}
