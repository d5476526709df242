// Package store persists index group exports, compressed index snapshots
// and ratification runs in the SQL database managed by internal/core/db.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/critidx/internal/core/db"
	"github.com/solatis/critidx/internal/types"
)

// ErrNotFound is returned when no row matches a lookup.
var ErrNotFound = errors.New("store: record not found")

// Queries is the subset of *db.Queries used by the store.
type Queries interface {
	ExecContext(ctx context.Context, name string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, name string, dest any, args ...any) error
	SelectContext(ctx context.Context, name string, dest any, args ...any) error
}

var _ Queries = (*db.Queries)(nil)

// Store reads and writes persisted index state.
type Store struct {
	q           Queries
	compression Compression
	now         func() time.Time
}

// New creates a Store that compresses snapshots with c.
func New(q Queries, c Compression) *Store {
	return &Store{q: q, compression: c, now: func() time.Time { return time.Now().UTC() }}
}

// ExportRecord is one persisted group export.
type ExportRecord struct {
	ID            int64     `db:"export_id"`
	Group         string    `db:"group_name"`
	Generation    uint64    `db:"generation"`
	CriteriaCount int       `db:"criteria_count"`
	Payload       []byte    `db:"payload"`
	CreatedAt     time.Time `db:"created_at"`
}

// SaveExport stores an export document of group.
func (s *Store) SaveExport(ctx context.Context, group string, generation uint64, criteriaCount int, payload []byte) error {
	_, err := s.q.ExecContext(ctx, "insert-group-export",
		group, int64(generation), criteriaCount, payload, s.now())
	if err != nil {
		return fmt.Errorf("save export of %q: %w", group, err)
	}
	return nil
}

// LatestExport returns the most recent export of group.
func (s *Store) LatestExport(ctx context.Context, group string) (ExportRecord, error) {
	var rec ExportRecord
	err := s.q.GetContext(ctx, "get-latest-group-export", &rec, group)
	if errors.Is(err, sql.ErrNoRows) {
		return ExportRecord{}, fmt.Errorf("export of %q: %w", group, ErrNotFound)
	}
	if err != nil {
		return ExportRecord{}, fmt.Errorf("load export of %q: %w", group, err)
	}
	return rec, nil
}

// ListExportedGroups returns every group with at least one export, sorted.
func (s *Store) ListExportedGroups(ctx context.Context) ([]string, error) {
	var groups []string
	if err := s.q.SelectContext(ctx, "list-exported-groups", &groups); err != nil {
		return nil, fmt.Errorf("list exported groups: %w", err)
	}
	return groups, nil
}

// DeleteExports removes every export of group.
func (s *Store) DeleteExports(ctx context.Context, group string) error {
	if _, err := s.q.ExecContext(ctx, "delete-group-exports", group); err != nil {
		return fmt.Errorf("delete exports of %q: %w", group, err)
	}
	return nil
}

// SnapshotRecord describes one persisted snapshot. Payload is only filled
// by LoadSnapshot and holds the compressed bytes.
type SnapshotRecord struct {
	ID          string      `db:"snapshot_id"`
	Group       string      `db:"group_name"`
	Generation  uint64      `db:"generation"`
	Compression Compression `db:"compression"`
	RawSize     int         `db:"raw_size"`
	Payload     []byte      `db:"payload"`
	CreatedAt   time.Time   `db:"created_at"`
}

// SaveSnapshot compresses data with the configured codec and stores it.
func (s *Store) SaveSnapshot(ctx context.Context, id, group string, generation uint64, data []byte) (SnapshotRecord, error) {
	payload, codec, err := compress(s.compression, data)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("snapshot %s: %w", id, err)
	}
	rec := SnapshotRecord{
		ID:          id,
		Group:       group,
		Generation:  generation,
		Compression: codec,
		RawSize:     len(data),
		CreatedAt:   s.now(),
	}
	_, err = s.q.ExecContext(ctx, "insert-group-snapshot",
		rec.ID, rec.Group, int64(rec.Generation), string(rec.Compression), rec.RawSize, payload, rec.CreatedAt)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("save snapshot %s: %w", id, err)
	}
	return rec, nil
}

// LoadSnapshot returns a snapshot record and its decompressed data.
func (s *Store) LoadSnapshot(ctx context.Context, id string) (SnapshotRecord, []byte, error) {
	var rec SnapshotRecord
	err := s.q.GetContext(ctx, "get-group-snapshot", &rec, id)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return SnapshotRecord{}, nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	data, err := decompress(rec.Compression, rec.Payload, rec.RawSize)
	if err != nil {
		return SnapshotRecord{}, nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	return rec, data, nil
}

// ListSnapshots returns the snapshots of group, newest first, without
// payloads.
func (s *Store) ListSnapshots(ctx context.Context, group string) ([]SnapshotRecord, error) {
	var recs []SnapshotRecord
	if err := s.q.SelectContext(ctx, "list-group-snapshots", &recs, group); err != nil {
		return nil, fmt.Errorf("list snapshots of %q: %w", group, err)
	}
	return recs, nil
}

type ratificationRow struct {
	RunID           string    `db:"run_id"`
	Group           string    `db:"group_name"`
	FullRun         bool      `db:"full_run"`
	Status          bool      `db:"status"`
	AnomalyCount    int       `db:"anomaly_count"`
	CheckedCriteria int       `db:"checked_criteria"`
	CheckedRequests int       `db:"checked_requests"`
	Generation      int64     `db:"generation"`
	StartedAt       time.Time `db:"started_at"`
	DurationMs      int64     `db:"duration_ms"`
	Result          string    `db:"result"`
}

// SaveRatification records a ratification run with its full result.
func (s *Store) SaveRatification(ctx context.Context, res types.RatificationResult) error {
	if _, err := types.ParseRunID(res.RunID); err != nil {
		return fmt.Errorf("save ratification: invalid run id %q: %w", res.RunID, err)
	}
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("save ratification %s: %w", res.RunID, err)
	}
	_, err = s.q.ExecContext(ctx, "insert-ratification-run",
		res.RunID, res.Group, res.IsFullFledgedRun, res.Status, len(res.Anomalies),
		res.CheckedCriteria, res.CheckedRequests, int64(res.Generation),
		res.StartedAt.UTC(), res.Duration.Milliseconds(), string(body))
	if err != nil {
		return fmt.Errorf("save ratification %s: %w", res.RunID, err)
	}
	return nil
}

// LatestRatification returns the most recent stored run of group.
func (s *Store) LatestRatification(ctx context.Context, group string) (types.RatificationResult, error) {
	var row ratificationRow
	err := s.q.GetContext(ctx, "get-latest-ratification-run", &row, group)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RatificationResult{}, fmt.Errorf("ratification of %q: %w", group, ErrNotFound)
	}
	if err != nil {
		return types.RatificationResult{}, fmt.Errorf("load ratification of %q: %w", group, err)
	}
	var res types.RatificationResult
	if err := json.Unmarshal([]byte(row.Result), &res); err != nil {
		return types.RatificationResult{}, fmt.Errorf("decode ratification %s: %w", row.RunID, err)
	}
	return res, nil
}
