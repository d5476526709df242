package store

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/critidx/internal/core/db"
	"github.com/solatis/critidx/internal/engine"
	"github.com/solatis/critidx/internal/types"
)

func newStore(t *testing.T, c Compression) *Store {
	t.Helper()
	conn, err := db.Open(db.MemoryURL)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.MigrateUp(conn))

	q, err := db.LoadQueries(conn)
	require.NoError(t, err)
	return New(q, c)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func criteriaFixture() []types.Criteria {
	return []types.Criteria{
		types.NewDNF("C1", []types.Predicate{
			types.Include("a", types.EqualityOf(types.String("A1"), types.String("A2"))),
			types.Exclude("b", types.EqualityOf(types.String("B1"))),
		}),
		types.NewCNF("C2", []types.Predicate{
			types.Include("n", types.RangeOf(1, 3, true, true)),
			types.Include("v", types.VersionOf(types.VersionAbove, "2.0", false)),
		}),
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"none", CompressionNone, false},
		{"lz4", CompressionLZ4, false},
		{"zstd", CompressionZSTD, false},
		{"", CompressionZSTD, false},
		{"gzip", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCompression(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompressRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":      {},
		"repetitive": bytes.Repeat([]byte(`{"field":"value"},`), 500),
		"short":      []byte(`{"a":1}`),
	}
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for name, data := range inputs {
			t.Run(string(c)+"/"+name, func(t *testing.T) {
				packed, used, err := compress(c, data)
				require.NoError(t, err)
				out, err := decompress(used, packed, len(data))
				require.NoError(t, err)
				assert.Equal(t, len(data), len(out))
				assert.True(t, bytes.Equal(data, out))
			})
		}
	}

	packed, used, err := compress(CompressionZSTD, inputs["repetitive"])
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, used)
	assert.Less(t, len(packed), len(inputs["repetitive"]))

	_, err = decompress(CompressionZSTD, packed, 3)
	assert.Error(t, err)
}

func TestExports(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, CompressionZSTD)

	_, err := s.LatestExport(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveExport(ctx, "g1", 1, 2, []byte(`{"v":1}`)))
	require.NoError(t, s.SaveExport(ctx, "g1", 2, 3, []byte(`{"v":2}`)))
	require.NoError(t, s.SaveExport(ctx, "g0", 7, 0, []byte(`[]`)))

	rec, err := s.LatestExport(ctx, "g1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec.Generation)
	assert.Equal(t, 3, rec.CriteriaCount)
	assert.Equal(t, []byte(`{"v":2}`), rec.Payload)
	assert.WithinDuration(t, time.Now(), rec.CreatedAt, time.Minute)

	groups, err := s.ListExportedGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g0", "g1"}, groups)

	require.NoError(t, s.DeleteExports(ctx, "g0"))
	groups, err = s.ListExportedGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, groups)
}

func TestSnapshots(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(string(c), func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t, c)
			data := bytes.Repeat([]byte(`{"level":1,"keys":[]}`), 100)

			id := types.NewSnapshotID()
			rec, err := s.SaveSnapshot(ctx, id, "g1", 4, data)
			require.NoError(t, err)
			assert.Equal(t, c, rec.Compression)
			assert.Equal(t, len(data), rec.RawSize)

			got, out, err := s.LoadSnapshot(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, data, out)
			assert.Equal(t, "g1", got.Group)
			assert.EqualValues(t, 4, got.Generation)

			list, err := s.ListSnapshots(ctx, "g1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, id, list[0].ID)
			assert.Empty(t, list[0].Payload)

			_, _, err = s.LoadSnapshot(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRatifications(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, CompressionNone)

	_, err := s.LatestRatification(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.SaveRatification(ctx, types.RatificationResult{RunID: "not-a-uuid", Group: "g1"})
	assert.Error(t, err)

	first := types.RatificationResult{
		RunID:            types.NewRunID(),
		Group:            "g1",
		Status:           true,
		Anomalies:        []types.AnomalyDetail{},
		IsFullFledgedRun: true,
		CheckedCriteria:  2,
		CheckedRequests:  5,
		Generation:       3,
		StartedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:         1500 * time.Millisecond,
	}
	second := first
	second.RunID = types.NewRunID()
	second.Status = false
	second.StartedAt = first.StartedAt.Add(time.Hour)
	second.Anomalies = []types.AnomalyDetail{{
		Kind:       types.AnomalyMissingFromIndex,
		CriteriaID: "C1",
		Request:    []byte(`{"a":"A1"}`),
		Evaluated:  true,
	}}

	require.NoError(t, s.SaveRatification(ctx, first))
	require.NoError(t, s.SaveRatification(ctx, second))

	got, err := s.LatestRatification(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, second.RunID, got.RunID)
	assert.False(t, got.Status)
	require.Len(t, got.Anomalies, 1)
	assert.Equal(t, types.AnomalyMissingFromIndex, got.Anomalies[0].Kind)
	assert.Equal(t, second.Duration, got.Duration)
}

func TestPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, CompressionLZ4)

	src, err := engine.New()
	require.NoError(t, err)
	require.NoError(t, src.Add("g1", criteriaFixture()...))
	require.NoError(t, src.Add("g2", criteriaFixture()[1]))

	rec, err := s.PersistGroup(ctx, src, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.CriteriaCount)
	_, err = s.PersistGroup(ctx, src, "g2")
	require.NoError(t, err)

	_, err = s.PersistGroup(ctx, src, "missing")
	assert.True(t, engine.IsNotFound(err))

	snap, err := s.PersistSnapshot(ctx, src, "g1")
	require.NoError(t, err)
	_, data, err := s.LoadSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"group":"g1"`)

	dst, err := engine.New()
	require.NoError(t, err)
	require.NoError(t, dst.Add("g2", criteriaFixture()[0]))

	restored, err := s.Restore(ctx, dst, discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, restored)

	for _, req := range []string{`{"a":"A2"}`, `{"n":2}`, `{"v":"2.1"}`, `{"a":"A1","b":"B1"}`} {
		want, err := src.Search("g1", []byte(req))
		require.NoError(t, err)
		got, err := dst.Search("g1", []byte(req))
		require.NoError(t, err)
		assert.Equal(t, want, got, req)
	}

	// g2 was already loaded and kept its own content.
	got, err := dst.Search("g2", []byte(`{"a":"A1"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, got)
}
