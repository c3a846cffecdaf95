package crown

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MetricsStore {
	t.Helper()
	store, err := NewMetricsStore(filepath.Join(t.TempDir(), "crowns.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMetricsStore_RecordRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	summary := RunSummary{
		RunID:      "5b0a2c1e",
		Input:      "plot7.txt",
		TreeField:  "final_segs",
		Trees:      3,
		Delineated: 2,
		Skipped:    1,
		CRSEPSG:    32633,
		Timestamp:  1760000000,
	}
	records := sampleRecords()
	require.NoError(t, store.RecordRun(ctx, summary, records))

	got, err := store.Run(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, summary, got)

	metrics, err := store.RunMetrics(ctx, summary.RunID)
	require.NoError(t, err)
	want := []CrownMetrics{records[0].Metrics, records[1].Metrics}
	if diff := cmp.Diff(want, metrics); diff != "" {
		t.Errorf("stored metrics mismatch (-want +got):\n%s", diff)
	}

	var geometry string
	require.NoError(t, store.QueryRowContext(ctx,
		`SELECT geometry FROM crowns WHERE run_id = ? AND tree_id = 8`, summary.RunID).Scan(&geometry))
	assert.Contains(t, geometry, `"type":"Polygon"`)
}

func TestMetricsStore_DuplicateRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	summary := RunSummary{RunID: "dup"}
	require.NoError(t, store.RecordRun(ctx, summary, nil))
	assert.Error(t, store.RecordRun(ctx, summary, sampleRecords()))

	// The failed transaction leaves nothing behind.
	metrics, err := store.RunMetrics(ctx, "dup")
	require.NoError(t, err)
	assert.Empty(t, metrics)
}

func TestMetricsStore_UnknownRun(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Run(context.Background(), "missing")
	assert.Error(t, err)
}

func TestMetricsStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crowns.db")
	store, err := NewMetricsStore(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordRun(context.Background(), RunSummary{RunID: "a"}, sampleRecords()))
	require.NoError(t, store.Close())

	store, err = NewMetricsStore(path)
	require.NoError(t, err)
	defer store.Close()
	metrics, err := store.RunMetrics(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, metrics, 2)
}
