package crown

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paulmach/orb/geojson"
	_ "modernc.org/sqlite"
)

// MetricsStore persists metrics runs in SQLite.
type MetricsStore struct {
	*sql.DB
}

// NewMetricsStore opens (creating if needed) the store at path.
func NewMetricsStore(path string) (*MetricsStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			input             TEXT,
			tree_field        TEXT,
			trees             BIGINT,
			delineated        BIGINT,
			skipped           BIGINT,
			crs_epsg          BIGINT,
			timestamp         BIGINT
		);
		CREATE TABLE IF NOT EXISTS crowns (
			run_id            TEXT,
			tree_id           BIGINT,
			area_m2           DOUBLE,
			max_diam_m        DOUBLE,
			avg_diam_m        DOUBLE,
			tree_ht_m         DOUBLE,
			crown_ht_m        DOUBLE,
			volume_2d_m3      DOUBLE,
			volume_3d_m3      DOUBLE,
			n_points          BIGINT,
			alpha             DOUBLE,
			geometry          TEXT,
			PRIMARY KEY(run_id, tree_id),
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &MetricsStore{db}, nil
}

// RecordRun stores a run and its crowns in one transaction.
func (s *MetricsStore) RecordRun(ctx context.Context, summary RunSummary, records []CrownRecord) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, input, tree_field, trees, delineated, skipped, crs_epsg, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID, summary.Input, summary.TreeField, summary.Trees,
		summary.Delineated, summary.Skipped, summary.CRSEPSG, summary.Timestamp)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", summary.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO crowns (run_id, tree_id, area_m2, max_diam_m, avg_diam_m, tree_ht_m,
		 crown_ht_m, volume_2d_m3, volume_3d_m3, n_points, alpha, geometry)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		geometry, err := geojson.NewGeometry(r.Polygon).MarshalJSON()
		if err != nil {
			return fmt.Errorf("encoding tree %d: %w", r.TreeID, err)
		}
		m := r.Metrics
		_, err = stmt.ExecContext(ctx, summary.RunID, int64(r.TreeID), m.Area, m.MaxDiameter,
			m.AvgDiameter, m.Height, m.CrownDepth, m.Volume2D, m.Volume3D, m.PointCount,
			m.Alpha, string(geometry))
		if err != nil {
			return fmt.Errorf("recording tree %d: %w", r.TreeID, err)
		}
	}
	return tx.Commit()
}

// Run loads a stored run summary.
func (s *MetricsStore) Run(ctx context.Context, runID string) (RunSummary, error) {
	var r RunSummary
	err := s.QueryRowContext(ctx,
		`SELECT run_id, input, tree_field, trees, delineated, skipped, crs_epsg, timestamp
		 FROM runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.Input, &r.TreeField, &r.Trees, &r.Delineated, &r.Skipped, &r.CRSEPSG, &r.Timestamp)
	if err != nil {
		return RunSummary{}, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return r, nil
}

// RunMetrics returns the metrics of a run in tree ID order.
func (s *MetricsStore) RunMetrics(ctx context.Context, runID string) ([]CrownMetrics, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT tree_id, area_m2, max_diam_m, avg_diam_m, tree_ht_m, crown_ht_m,
		 volume_2d_m3, volume_3d_m3, n_points, alpha
		 FROM crowns WHERE run_id = ? ORDER BY tree_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CrownMetrics
	for rows.Next() {
		var m CrownMetrics
		if err := rows.Scan(&m.TreeID, &m.Area, &m.MaxDiameter, &m.AvgDiameter, &m.Height,
			&m.CrownDepth, &m.Volume2D, &m.Volume3D, &m.PointCount, &m.Alpha); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
