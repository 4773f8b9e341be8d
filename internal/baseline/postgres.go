// internal/baseline/postgres.go
package baseline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// PostgresPersister stores baseline models in the baseline_models table.
type PostgresPersister struct {
	db *sql.DB
}

// NewPostgresPersister creates a Postgres-backed model persister.
func NewPostgresPersister(db *sql.DB) *PostgresPersister {
	return &PostgresPersister{db: db}
}

// SaveModel upserts one model row keyed by (workspace_id, metric_type).
func (p *PostgresPersister) SaveModel(ctx context.Context, snap Snapshot) error {
	pct, err := json.Marshal(snap.Percentiles)
	if err != nil {
		return fmt.Errorf("baseline: marshal percentiles: %w", err)
	}

	query := `
		INSERT INTO baseline_models
			(workspace_id, metric_type, mean, variance, percentiles, sample_count,
			 training_start, training_end, last_updated, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (workspace_id, metric_type) DO UPDATE SET
			mean = EXCLUDED.mean,
			variance = EXCLUDED.variance,
			percentiles = EXCLUDED.percentiles,
			sample_count = EXCLUDED.sample_count,
			training_start = EXCLUDED.training_start,
			training_end = EXCLUDED.training_end,
			last_updated = EXCLUDED.last_updated,
			status = EXCLUDED.status
	`
	_, err = p.db.ExecContext(ctx, query,
		snap.WorkspaceID, snap.MetricType, snap.Mean, snap.Variance, pct,
		snap.SampleCount, snap.TrainingStart, snap.TrainingEnd, snap.LastUpdated, snap.Status)
	if err != nil {
		return fmt.Errorf("baseline: save model: %w", err)
	}
	return nil
}

// LoadModels returns every persisted model for warm start.
func (p *PostgresPersister) LoadModels(ctx context.Context) ([]Snapshot, error) {
	query := `
		SELECT workspace_id, metric_type, mean, variance, percentiles, sample_count,
		       training_start, training_end, last_updated, status
		FROM baseline_models
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("baseline: load models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		var pct []byte
		var start, end, updated time.Time
		if err := rows.Scan(&snap.WorkspaceID, &snap.MetricType, &snap.Mean, &snap.Variance,
			&pct, &snap.SampleCount, &start, &end, &updated, &snap.Status); err != nil {
			return nil, fmt.Errorf("baseline: scan model: %w", err)
		}
		snap.Percentiles = map[string]float64{}
		if len(pct) > 0 {
			if err := json.Unmarshal(pct, &snap.Percentiles); err != nil {
				return nil, fmt.Errorf("baseline: unmarshal percentiles: %w", err)
			}
		}
		snap.TrainingStart = start
		snap.TrainingEnd = end
		snap.LastUpdated = updated
		snap.StdDev = math.Sqrt(snap.Variance)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
