// internal/database/history.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
)

// History stores raw metric events and serves the historical windows that
// baseline retraining reads. Implements baseline.HistoryProvider.
type History struct {
	db *sql.DB
}

// NewHistory creates a metric event history backed by Postgres.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Record appends one metric event.
func (h *History) Record(ctx context.Context, ev anomaly.MetricEvent) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO metric_events (workspace_id, metric_type, value, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		ev.WorkspaceID, ev.MetricType, ev.Value, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("database: record event: %w", err)
	}
	return nil
}

// Values returns the values observed for a key over the trailing window,
// oldest first.
func (h *History) Values(ctx context.Context, workspaceID, metricType string, window time.Duration) ([]float64, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT value FROM metric_events
		 WHERE workspace_id = $1 AND metric_type = $2 AND recorded_at >= $3
		 ORDER BY recorded_at`,
		workspaceID, metricType, time.Now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("database: query history: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("database: scan history: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Prune deletes events older than the retention window.
func (h *History) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := h.db.ExecContext(ctx,
		`DELETE FROM metric_events WHERE recorded_at < $1`,
		time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("database: prune history: %w", err)
	}
	return res.RowsAffected()
}
