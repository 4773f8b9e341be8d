// internal/lifecycle/postgres.go
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
)

// PostgresStore persists anomalies in the anomaly_detections table. The
// partial unique index on (fingerprint) over open statuses makes the upsert
// a single atomic statement: concurrent workers racing on one fingerprint
// converge to one merged row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed anomaly store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const severityLadder = `ARRAY['low','medium','high','critical']`

// Upsert implements Store with one INSERT ... ON CONFLICT statement. The
// prior CTE captures the pre-merge severity so the caller can tell a raise
// from a plain occurrence bump; xmax = 0 distinguishes insert from update.
func (s *PostgresStore) Upsert(ctx context.Context, c Candidate) (*anomaly.AnomalyDetection, UpsertOutcome, error) {
	query := `
		WITH prior AS (
			SELECT severity FROM anomaly_detections
			WHERE fingerprint = $2
			  AND status IN ('new', 'acknowledged', 'investigating')
		), up AS (
			INSERT INTO anomaly_detections
				(id, fingerprint, workspace_id, metric_type, method, detected_at,
				 last_seen, occurrence_count, value, expected_low, expected_high,
				 raw_score, normalized_score, severity, status, context)
			VALUES ($1, $2, $3, $4, $5, $6, $6, 1, $7, $8, $9, $10, $11, $12, 'new', $13)
			ON CONFLICT (fingerprint)
				WHERE status IN ('new', 'acknowledged', 'investigating')
			DO UPDATE SET
				last_seen = GREATEST(anomaly_detections.last_seen, EXCLUDED.last_seen),
				occurrence_count = anomaly_detections.occurrence_count + 1,
				value = CASE WHEN EXCLUDED.normalized_score > anomaly_detections.normalized_score
					THEN EXCLUDED.value ELSE anomaly_detections.value END,
				expected_low = CASE WHEN EXCLUDED.normalized_score > anomaly_detections.normalized_score
					THEN EXCLUDED.expected_low ELSE anomaly_detections.expected_low END,
				expected_high = CASE WHEN EXCLUDED.normalized_score > anomaly_detections.normalized_score
					THEN EXCLUDED.expected_high ELSE anomaly_detections.expected_high END,
				raw_score = CASE WHEN EXCLUDED.normalized_score > anomaly_detections.normalized_score
					THEN EXCLUDED.raw_score ELSE anomaly_detections.raw_score END,
				normalized_score = GREATEST(anomaly_detections.normalized_score, EXCLUDED.normalized_score),
				severity = CASE WHEN array_position(` + severityLadder + `, EXCLUDED.severity)
						> array_position(` + severityLadder + `, anomaly_detections.severity)
					THEN EXCLUDED.severity ELSE anomaly_detections.severity END
			RETURNING id, fingerprint, workspace_id, metric_type, method, detected_at,
				last_seen, occurrence_count, value, expected_low, expected_high,
				raw_score, normalized_score, severity, status, context,
				(xmax = 0) AS is_new
		)
		SELECT up.*, prior.severity FROM up LEFT JOIN prior ON TRUE
	`

	var det anomaly.AnomalyDetection
	var isNew bool
	var priorSeverity sql.NullString
	err := s.db.QueryRowContext(ctx, query,
		uuid.New().String(), c.Fingerprint, c.WorkspaceID, c.MetricType, c.Method,
		c.SeenAt, c.Value, c.ExpectedLow, c.ExpectedHigh,
		c.RawScore, c.NormalizedScore, string(c.Severity), c.Context,
	).Scan(
		&det.ID, &det.Fingerprint, &det.WorkspaceID, &det.MetricType, &det.Method,
		&det.DetectedAt, &det.LastSeen, &det.OccurrenceCount, &det.Value,
		&det.ExpectedLow, &det.ExpectedHigh, &det.RawScore, &det.NormalizedScore,
		&det.Severity, &det.Status, &det.Context, &isNew, &priorSeverity,
	)
	if err != nil {
		return nil, UpsertOutcome{}, fmt.Errorf("lifecycle: upsert: %w", err)
	}

	outcome := UpsertOutcome{IsNew: isNew}
	if !isNew && priorSeverity.Valid {
		outcome.SeverityRaised = det.Severity.Rank() > anomaly.Severity(priorSeverity.String).Rank()
	}
	return &det, outcome, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*anomaly.AnomalyDetection, error) {
	query := `
		SELECT id, fingerprint, workspace_id, metric_type, method, detected_at,
		       last_seen, occurrence_count, value, expected_low, expected_high,
		       raw_score, normalized_score, severity, status, context,
		       resolution_notes, false_positive
		FROM anomaly_detections WHERE id = $1
	`
	det, err := scanDetection(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: get: %w", err)
	}
	return det, nil
}

// SetStatus implements Store.
func (s *PostgresStore) SetStatus(ctx context.Context, id, status, resolution string, falsePositive bool) (*anomaly.AnomalyDetection, error) {
	query := `
		UPDATE anomaly_detections
		SET status = $2,
		    resolution_notes = CASE WHEN $3 <> '' THEN $3 ELSE resolution_notes END,
		    false_positive = $4
		WHERE id = $1
		RETURNING id, fingerprint, workspace_id, metric_type, method, detected_at,
		          last_seen, occurrence_count, value, expected_low, expected_high,
		          raw_score, normalized_score, severity, status, context,
		          resolution_notes, false_positive
	`
	det, err := scanDetection(s.db.QueryRowContext(ctx, query, id, status, resolution, falsePositive))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: set status: %w", err)
	}
	return det, nil
}

// Query implements Store with dynamic filtering.
func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]*anomaly.AnomalyDetection, error) {
	var conditions []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if f.WorkspaceID != "" {
		add("workspace_id = $%d", f.WorkspaceID)
	}
	if f.MetricType != "" {
		add("metric_type = $%d", f.MetricType)
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("detected_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("detected_at <= $%d", f.To)
	}

	query := `
		SELECT id, fingerprint, workspace_id, metric_type, method, detected_at,
		       last_seen, occurrence_count, value, expected_low, expected_high,
		       raw_score, normalized_score, severity, status, context,
		       resolution_notes, false_positive
		FROM anomaly_detections
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY detected_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*anomaly.AnomalyDetection
	for rows.Next() {
		det, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: scan: %w", err)
		}
		out = append(out, det)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDetection(row rowScanner) (*anomaly.AnomalyDetection, error) {
	var det anomaly.AnomalyDetection
	var context, resolution sql.NullString
	err := row.Scan(
		&det.ID, &det.Fingerprint, &det.WorkspaceID, &det.MetricType, &det.Method,
		&det.DetectedAt, &det.LastSeen, &det.OccurrenceCount, &det.Value,
		&det.ExpectedLow, &det.ExpectedHigh, &det.RawScore, &det.NormalizedScore,
		&det.Severity, &det.Status, &context, &resolution, &det.FalsePositive,
	)
	if err != nil {
		return nil, err
	}
	det.Context = context.String
	det.Resolution = resolution.String
	return &det, nil
}
