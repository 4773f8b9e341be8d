// internal/lifecycle/postgres_test.go
package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
)

func upsertColumns() []string {
	return []string{
		"id", "fingerprint", "workspace_id", "metric_type", "method", "detected_at",
		"last_seen", "occurrence_count", "value", "expected_low", "expected_high",
		"raw_score", "normalized_score", "severity", "status", "context",
		"is_new", "severity_prior",
	}
}

func TestPostgresStore_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)
	now := time.Now()

	t.Run("fresh insert reports new", func(t *testing.T) {
		rows := sqlmock.NewRows(upsertColumns()).AddRow(
			"a-1", "fp-1", "ws-1", anomaly.MetricLatency, "zscore", now,
			now, 1, 200.0, 75.0, 125.0, 10.0, 1.0, "critical", "new", "", true, nil)
		mock.ExpectQuery("WITH prior AS").WillReturnRows(rows)

		det, outcome, err := store.Upsert(context.Background(), Candidate{
			Fingerprint: "fp-1", WorkspaceID: "ws-1", MetricType: anomaly.MetricLatency,
			Method: "zscore", SeenAt: now, NormalizedScore: 1.0, Severity: anomaly.SeverityCritical,
		})
		require.NoError(t, err)
		assert.True(t, outcome.IsNew)
		assert.False(t, outcome.SeverityRaised)
		assert.Equal(t, "a-1", det.ID)
	})

	t.Run("merge with prior severity reports a raise", func(t *testing.T) {
		rows := sqlmock.NewRows(upsertColumns()).AddRow(
			"a-1", "fp-1", "ws-1", anomaly.MetricLatency, "zscore", now,
			now, 2, 200.0, 75.0, 125.0, 10.0, 1.0, "critical", "new", "", false, "medium")
		mock.ExpectQuery("WITH prior AS").WillReturnRows(rows)

		det, outcome, err := store.Upsert(context.Background(), Candidate{
			Fingerprint: "fp-1", WorkspaceID: "ws-1", MetricType: anomaly.MetricLatency,
			Method: "zscore", SeenAt: now, NormalizedScore: 1.0, Severity: anomaly.SeverityCritical,
		})
		require.NoError(t, err)
		assert.False(t, outcome.IsNew)
		assert.True(t, outcome.SeverityRaised)
		assert.Equal(t, 2, det.OccurrenceCount)
	})

	t.Run("merge at same severity is not a raise", func(t *testing.T) {
		rows := sqlmock.NewRows(upsertColumns()).AddRow(
			"a-1", "fp-1", "ws-1", anomaly.MetricLatency, "zscore", now,
			now, 3, 200.0, 75.0, 125.0, 10.0, 1.0, "critical", "new", "", false, "critical")
		mock.ExpectQuery("WITH prior AS").WillReturnRows(rows)

		_, outcome, err := store.Upsert(context.Background(), Candidate{
			Fingerprint: "fp-1", WorkspaceID: "ws-1", MetricType: anomaly.MetricLatency,
			Method: "zscore", SeenAt: now, NormalizedScore: 1.0, Severity: anomaly.SeverityCritical,
		})
		require.NoError(t, err)
		assert.False(t, outcome.SeverityRaised)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)
	now := time.Now()

	cols := []string{
		"id", "fingerprint", "workspace_id", "metric_type", "method", "detected_at",
		"last_seen", "occurrence_count", "value", "expected_low", "expected_high",
		"raw_score", "normalized_score", "severity", "status", "context",
		"resolution_notes", "false_positive",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		"a-1", "fp-1", "ws-1", anomaly.MetricLatency, "zscore", now,
		now, 2, 200.0, 75.0, 125.0, 10.0, 1.0, "critical", "resolved", "",
		"fixed upstream", false)

	mock.ExpectQuery(`(?s)UPDATE anomaly_detections.*resolution_notes = CASE.*false_positive = \$4`).
		WithArgs("a-1", anomaly.StatusResolved, "fixed upstream", false).
		WillReturnRows(rows)

	det, err := store.SetStatus(context.Background(), "a-1", anomaly.StatusResolved, "fixed upstream", false)
	require.NoError(t, err)
	assert.Equal(t, anomaly.StatusResolved, det.Status)
	assert.Equal(t, "fixed upstream", det.Resolution)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)

	mock.ExpectQuery("SELECT id, fingerprint").
		WithArgs("ws-1", "critical", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = store.Query(context.Background(), Filter{
		WorkspaceID: "ws-1",
		Severity:    anomaly.SeverityCritical,
		Limit:       10,
	})
	// Zero rows scan cleanly into an empty result.
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
