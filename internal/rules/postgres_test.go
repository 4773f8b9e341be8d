// internal/rules/postgres_test.go
package rules

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
	"github.com/charannyk06/shadower-analytics/internal/detector"
)

func TestPostgresStore_SaveRule(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)
	rule := &Rule{
		ID:          "r-1",
		WorkspaceID: "ws-1",
		MetricType:  anomaly.MetricUsage,
		Method:      detector.KindZScore,
		Active:      true,
		AutoAlert:   true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	mock.ExpectExec("INSERT INTO anomaly_rules").
		WithArgs(rule.ID, rule.WorkspaceID, rule.MetricType, "zscore",
			sqlmock.AnyArg(), true, true, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveRule(context.Background(), rule))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteRule(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)

	t.Run("deletes existing rule", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM anomaly_rules").
			WithArgs("r-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, store.DeleteRule(context.Background(), "r-1"))
	})

	t.Run("missing rule reports not found", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM anomaly_rules").
			WithArgs("r-missing").
			WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, store.DeleteRule(context.Background(), "r-missing"), ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadRules(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "workspace_id", "metric_type", "method", "parameters",
		"active", "auto_alert", "alert_channels", "created_at", "updated_at",
	}).AddRow("r-1", "ws-1", anomaly.MetricLatency, "threshold",
		[]byte(`{"max":500}`), true, false, "{}", now, now)

	mock.ExpectQuery("SELECT id, workspace_id, metric_type").WillReturnRows(rows)

	loaded, err := store.LoadRules(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, detector.KindThreshold, loaded[0].Method)
	require.NotNil(t, loaded[0].Parameters.Max)
	assert.Equal(t, 500.0, *loaded[0].Parameters.Max)
	assert.NoError(t, mock.ExpectationsWereMet())
}
