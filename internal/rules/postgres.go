// internal/rules/postgres.go
package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/charannyk06/shadower-analytics/internal/detector"
)

// PostgresStore persists rules in the anomaly_rules table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveRule upserts one rule row.
func (s *PostgresStore) SaveRule(ctx context.Context, rule *Rule) error {
	params, err := json.Marshal(rule.Parameters)
	if err != nil {
		return fmt.Errorf("rules: marshal parameters: %w", err)
	}

	query := `
		INSERT INTO anomaly_rules
			(id, workspace_id, metric_type, method, parameters, active, auto_alert,
			 alert_channels, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			metric_type = EXCLUDED.metric_type,
			method = EXCLUDED.method,
			parameters = EXCLUDED.parameters,
			active = EXCLUDED.active,
			auto_alert = EXCLUDED.auto_alert,
			alert_channels = EXCLUDED.alert_channels,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		rule.ID, rule.WorkspaceID, rule.MetricType, string(rule.Method), params,
		rule.Active, rule.AutoAlert, pq.Array(rule.AlertChannels),
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("rules: save rule: %w", err)
	}
	return nil
}

// DeleteRule removes one rule row.
func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM anomaly_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rules: delete rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadRules returns every rule row.
func (s *PostgresStore) LoadRules(ctx context.Context) ([]*Rule, error) {
	query := `
		SELECT id, workspace_id, metric_type, method, parameters, active,
		       auto_alert, alert_channels, created_at, updated_at
		FROM anomaly_rules
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rules: load rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Rule
	for rows.Next() {
		var r Rule
		var method string
		var params []byte
		var channels pq.StringArray
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.MetricType, &method, &params,
			&r.Active, &r.AutoAlert, &channels, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("rules: scan rule: %w", err)
		}
		r.Method = detector.Kind(method)
		r.AlertChannels = channels
		if len(params) > 0 {
			if err := json.Unmarshal(params, &r.Parameters); err != nil {
				return nil, fmt.Errorf("rules: unmarshal parameters: %w", err)
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
