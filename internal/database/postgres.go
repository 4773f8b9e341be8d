// internal/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds database configuration.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// Postgres wraps the shared connection pool.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL connection pool.
func NewPostgres(cfg Config) (*Postgres, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// DB exposes the underlying pool for the domain stores.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// CreateTables creates the anomaly detection schema. The partial unique
// index on anomaly_detections is what makes concurrent upserts converge on
// one open row per fingerprint.
func (p *Postgres) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS metric_events (
			id BIGSERIAL PRIMARY KEY,
			workspace_id VARCHAR(255) NOT NULL,
			metric_type VARCHAR(64) NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metric_events_key_time
			ON metric_events (workspace_id, metric_type, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS anomaly_rules (
			id VARCHAR(64) PRIMARY KEY,
			workspace_id VARCHAR(255) NOT NULL DEFAULT '',
			metric_type VARCHAR(64) NOT NULL,
			method VARCHAR(32) NOT NULL,
			parameters JSONB NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			auto_alert BOOLEAN NOT NULL DEFAULT FALSE,
			alert_channels TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_anomaly_rules_active_unique
			ON anomaly_rules (workspace_id, metric_type, method)
			WHERE active`,
		`CREATE TABLE IF NOT EXISTS baseline_models (
			workspace_id VARCHAR(255) NOT NULL,
			metric_type VARCHAR(64) NOT NULL,
			mean DOUBLE PRECISION NOT NULL,
			variance DOUBLE PRECISION NOT NULL,
			percentiles JSONB NOT NULL DEFAULT '{}',
			sample_count BIGINT NOT NULL,
			training_start TIMESTAMPTZ,
			training_end TIMESTAMPTZ,
			last_updated TIMESTAMPTZ NOT NULL,
			status VARCHAR(32) NOT NULL,
			PRIMARY KEY (workspace_id, metric_type)
		)`,
		`CREATE TABLE IF NOT EXISTS anomaly_detections (
			id VARCHAR(64) PRIMARY KEY,
			fingerprint VARCHAR(64) NOT NULL,
			workspace_id VARCHAR(255) NOT NULL,
			metric_type VARCHAR(64) NOT NULL,
			method VARCHAR(32) NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			occurrence_count INT NOT NULL DEFAULT 1,
			value DOUBLE PRECISION NOT NULL,
			expected_low DOUBLE PRECISION NOT NULL,
			expected_high DOUBLE PRECISION NOT NULL,
			raw_score DOUBLE PRECISION NOT NULL,
			normalized_score DOUBLE PRECISION NOT NULL,
			severity VARCHAR(16) NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'new',
			context TEXT,
			resolution_notes TEXT,
			false_positive BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_anomaly_detections_open_fingerprint
			ON anomaly_detections (fingerprint)
			WHERE status IN ('new', 'acknowledged', 'investigating')`,
		`CREATE INDEX IF NOT EXISTS idx_anomaly_detections_workspace_time
			ON anomaly_detections (workspace_id, detected_at DESC)`,
	}

	for _, q := range queries {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}
