package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS sites (
    site_id TEXT PRIMARY KEY,
    name TEXT,
    latitude REAL,
    longitude REAL,
    elevation REAL,
    active BOOLEAN DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS forecast_models (
    model_id TEXT PRIMARY KEY,
    name TEXT,
    provider TEXT,
    active BOOLEAN DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS parameters (
    parameter_id TEXT PRIMARY KEY,
    name TEXT,
    unit TEXT,
    circular BOOLEAN DEFAULT FALSE,
    outlier_threshold REAL
);

CREATE TABLE IF NOT EXISTS forecast_points (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    parameter_id TEXT NOT NULL,
    forecast_run DATETIME NOT NULL,
    valid_time DATETIME NOT NULL,
    value REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(model_id, parameter_id, site_id, valid_time, forecast_run)
);

CREATE TABLE IF NOT EXISTS observation_points (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id TEXT NOT NULL,
    parameter_id TEXT NOT NULL,
    observed_at DATETIME NOT NULL,
    value REAL NOT NULL,
    source TEXT NOT NULL DEFAULT 'beacon',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(site_id, parameter_id, observed_at, source)
);

CREATE TABLE IF NOT EXISTS matched_pairs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    forecast_id INTEGER NOT NULL REFERENCES forecast_points(id),
    observation_id INTEGER NOT NULL REFERENCES observation_points(id),
    site_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    parameter_id TEXT NOT NULL,
    valid_time DATETIME NOT NULL,
    horizon INTEGER NOT NULL,
    forecast_value REAL NOT NULL,
    observed_value REAL NOT NULL,
    time_diff_minutes REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(forecast_id, observation_id)
);

CREATE TABLE IF NOT EXISTS deviations (
    valid_time DATETIME NOT NULL,
    site_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    parameter_id TEXT NOT NULL,
    horizon INTEGER NOT NULL,
    forecast_value REAL NOT NULL,
    observed_value REAL NOT NULL,
    deviation REAL NOT NULL,
    is_outlier BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (valid_time, site_id, model_id, parameter_id, horizon)
);

CREATE TABLE IF NOT EXISTS summaries (
    bucket_start DATETIME NOT NULL,
    granularity TEXT NOT NULL,
    site_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    parameter_id TEXT NOT NULL,
    horizon INTEGER NOT NULL,
    mae REAL NOT NULL,
    bias REAL NOT NULL,
    std_dev REAL NOT NULL,
    sample_size INTEGER NOT NULL,
    min_deviation REAL NOT NULL,
    max_deviation REAL NOT NULL,
    computed_at DATETIME NOT NULL,
    PRIMARY KEY (bucket_start, granularity, site_id, model_id, parameter_id, horizon)
);

CREATE INDEX IF NOT EXISTS idx_fp_valid ON forecast_points(site_id, parameter_id, valid_time);
CREATE INDEX IF NOT EXISTS idx_op_observed ON observation_points(site_id, parameter_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_dev_key ON deviations(site_id, model_id, parameter_id, horizon, valid_time);
`,
	},
	{
		Version:     2,
		Description: "Add job_runs table for pipeline observability",
		SQL: `
CREATE TABLE IF NOT EXISTS job_runs (
    run_id TEXT PRIMARY KEY,
    job TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    records_in INTEGER,
    records_out INTEGER,
    records_skipped INTEGER,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_job_runs_started ON job_runs(job, started_at);
`,
	},
	{
		Version:     3,
		Description: "Add summary key index for read API range scans",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_summaries_key ON summaries(site_id, parameter_id, granularity, model_id, horizon, bucket_start);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
