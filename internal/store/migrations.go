package store

import (
	"database/sql"
	"fmt"
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
		Description: "stations and sync_runs",
		SQL: `
CREATE TABLE IF NOT EXISTS stations (
    name TEXT PRIMARY KEY,
    latitude REAL,
    longitude REAL,
    altitude REAL,
    azimuth REAL,
    host TEXT,
    username TEXT,
    protocol TEXT,
    sync_enabled BOOLEAN DEFAULT TRUE,
    filter_bad_spectra BOOLEAN DEFAULT FALSE,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sync_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pass_id TEXT NOT NULL,
    station TEXT NOT NULL,
    kind TEXT NOT NULL,
    sync_date TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    files_synced INTEGER DEFAULT 0,
    success BOOLEAN DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_sync_runs_station ON sync_runs(station, started_at);
`,
	},
	{
		Version:     2,
		Description: "station_status",
		SQL: `
CREATE TABLE IF NOT EXISTS station_status (
    station TEXT PRIMARY KEY,
    status_time TEXT,
    status TEXT,
    pulled_at DATETIME NOT NULL
);
`,
	},
}

// Migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		s.logger.Infow("applying migration", "version", m.Version, "description", m.Description)
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func (s *Store) apply(m migration) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err = tx.Exec(
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Description, time.Now().UTC(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ensureMigrationsTable() error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    description TEXT,
    applied_at DATETIME
)`
	_, err := s.db.Exec(ddl)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// MigrationVersion is the highest applied version, 0 on a fresh database.
func (s *Store) MigrationVersion() (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}
