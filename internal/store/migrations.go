package store

import (
	"fmt"
)

// migrate brings the schema up to the latest version.
func (s *Store) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("current schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE transfer_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					direction TEXT NOT NULL,
					dandiset_id TEXT NOT NULL,
					version TEXT NOT NULL,
					start_time DATETIME NOT NULL,
					end_time DATETIME,
					units_succeeded INTEGER DEFAULT 0,
					units_skipped INTEGER DEFAULT 0,
					units_failed INTEGER DEFAULT 0,
					units_deleted INTEGER DEFAULT 0,
					bytes_transferred INTEGER DEFAULT 0,
					status TEXT DEFAULT 'running',
					error_message TEXT
				);

				CREATE TABLE failed_units (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id INTEGER NOT NULL,
					path TEXT NOT NULL,
					error TEXT,
					retry_count INTEGER DEFAULT 0,
					first_seen DATETIME NOT NULL,
					last_seen DATETIME NOT NULL,
					resolved BOOLEAN DEFAULT 0,
					FOREIGN KEY(run_id) REFERENCES transfer_runs(id)
				);

				CREATE INDEX idx_failed_units_path ON failed_units(path, resolved);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}
			s.logger.Info("applied schema migration", "version", mig.version)
		}
	}

	return nil
}

// runMigration executes one migration and records it, atomically.
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
