// Package store keeps a local SQLite history of transfer runs and their
// failed units. The history is advisory: a write failure here must never
// fail a transfer, so callers log store errors and move on.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed run history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the database at dbPath, creating it and running migrations as
// needed.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("run history store opened", "path", dbPath)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// CreateRun inserts a new TransferRun and sets its ID.
func (s *Store) CreateRun(run *TransferRun) error {
	const query = `
		INSERT INTO transfer_runs (
			direction, dandiset_id, version, start_time, end_time,
			units_succeeded, units_skipped, units_failed, units_deleted,
			bytes_transferred, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.Direction, run.DandisetID, run.Version, run.StartTime, run.EndTime,
		run.UnitsSucceeded, run.UnitsSkipped, run.UnitsFailed, run.UnitsDeleted,
		run.BytesTransferred, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateRun updates an existing TransferRun by ID.
func (s *Store) UpdateRun(run *TransferRun) error {
	const query = `
		UPDATE transfer_runs SET
			direction = ?, dandiset_id = ?, version = ?, start_time = ?,
			end_time = ?, units_succeeded = ?, units_skipped = ?,
			units_failed = ?, units_deleted = ?, bytes_transferred = ?,
			status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.Direction, run.DandisetID, run.Version, run.StartTime, run.EndTime,
		run.UnitsSucceeded, run.UnitsSkipped, run.UnitsFailed, run.UnitsDeleted,
		run.BytesTransferred, run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transfer run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("transfer run not found: %d", run.ID)
	}

	return nil
}

// GetRun retrieves a TransferRun by ID.
func (s *Store) GetRun(id int64) (*TransferRun, error) {
	const query = `
		SELECT id, direction, dandiset_id, version, start_time, end_time,
		       units_succeeded, units_skipped, units_failed, units_deleted,
		       bytes_transferred, status, error_message
		FROM transfer_runs WHERE id = ?
	`

	run := &TransferRun{}
	err := s.db.QueryRow(query, id).Scan(
		&run.ID, &run.Direction, &run.DandisetID, &run.Version,
		&run.StartTime, &run.EndTime, &run.UnitsSucceeded, &run.UnitsSkipped,
		&run.UnitsFailed, &run.UnitsDeleted, &run.BytesTransferred,
		&run.Status, &run.ErrorMessage,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("transfer run not found: %d", id)
		}
		return nil, fmt.Errorf("failed to query transfer run: %w", err)
	}

	return run, nil
}

// ListRuns retrieves TransferRuns newest-first, optionally filtered by
// dandiset.
func (s *Store) ListRuns(dandisetID string, limit int) ([]TransferRun, error) {
	query := `
		SELECT id, direction, dandiset_id, version, start_time, end_time,
		       units_succeeded, units_skipped, units_failed, units_deleted,
		       bytes_transferred, status, error_message
		FROM transfer_runs
	`
	var args []any

	if dandisetID != "" {
		query += " WHERE dandiset_id = ?"
		args = append(args, dandisetID)
	}

	query += " ORDER BY start_time DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer runs: %w", err)
	}
	defer rows.Close()

	var runs []TransferRun
	for rows.Next() {
		run := TransferRun{}
		err := rows.Scan(
			&run.ID, &run.Direction, &run.DandisetID, &run.Version,
			&run.StartTime, &run.EndTime, &run.UnitsSucceeded, &run.UnitsSkipped,
			&run.UnitsFailed, &run.UnitsDeleted, &run.BytesTransferred,
			&run.Status, &run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer runs: %w", err)
	}

	return runs, nil
}

// AddFailedUnit records a failed unit, bumping the retry count when an
// unresolved entry for the same path already exists.
func (s *Store) AddFailedUnit(rec *FailedUnit) error {
	const updateQuery = `
		UPDATE failed_units
		SET run_id = ?, error = ?, retry_count = retry_count + 1, last_seen = ?
		WHERE path = ? AND resolved = 0
	`

	result, err := s.db.Exec(updateQuery, rec.RunID, rec.Error, rec.LastSeen, rec.Path)
	if err != nil {
		return fmt.Errorf("failed to update failed unit: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		return nil
	}

	const insertQuery = `
		INSERT INTO failed_units (
			run_id, path, error, retry_count, first_seen, last_seen, resolved
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err = s.db.Exec(
		insertQuery,
		rec.RunID, rec.Path, rec.Error, rec.RetryCount,
		rec.FirstSeen, rec.LastSeen, rec.Resolved,
	)
	if err != nil {
		return fmt.Errorf("failed to insert failed unit: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

// ListFailedUnits retrieves unresolved failed units, newest-first.
func (s *Store) ListFailedUnits(limit int) ([]FailedUnit, error) {
	query := `
		SELECT id, run_id, path, error, retry_count, first_seen, last_seen, resolved
		FROM failed_units WHERE resolved = 0 ORDER BY last_seen DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed units: %w", err)
	}
	defer rows.Close()

	var records []FailedUnit
	for rows.Next() {
		rec := FailedUnit{}
		err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Path, &rec.Error, &rec.RetryCount,
			&rec.FirstSeen, &rec.LastSeen, &rec.Resolved,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failed unit: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failed units: %w", err)
	}

	return records, nil
}

// ResolveFailedUnits marks all unresolved entries for a path as resolved.
// Called when a later run moves the unit successfully.
func (s *Store) ResolveFailedUnits(path string) error {
	const query = "UPDATE failed_units SET resolved = 1 WHERE path = ? AND resolved = 0"

	if _, err := s.db.Exec(query, path); err != nil {
		return fmt.Errorf("failed to resolve failed units: %w", err)
	}
	return nil
}
