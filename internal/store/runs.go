package store

import (
	"database/sql"
	"time"
)

// SyncRun audits one station's share of a sync pass.
type SyncRun struct {
	ID           int64
	PassID       string
	Station      string
	Kind         string // so2 or spectra
	Date         string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	FilesSynced  int
	Success      bool
	ErrorMessage sql.NullString
}

// StartSyncRun creates a new sync run record and returns it.
func (s *Store) StartSyncRun(passID, station, kind, date string) (*SyncRun, error) {
	run := &SyncRun{
		PassID:    passID,
		Station:   station,
		Kind:      kind,
		Date:      date,
		StartedAt: time.Now().UTC(),
	}

	result, err := s.db.Exec(`
		INSERT INTO sync_runs (pass_id, station, kind, sync_date, started_at, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.PassID, run.Station, run.Kind, run.Date, run.StartedAt)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteSyncRun updates the run with its outcome.
func (s *Store) CompleteSyncRun(run *SyncRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE sync_runs SET
			finished_at = ?,
			files_synced = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.FilesSynced, run.Success, run.ErrorMessage, run.ID)
	return err
}

// SyncHealthSummary is a per-day, per-station roll-up of sync runs.
type SyncHealthSummary struct {
	Date        string
	Station     string
	TotalRuns   int
	SuccessRuns int
	FailedRuns  int
	TotalFiles  int64
}

// GetSyncHealth returns sync health summaries for the last N days.
func (s *Store) GetSyncHealth(days int) ([]SyncHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			station,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			COALESCE(SUM(files_synced), 0) as total_files
		FROM sync_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, station
		ORDER BY date DESC, station
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SyncHealthSummary
	for rows.Next() {
		var h SyncHealthSummary
		if err := rows.Scan(&h.Date, &h.Station, &h.TotalRuns, &h.SuccessRuns, &h.FailedRuns, &h.TotalFiles); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

const runColumns = `id, pass_id, station, kind, sync_date, started_at, finished_at, files_synced, success, error_message`

func scanRuns(rows *sql.Rows) ([]SyncRun, error) {
	defer rows.Close()
	var results []SyncRun
	for rows.Next() {
		var r SyncRun
		if err := rows.Scan(&r.ID, &r.PassID, &r.Station, &r.Kind, &r.Date, &r.StartedAt,
			&r.FinishedAt, &r.FilesSynced, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetRecentSyncRuns returns the latest runs, newest first.
func (s *Store) GetRecentSyncRuns(limit int) ([]SyncRun, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

// GetRecentSyncErrors returns recent failed sync runs.
func (s *Store) GetRecentSyncErrors(limit int) ([]SyncRun, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM sync_runs WHERE success = FALSE ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}
