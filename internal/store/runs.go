package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jmhart/forecastcheck/internal/models"
)

// StartJobRun opens a bookkeeping row for one pipeline job execution and
// returns its run ID.
func (s *Store) StartJobRun(job string) (string, error) {
	runID := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO job_runs (run_id, job, started_at, success)
		VALUES (?, ?, ?, FALSE)
	`, runID, job, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("start job run: %w", err)
	}
	return runID, nil
}

// CompleteJobRun closes a job run row. errMsg is empty on success.
func (s *Store) CompleteJobRun(runID string, success bool, in, out, skipped int64, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE job_runs
		SET finished_at = ?, success = ?, records_in = ?, records_out = ?, records_skipped = ?, error_message = ?
		WHERE run_id = ?
	`, time.Now().UTC(), success, in, out, skipped, nullIfEmpty(errMsg), runID)
	if err != nil {
		return fmt.Errorf("complete job run: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) GetRecentJobRuns(job string, limit int) ([]models.JobRun, error) {
	rows, err := s.db.Query(`
		SELECT run_id, job, started_at, finished_at, success,
		       COALESCE(records_in, 0), COALESCE(records_out, 0), COALESCE(records_skipped, 0), error_message
		FROM job_runs
		WHERE job = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, job, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.JobRun
	for rows.Next() {
		var r models.JobRun
		if err := rows.Scan(&r.RunID, &r.Job, &r.StartedAt, &r.FinishedAt, &r.Success,
			&r.RecordsIn, &r.RecordsOut, &r.RecordsSkipped, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PurgeJobRunsBefore trims old bookkeeping rows.
func (s *Store) PurgeJobRunsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM job_runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
