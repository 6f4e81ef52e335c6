package store

import (
	"fmt"
	"time"

	"github.com/jmhart/forecastcheck/internal/models"
)

// InsertForecastPoint stores a collector-supplied forecast point. Re-sent
// records hit the uniqueness constraint and are silently skipped.
func (s *Store) InsertForecastPoint(p models.ForecastPoint) error {
	_, err := s.db.Exec(`
		INSERT INTO forecast_points (site_id, model_id, parameter_id, forecast_run, valid_time, value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id, parameter_id, site_id, valid_time, forecast_run) DO NOTHING
	`, p.SiteID, p.ModelID, p.ParameterID, p.ForecastRun.UTC(), p.ValidTime.UTC(), p.Value)
	return err
}

func (s *Store) InsertObservationPoint(p models.ObservationPoint) error {
	_, err := s.db.Exec(`
		INSERT INTO observation_points (site_id, parameter_id, observed_at, value, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(site_id, parameter_id, observed_at, source) DO NOTHING
	`, p.SiteID, p.ParameterID, p.ObservedAt.UTC(), p.Value, p.Source)
	return err
}

// GetUnmatchedForecasts returns forecast points with no matched pair yet
// and an ID greater than afterID, capped at limit. Callers page through
// with the last ID seen. Only forecasts whose valid time has already
// passed are candidates; future ones cannot have observations.
func (s *Store) GetUnmatchedForecasts(before time.Time, afterID int64, limit int) ([]models.ForecastPoint, error) {
	rows, err := s.db.Query(`
		SELECT f.id, f.site_id, f.model_id, f.parameter_id, f.forecast_run, f.valid_time, f.value, f.created_at
		FROM forecast_points f
		LEFT JOIN matched_pairs mp ON mp.forecast_id = f.id
		WHERE mp.id IS NULL AND f.valid_time <= ? AND f.id > ?
		ORDER BY f.id ASC
		LIMIT ?
	`, before.UTC(), afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.ForecastPoint
	for rows.Next() {
		var p models.ForecastPoint
		if err := rows.Scan(&p.ID, &p.SiteID, &p.ModelID, &p.ParameterID, &p.ForecastRun, &p.ValidTime, &p.Value, &p.CreatedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Store) GetObservationsInRange(siteID, parameterID string, start, end time.Time) ([]models.ObservationPoint, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, parameter_id, observed_at, value, source, created_at
		FROM observation_points
		WHERE site_id = ? AND parameter_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC, id ASC
	`, siteID, parameterID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.ObservationPoint
	for rows.Next() {
		var p models.ObservationPoint
		if err := rows.Scan(&p.ID, &p.SiteID, &p.ParameterID, &p.ObservedAt, &p.Value, &p.Source, &p.CreatedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// InsertMatchedPairs writes one chunk of pairs in a single transaction.
// Duplicate (forecast_id, observation_id) pairs are skipped, so a retried
// or overlapping run cannot double-insert. Returns the number actually
// inserted.
func (s *Store) InsertMatchedPairs(pairs []models.MatchedPair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}

	inserted := 0
	for _, p := range pairs {
		res, err := tx.Exec(`
			INSERT INTO matched_pairs (forecast_id, observation_id, site_id, model_id, parameter_id, valid_time, horizon, forecast_value, observed_value, time_diff_minutes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(forecast_id, observation_id) DO NOTHING
		`, p.ForecastID, p.ObservationID, p.SiteID, p.ModelID, p.ParameterID, p.ValidTime.UTC(), p.Horizon, p.ForecastValue, p.ObservedValue, p.TimeDiffMinutes)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert pair forecast=%d observation=%d: %w", p.ForecastID, p.ObservationID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// GetPairsWithoutDeviation returns matched pairs whose deviation row does
// not exist yet and whose ID is greater than afterID. Callers page
// through with the last ID seen.
func (s *Store) GetPairsWithoutDeviation(afterID int64, limit int) ([]models.MatchedPair, error) {
	rows, err := s.db.Query(`
		SELECT mp.id, mp.forecast_id, mp.observation_id, mp.site_id, mp.model_id, mp.parameter_id,
		       mp.valid_time, mp.horizon, mp.forecast_value, mp.observed_value, mp.time_diff_minutes, mp.created_at
		FROM matched_pairs mp
		LEFT JOIN deviations d ON d.valid_time = mp.valid_time
			AND d.site_id = mp.site_id
			AND d.model_id = mp.model_id
			AND d.parameter_id = mp.parameter_id
			AND d.horizon = mp.horizon
		WHERE d.site_id IS NULL AND mp.id > ?
		ORDER BY mp.id ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []models.MatchedPair
	for rows.Next() {
		var p models.MatchedPair
		if err := rows.Scan(&p.ID, &p.ForecastID, &p.ObservationID, &p.SiteID, &p.ModelID, &p.ParameterID,
			&p.ValidTime, &p.Horizon, &p.ForecastValue, &p.ObservedValue, &p.TimeDiffMinutes, &p.CreatedAt); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// PurgeStalePoints deletes raw points older than cutoff that never joined
// a matched pair. Past the matching tolerance nothing can pair with them
// anymore, so keeping them only grows the unmatched scan.
func (s *Store) PurgeStalePoints(cutoff time.Time) (int64, error) {
	var total int64

	res, err := s.db.Exec(`
		DELETE FROM forecast_points
		WHERE valid_time < ?
		  AND id NOT IN (SELECT forecast_id FROM matched_pairs)
	`, cutoff.UTC())
	if err != nil {
		return total, fmt.Errorf("purge stale forecasts: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.Exec(`
		DELETE FROM observation_points
		WHERE observed_at < ?
		  AND id NOT IN (SELECT observation_id FROM matched_pairs)
	`, cutoff.UTC())
	if err != nil {
		return total, fmt.Errorf("purge stale observations: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}

// PurgeConsumedPoints deletes raw points older than cutoff whose deviation
// already exists, then the pairs left dangling. Unmatched or not-yet
// deviated points are kept so a later run can still pick them up.
func (s *Store) PurgeConsumedPoints(cutoff time.Time) (int64, error) {
	var total int64

	res, err := s.db.Exec(`
		DELETE FROM forecast_points
		WHERE valid_time < ?
		  AND id IN (
			SELECT mp.forecast_id FROM matched_pairs mp
			JOIN deviations d ON d.valid_time = mp.valid_time
				AND d.site_id = mp.site_id AND d.model_id = mp.model_id
				AND d.parameter_id = mp.parameter_id AND d.horizon = mp.horizon
		  )
	`, cutoff.UTC())
	if err != nil {
		return total, fmt.Errorf("purge forecast points: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.Exec(`
		DELETE FROM observation_points
		WHERE observed_at < ?
		  AND id IN (SELECT observation_id FROM matched_pairs WHERE forecast_id NOT IN (SELECT id FROM forecast_points))
	`, cutoff.UTC())
	if err != nil {
		return total, fmt.Errorf("purge observation points: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	res, err = s.db.Exec(`
		DELETE FROM matched_pairs
		WHERE forecast_id NOT IN (SELECT id FROM forecast_points)
	`)
	if err != nil {
		return total, fmt.Errorf("purge matched pairs: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}
