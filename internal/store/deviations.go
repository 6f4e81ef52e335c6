package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmhart/forecastcheck/internal/models"
)

// InsertDeviations writes one chunk of deviations in a single transaction.
// The composite primary key makes re-runs a no-op; returns the number of
// rows actually inserted.
func (s *Store) InsertDeviations(devs []models.Deviation) (int, error) {
	if len(devs) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}

	inserted := 0
	for _, d := range devs {
		res, err := tx.Exec(`
			INSERT INTO deviations (valid_time, site_id, model_id, parameter_id, horizon, forecast_value, observed_value, deviation, is_outlier)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(valid_time, site_id, model_id, parameter_id, horizon) DO NOTHING
		`, d.ValidTime.UTC(), d.SiteID, d.ModelID, d.ParameterID, d.Horizon, d.ForecastValue, d.ObservedValue, d.Deviation, d.IsOutlier)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert deviation %s/%s/%s: %w", d.SiteID, d.ModelID, d.ParameterID, err)
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

func (s *Store) GetDeviations(siteID, modelID, parameterID string, start, end time.Time) ([]models.Deviation, error) {
	rows, err := s.db.Query(`
		SELECT valid_time, site_id, model_id, parameter_id, horizon, forecast_value, observed_value, deviation, is_outlier
		FROM deviations
		WHERE site_id = ? AND model_id = ? AND parameter_id = ? AND valid_time >= ? AND valid_time < ?
		ORDER BY valid_time ASC, horizon ASC
	`, siteID, modelID, parameterID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devs []models.Deviation
	for rows.Next() {
		var d models.Deviation
		if err := rows.Scan(&d.ValidTime, &d.SiteID, &d.ModelID, &d.ParameterID, &d.Horizon,
			&d.ForecastValue, &d.ObservedValue, &d.Deviation, &d.IsOutlier); err != nil {
			return nil, err
		}
		devs = append(devs, d)
	}
	return devs, rows.Err()
}

// DeviationStats is the per-group aggregate over one bucket window.
// SumSquares feeds the standard deviation computation; SQLite has no
// stddev aggregate.
type DeviationStats struct {
	SiteID       string
	ModelID      string
	ParameterID  string
	Horizon      int
	SampleSize   int
	Bias         float64
	MAE          float64
	SumSquares   float64
	MinDeviation float64
	MaxDeviation float64
}

// GetDeviationStats aggregates deviations in [start, end) grouped by
// (site, model, parameter, horizon). Ordered by the group key so repeated
// runs over the same data produce identical row sequences.
func (s *Store) GetDeviationStats(start, end time.Time) ([]DeviationStats, error) {
	rows, err := s.db.Query(`
		SELECT site_id, model_id, parameter_id, horizon,
		       COUNT(*) as sample_size,
		       AVG(deviation) as bias,
		       AVG(ABS(deviation)) as mae,
		       SUM(deviation * deviation) as sum_squares,
		       MIN(deviation) as min_deviation,
		       MAX(deviation) as max_deviation
		FROM deviations
		WHERE valid_time >= ? AND valid_time < ?
		GROUP BY site_id, model_id, parameter_id, horizon
		ORDER BY site_id, model_id, parameter_id, horizon
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []DeviationStats
	for rows.Next() {
		var st DeviationStats
		if err := rows.Scan(&st.SiteID, &st.ModelID, &st.ParameterID, &st.Horizon,
			&st.SampleSize, &st.Bias, &st.MAE, &st.SumSquares, &st.MinDeviation, &st.MaxDeviation); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// EarliestDeviation returns the oldest deviation valid time, or zero when
// the table is empty.
func (s *Store) EarliestDeviation() (time.Time, error) {
	var earliest sql.NullTime
	if err := s.db.QueryRow(`SELECT MIN(valid_time) FROM deviations`).Scan(&earliest); err != nil {
		return time.Time{}, err
	}
	if !earliest.Valid {
		return time.Time{}, nil
	}
	return earliest.Time, nil
}

// PurgeCoveredDeviations deletes deviations inside one daily bucket, but
// only for groups whose summary row for that bucket exists. Deviations a
// summary never covered stay until a backfill bakes them in.
func (s *Store) PurgeCoveredDeviations(bucketStart, bucketEnd time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM deviations
		WHERE valid_time >= ? AND valid_time < ?
		  AND EXISTS (
			SELECT 1 FROM summaries su
			WHERE su.granularity = 'daily'
			  AND su.bucket_start = ?
			  AND su.site_id = deviations.site_id
			  AND su.model_id = deviations.model_id
			  AND su.parameter_id = deviations.parameter_id
			  AND su.horizon = deviations.horizon
		  )
	`, bucketStart.UTC(), bucketEnd.UTC(), bucketStart.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
