package store

import (
	"fmt"
	"math"
	"time"

	"github.com/jmhart/forecastcheck/internal/models"
)

// ReplaceSummaries atomically rewrites every summary row for one bucket of
// one granularity. Delete-then-insert keeps recomputation deterministic:
// groups that lost all deviations disappear instead of lingering.
func (s *Store) ReplaceSummaries(g models.Granularity, bucketStart time.Time, rows []models.AccuracySummary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM summaries WHERE granularity = ? AND bucket_start = ?`,
		string(g), bucketStart.UTC()); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear bucket: %w", err)
	}

	for _, r := range rows {
		if _, err := tx.Exec(`
			INSERT INTO summaries (bucket_start, granularity, site_id, model_id, parameter_id, horizon,
				mae, bias, std_dev, sample_size, min_deviation, max_deviation, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.BucketStart.UTC(), string(r.Granularity), r.SiteID, r.ModelID, r.ParameterID, r.Horizon,
			r.MAE, r.Bias, r.StdDev, r.SampleSize, r.MinDeviation, r.MaxDeviation, r.ComputedAt.UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert summary %s/%s/%s: %w", r.SiteID, r.ModelID, r.ParameterID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetSummaries(siteID, modelID, parameterID string, g models.Granularity, start, end time.Time) ([]models.AccuracySummary, error) {
	rows, err := s.db.Query(`
		SELECT bucket_start, granularity, site_id, model_id, parameter_id, horizon,
		       mae, bias, std_dev, sample_size, min_deviation, max_deviation, computed_at
		FROM summaries
		WHERE site_id = ? AND model_id = ? AND parameter_id = ? AND granularity = ?
		  AND bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start ASC, horizon ASC
	`, siteID, modelID, parameterID, string(g), start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.AccuracySummary
	for rows.Next() {
		var r models.AccuracySummary
		var g string
		if err := rows.Scan(&r.BucketStart, &g, &r.SiteID, &r.ModelID, &r.ParameterID, &r.Horizon,
			&r.MAE, &r.Bias, &r.StdDev, &r.SampleSize, &r.MinDeviation, &r.MaxDeviation, &r.ComputedAt); err != nil {
			return nil, err
		}
		r.Granularity = models.Granularity(g)
		result = append(result, r)
	}
	return result, rows.Err()
}

// ModelAccuracy is the pooled all-time accuracy of one model for a
// site/parameter/horizon, recombined from daily summary rows so it stays
// answerable after raw deviations are purged.
type ModelAccuracy struct {
	ModelID     string
	ModelName   string
	MAE         float64
	Bias        float64
	StdDev      float64
	SampleSize  int
	DaysOfData  int
	FirstBucket time.Time
	LastBucket  time.Time
}

// pooledStdDev recombines per-bucket (n, mean, sample stddev) triples:
// each bucket contributes (n−1)·s² + n·m² to the sum of squares.
func pooledStdDev(sumSquares float64, n int, mean float64) float64 {
	if n < 2 {
		return 0
	}
	variance := (sumSquares - float64(n)*mean*mean) / float64(n-1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func (s *Store) GetAccuracyByModel(siteID, parameterID string, horizon int) ([]ModelAccuracy, error) {
	rows, err := s.db.Query(`
		SELECT su.model_id,
		       COALESCE(m.name, su.model_id) as model_name,
		       SUM(su.sample_size) as n,
		       SUM(su.bias * su.sample_size) as bias_sum,
		       SUM(su.mae * su.sample_size) as mae_sum,
		       SUM((su.sample_size - 1) * su.std_dev * su.std_dev + su.sample_size * su.bias * su.bias) as sum_squares,
		       COUNT(DISTINCT su.bucket_start) as days,
		       MIN(su.bucket_start) as first_bucket,
		       MAX(su.bucket_start) as last_bucket
		FROM summaries su
		LEFT JOIN forecast_models m ON m.model_id = su.model_id
		WHERE su.site_id = ? AND su.parameter_id = ? AND su.horizon = ? AND su.granularity = 'daily'
		GROUP BY su.model_id
		ORDER BY SUM(su.mae * su.sample_size) / SUM(su.sample_size) ASC
	`, siteID, parameterID, horizon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ModelAccuracy
	for rows.Next() {
		var r ModelAccuracy
		var biasSum, maeSum, sumSquares float64
		if err := rows.Scan(&r.ModelID, &r.ModelName, &r.SampleSize, &biasSum, &maeSum,
			&sumSquares, &r.DaysOfData, &r.FirstBucket, &r.LastBucket); err != nil {
			return nil, err
		}
		if r.SampleSize > 0 {
			r.Bias = biasSum / float64(r.SampleSize)
			r.MAE = maeSum / float64(r.SampleSize)
			r.StdDev = pooledStdDev(sumSquares, r.SampleSize, r.Bias)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// HorizonBias is the pooled bias/MAE of one model at one lead time.
type HorizonBias struct {
	Horizon    int
	Bias       float64
	MAE        float64
	SampleSize int
	DaysOfData int
}

func (s *Store) GetBiasByHorizon(modelID, siteID, parameterID string) ([]HorizonBias, error) {
	rows, err := s.db.Query(`
		SELECT horizon,
		       SUM(sample_size) as n,
		       SUM(bias * sample_size) as bias_sum,
		       SUM(mae * sample_size) as mae_sum,
		       COUNT(DISTINCT bucket_start) as days
		FROM summaries
		WHERE model_id = ? AND site_id = ? AND parameter_id = ? AND granularity = 'daily'
		GROUP BY horizon
		ORDER BY horizon ASC
	`, modelID, siteID, parameterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []HorizonBias
	for rows.Next() {
		var r HorizonBias
		var biasSum, maeSum float64
		if err := rows.Scan(&r.Horizon, &r.SampleSize, &biasSum, &maeSum, &r.DaysOfData); err != nil {
			return nil, err
		}
		if r.SampleSize > 0 {
			r.Bias = biasSum / float64(r.SampleSize)
			r.MAE = maeSum / float64(r.SampleSize)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// TimeseriesPoint is one bucket of a summary timeseries, recombined
// across horizons.
type TimeseriesPoint struct {
	BucketStart time.Time
	MAE         float64
	Bias        float64
	SampleSize  int
}

func (s *Store) GetSummaryTimeseries(siteID, modelID, parameterID string, g models.Granularity) ([]TimeseriesPoint, error) {
	rows, err := s.db.Query(`
		SELECT bucket_start,
		       SUM(sample_size) as n,
		       SUM(mae * sample_size) as mae_sum,
		       SUM(bias * sample_size) as bias_sum
		FROM summaries
		WHERE site_id = ? AND model_id = ? AND parameter_id = ? AND granularity = ?
		GROUP BY bucket_start
		ORDER BY bucket_start ASC
	`, siteID, modelID, parameterID, string(g))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TimeseriesPoint
	for rows.Next() {
		var r TimeseriesPoint
		var maeSum, biasSum float64
		if err := rows.Scan(&r.BucketStart, &r.SampleSize, &maeSum, &biasSum); err != nil {
			return nil, err
		}
		if r.SampleSize > 0 {
			r.MAE = maeSum / float64(r.SampleSize)
			r.Bias = biasSum / float64(r.SampleSize)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// PurgeSummariesBefore deletes summary rows of one granularity older than
// cutoff. Weekly and monthly summaries are retained indefinitely; callers
// only pass daily here.
func (s *Store) PurgeSummariesBefore(g models.Granularity, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM summaries WHERE granularity = ? AND bucket_start < ?`,
		string(g), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
