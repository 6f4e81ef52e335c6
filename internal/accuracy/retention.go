package accuracy

import (
	"fmt"
	"log"
	"time"

	"github.com/jmhart/forecastcheck/internal/models"
	"github.com/jmhart/forecastcheck/internal/store"
)

// Retention applies the data lifecycle: raw points go first, deviations
// after a year, daily summaries after two. Weekly and monthly summaries
// are kept indefinitely.
type Retention struct {
	store *store.Store

	PointTTL        time.Duration
	DeviationTTL    time.Duration
	DailySummaryTTL time.Duration
	JobRunTTL       time.Duration
}

func NewRetention(s *store.Store) *Retention {
	return &Retention{
		store:           s,
		PointTTL:        30 * 24 * time.Hour,
		DeviationTTL:    365 * 24 * time.Hour,
		DailySummaryTTL: 730 * 24 * time.Hour,
		JobRunTTL:       90 * 24 * time.Hour,
	}
}

// Apply purges expired rows and returns the total deleted. Raw points are
// only deleted once their deviation exists or they can no longer match;
// deviations only once a daily summary for their bucket covers them, so a
// bulk import of old history survives until a backfill has summarized it.
func (r *Retention) Apply(now time.Time) (int64, error) {
	var total int64

	n, err := r.store.PurgeConsumedPoints(now.Add(-r.PointTTL))
	if err != nil {
		return total, fmt.Errorf("purge points: %w", err)
	}
	total += n

	// The extra hour keeps points inside the matching tolerance alive.
	n, err = r.store.PurgeStalePoints(now.Add(-r.PointTTL - time.Hour))
	if err != nil {
		return total, fmt.Errorf("purge stale points: %w", err)
	}
	total += n

	n, err = r.purgeCoveredDeviations(now)
	if err != nil {
		return total, fmt.Errorf("purge deviations: %w", err)
	}
	total += n

	n, err = r.store.PurgeSummariesBefore(models.GranularityDaily, now.Add(-r.DailySummaryTTL))
	if err != nil {
		return total, fmt.Errorf("purge daily summaries: %w", err)
	}
	total += n

	n, err = r.store.PurgeJobRunsBefore(now.Add(-r.JobRunTTL))
	if err != nil {
		return total, fmt.Errorf("purge job runs: %w", err)
	}
	total += n

	if total > 0 {
		log.Printf("retention: purged %d expired rows", total)
	}
	return total, nil
}

// purgeCoveredDeviations walks the fully expired daily buckets and deletes
// each only where its summary row exists.
func (r *Retention) purgeCoveredDeviations(now time.Time) (int64, error) {
	earliest, err := r.store.EarliestDeviation()
	if err != nil {
		return 0, err
	}
	if earliest.IsZero() {
		return 0, nil
	}

	cutoff := now.Add(-r.DeviationTTL)
	var total int64
	for bucket := BucketStart(models.GranularityDaily, earliest); ; {
		end := BucketEnd(models.GranularityDaily, bucket)
		if end.After(cutoff) {
			break
		}
		n, err := r.store.PurgeCoveredDeviations(bucket, end)
		if err != nil {
			return total, err
		}
		total += n
		bucket = end
	}
	return total, nil
}
