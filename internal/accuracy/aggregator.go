// Package accuracy recomputes per-bucket summary statistics from stored
// deviations.
package accuracy

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/jmhart/forecastcheck/internal/metrics"
	"github.com/jmhart/forecastcheck/internal/models"
	"github.com/jmhart/forecastcheck/internal/store"
)

// DefaultFinalization is how long a bucket stays open to late-arriving
// deviations before it is considered final and no longer recomputed.
const DefaultFinalization = 72 * time.Hour

type Aggregator struct {
	store        *store.Store
	finalization time.Duration
}

func New(s *store.Store, finalization time.Duration) *Aggregator {
	if finalization <= 0 {
		finalization = DefaultFinalization
	}
	return &Aggregator{store: s, finalization: finalization}
}

// Refresh recomputes every bucket still inside the finalization window,
// for all three granularities. Recomputation replaces the bucket's rows
// wholesale, so running it twice against the same deviations yields
// identical summaries.
func (a *Aggregator) Refresh(now time.Time) (int, error) {
	return a.refreshWindow(now.Add(-a.finalization), now, now)
}

// RefreshRange recomputes every bucket intersecting [start, end),
// ignoring finalization. Used by backfill after bulk imports of
// historical data.
func (a *Aggregator) RefreshRange(start, end, now time.Time) (int, error) {
	return a.refreshWindow(start, end, now)
}

func (a *Aggregator) refreshWindow(start, end, now time.Time) (int, error) {
	refreshed := 0
	for _, g := range []models.Granularity{models.GranularityDaily, models.GranularityWeekly, models.GranularityMonthly} {
		n, err := a.refreshGranularity(g, start, end, now)
		if err != nil {
			return refreshed, fmt.Errorf("refresh %s: %w", g, err)
		}
		refreshed += n
	}
	return refreshed, nil
}

func (a *Aggregator) refreshGranularity(g models.Granularity, start, end, now time.Time) (int, error) {
	refreshed := 0
	last := BucketStart(g, end)
	for bucket := BucketStart(g, start); !bucket.After(last); bucket = BucketEnd(g, bucket) {
		stats, err := a.store.GetDeviationStats(bucket, BucketEnd(g, bucket))
		if err != nil {
			return refreshed, fmt.Errorf("stats for bucket %s: %w", bucket.Format("2006-01-02"), err)
		}

		rows := make([]models.AccuracySummary, 0, len(stats))
		for _, st := range stats {
			rows = append(rows, summaryFromStats(st, g, bucket, now))
		}

		if err := a.store.ReplaceSummaries(g, bucket, rows); err != nil {
			return refreshed, fmt.Errorf("replace bucket %s: %w", bucket.Format("2006-01-02"), err)
		}
		refreshed++
		metrics.SummariesRefreshed.WithLabelValues(string(g)).Inc()
		if len(rows) > 0 {
			log.Printf("aggregator: refreshed %s bucket %s (%d groups)", g, bucket.Format("2006-01-02"), len(rows))
		}
	}
	return refreshed, nil
}

func summaryFromStats(st store.DeviationStats, g models.Granularity, bucket, now time.Time) models.AccuracySummary {
	return models.AccuracySummary{
		BucketStart:  bucket,
		Granularity:  g,
		SiteID:       st.SiteID,
		ModelID:      st.ModelID,
		ParameterID:  st.ParameterID,
		Horizon:      st.Horizon,
		MAE:          st.MAE,
		Bias:         st.Bias,
		StdDev:       sampleStdDev(st.SumSquares, st.SampleSize, st.Bias),
		SampleSize:   st.SampleSize,
		MinDeviation: st.MinDeviation,
		MaxDeviation: st.MaxDeviation,
		ComputedAt:   now.UTC(),
	}
}

// sampleStdDev computes the n−1 standard deviation from the sum of
// squared deviations and their mean.
func sampleStdDev(sumSquares float64, n int, mean float64) float64 {
	if n < 2 {
		return 0
	}
	variance := (sumSquares - float64(n)*mean*mean) / float64(n-1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}
