// Package jobs orchestrates the verification pipeline: match, deviate,
// aggregate, retention.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jmhart/forecastcheck/internal/accuracy"
	"github.com/jmhart/forecastcheck/internal/deviation"
	"github.com/jmhart/forecastcheck/internal/match"
	"github.com/jmhart/forecastcheck/internal/metrics"
	"github.com/jmhart/forecastcheck/internal/models"
	"github.com/jmhart/forecastcheck/internal/store"
)

const defaultChunkSize = 1000

type Runner struct {
	store     *store.Store
	agg       *accuracy.Aggregator
	retention *accuracy.Retention
	chunkSize int
	tolerance time.Duration
}

func NewRunner(s *store.Store, agg *accuracy.Aggregator, ret *accuracy.Retention) *Runner {
	return &Runner{
		store:     s,
		agg:       agg,
		retention: ret,
		chunkSize: defaultChunkSize,
		tolerance: match.DefaultTolerance,
	}
}

// RunAll executes one full pipeline pass. Each stage is idempotent, so a
// crash mid-pass is recovered by simply running again.
func (r *Runner) RunAll(ctx context.Context, now time.Time) error {
	stages := []struct {
		name string
		fn   func(context.Context, time.Time) (int64, int64, error)
	}{
		{"match", r.runMatch},
		{"deviate", r.runDeviate},
		{"aggregate", r.runAggregate},
		{"retention", r.runRetention},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runStage(ctx, st.name, now, st.fn); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}
	return nil
}

func (r *Runner) runStage(ctx context.Context, name string, now time.Time, fn func(context.Context, time.Time) (int64, int64, error)) error {
	runID, err := r.store.StartJobRun(name)
	if err != nil {
		return err
	}

	started := time.Now()
	in, out, err := fn(ctx, now)
	metrics.JobDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.JobFailures.WithLabelValues(name).Inc()
		if cerr := r.store.CompleteJobRun(runID, false, in, out, 0, err.Error()); cerr != nil {
			log.Printf("jobs: record failure of %s: %v", name, cerr)
		}
		return err
	}

	if err := r.store.CompleteJobRun(runID, true, in, out, 0, ""); err != nil {
		return err
	}
	log.Printf("jobs: %s done in %s (%d in, %d out)", name, time.Since(started).Round(time.Millisecond), in, out)
	return nil
}

// runMatch pages through unmatched forecasts and pairs them with the
// nearest observation.
func (r *Runner) runMatch(ctx context.Context, now time.Time) (int64, int64, error) {
	var in, out int64
	var afterID int64

	for {
		if err := ctx.Err(); err != nil {
			return in, out, err
		}

		forecasts, err := r.store.GetUnmatchedForecasts(now, afterID, r.chunkSize)
		if err != nil {
			return in, out, fmt.Errorf("fetch unmatched: %w", err)
		}
		if len(forecasts) == 0 {
			return in, out, nil
		}
		in += int64(len(forecasts))
		afterID = forecasts[len(forecasts)-1].ID

		observations, err := r.observationsFor(forecasts)
		if err != nil {
			return in, out, err
		}

		pairs := match.Pairs(forecasts, observations, r.tolerance)
		var inserted int
		err = r.commit(func() error {
			var err error
			inserted, err = r.store.InsertMatchedPairs(pairs)
			return err
		})
		if err != nil {
			return in, out, fmt.Errorf("insert pairs: %w", err)
		}
		out += int64(inserted)
		metrics.PairsMatched.Add(float64(inserted))
	}
}

// observationsFor loads, per site/parameter group, the observation window
// covering the chunk's valid times padded by the tolerance.
func (r *Runner) observationsFor(forecasts []models.ForecastPoint) ([]models.ObservationPoint, error) {
	type window struct {
		start, end time.Time
	}
	windows := make(map[[2]string]window)
	for _, f := range forecasts {
		k := [2]string{f.SiteID, f.ParameterID}
		w, ok := windows[k]
		if !ok {
			w = window{start: f.ValidTime, end: f.ValidTime}
		}
		if f.ValidTime.Before(w.start) {
			w.start = f.ValidTime
		}
		if f.ValidTime.After(w.end) {
			w.end = f.ValidTime
		}
		windows[k] = w
	}

	var observations []models.ObservationPoint
	for k, w := range windows {
		obs, err := r.store.GetObservationsInRange(k[0], k[1], w.start.Add(-r.tolerance), w.end.Add(r.tolerance))
		if err != nil {
			return nil, fmt.Errorf("fetch observations %s/%s: %w", k[0], k[1], err)
		}
		observations = append(observations, obs...)
	}
	return observations, nil
}

// runDeviate pages through pairs lacking a deviation and computes one
// per pair.
func (r *Runner) runDeviate(ctx context.Context, _ time.Time) (int64, int64, error) {
	params, err := r.store.GetParameters()
	if err != nil {
		return 0, 0, fmt.Errorf("load parameters: %w", err)
	}

	var in, out int64
	var afterID int64

	for {
		if err := ctx.Err(); err != nil {
			return in, out, err
		}

		pairs, err := r.store.GetPairsWithoutDeviation(afterID, r.chunkSize)
		if err != nil {
			return in, out, fmt.Errorf("fetch pairs: %w", err)
		}
		if len(pairs) == 0 {
			return in, out, nil
		}
		in += int64(len(pairs))
		afterID = pairs[len(pairs)-1].ID

		devs := make([]models.Deviation, 0, len(pairs))
		for _, p := range pairs {
			param, ok := params[p.ParameterID]
			if !ok {
				log.Printf("jobs: pair %d references unknown parameter %s", p.ID, p.ParameterID)
				continue
			}
			d := deviation.Compute(p, param)
			if d.IsOutlier {
				metrics.OutliersFlagged.WithLabelValues(p.ParameterID).Inc()
			}
			devs = append(devs, d)
		}

		var inserted int
		err = r.commit(func() error {
			var err error
			inserted, err = r.store.InsertDeviations(devs)
			return err
		})
		if err != nil {
			return in, out, fmt.Errorf("insert deviations: %w", err)
		}
		out += int64(inserted)
		metrics.DeviationsComputed.Add(float64(inserted))
	}
}

func (r *Runner) runAggregate(_ context.Context, now time.Time) (int64, int64, error) {
	refreshed, err := r.agg.Refresh(now)
	return 0, int64(refreshed), err
}

func (r *Runner) runRetention(_ context.Context, now time.Time) (int64, int64, error) {
	purged, err := r.retention.Apply(now)
	return 0, purged, err
}

// Backfill recomputes every summary bucket from the earliest stored
// deviation onward. Used after a bulk historical import. Retention runs
// last: summaries must cover the history before it may be purged.
func (r *Runner) Backfill(ctx context.Context, now time.Time) error {
	if err := r.runStage(ctx, "match", now, r.runMatch); err != nil {
		return fmt.Errorf("match: %w", err)
	}
	if err := r.runStage(ctx, "deviate", now, r.runDeviate); err != nil {
		return fmt.Errorf("deviate: %w", err)
	}

	earliest, err := r.store.EarliestDeviation()
	if err != nil {
		return fmt.Errorf("earliest deviation: %w", err)
	}
	if earliest.IsZero() {
		log.Printf("jobs: backfill found no deviations")
		return nil
	}

	refreshed, err := r.agg.RefreshRange(earliest, now, now)
	if err != nil {
		return fmt.Errorf("refresh range: %w", err)
	}
	log.Printf("jobs: backfill refreshed %d buckets from %s", refreshed, earliest.Format("2006-01-02"))

	if err := r.runStage(ctx, "retention", now, r.runRetention); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	return nil
}

// commit runs a write with retries so a transient SQLITE_BUSY under
// concurrent readers does not fail the whole pass.
func (r *Runner) commit(fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 15 * time.Second
	return backoff.Retry(fn, policy)
}
