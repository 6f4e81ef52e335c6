package accuracy

import (
	"testing"
	"time"

	"github.com/jmhart/forecastcheck/internal/models"
)

func TestApply_DeviationsWaitForSummaryCoverage(t *testing.T) {
	st := setupStore(t)
	ret := NewRetention(st)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	oldDay := now.AddDate(0, 0, -400)
	recentDay := now.AddDate(0, 0, -10)
	insertDeviations(t, st, []time.Time{oldDay.Add(12 * time.Hour)}, []float64{5})
	insertDeviations(t, st, []time.Time{recentDay.Add(12 * time.Hour)}, []float64{3})

	// The old day has no summary yet. A bulk import of history must not
	// be purged before a backfill has summarized it.
	if _, err := ret.Apply(now); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	devs, err := st.GetDeviations("leucate", "arome", "wind_speed", oldDay, oldDay.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 1 {
		t.Fatalf("len(deviations) = %d, want 1 while uncovered", len(devs))
	}

	// Once a backfill writes the daily summary, the next purge takes it.
	agg := New(st, DefaultFinalization)
	if _, err := agg.RefreshRange(oldDay, oldDay.AddDate(0, 0, 1), now); err != nil {
		t.Fatalf("RefreshRange: %v", err)
	}
	if _, err := ret.Apply(now); err != nil {
		t.Fatalf("Apply after backfill: %v", err)
	}
	devs, err = st.GetDeviations("leucate", "arome", "wind_speed", oldDay, oldDay.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 0 {
		t.Errorf("len(deviations) = %d, want 0 once covered", len(devs))
	}

	rows, err := st.GetSummaries("leucate", "arome", "wind_speed", models.GranularityDaily, oldDay, oldDay.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("len(summaries) = %d, want 1 (summary outlives its deviations)", len(rows))
	}

	// The recent deviation is inside the retention window either way.
	devs, err = st.GetDeviations("leucate", "arome", "wind_speed", recentDay, recentDay.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 1 {
		t.Errorf("len(recent deviations) = %d, want 1", len(devs))
	}
}

func TestApply_PurgesStaleUnmatchedPoints(t *testing.T) {
	st := setupStore(t)
	ret := NewRetention(st)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pairedTime := now.AddDate(0, 0, -45)
	staleTime := now.AddDate(0, 0, -40)
	recentTime := now.AddDate(0, 0, -5)

	insertPoint := func(valid time.Time) {
		t.Helper()
		if err := st.InsertForecastPoint(models.ForecastPoint{
			SiteID: "leucate", ModelID: "arome", ParameterID: "wind_speed",
			ForecastRun: valid.Add(-12 * time.Hour), ValidTime: valid, Value: 20,
		}); err != nil {
			t.Fatal(err)
		}
		if err := st.InsertObservationPoint(models.ObservationPoint{
			SiteID: "leucate", ParameterID: "wind_speed",
			ObservedAt: valid, Value: 24, Source: "beacon",
		}); err != nil {
			t.Fatal(err)
		}
	}

	// A pair whose deviation has not been computed yet keeps its points.
	insertPoint(pairedTime)
	forecasts, err := st.GetUnmatchedForecasts(now, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	obs, err := st.GetObservationsInRange("leucate", "wind_speed", pairedTime, pairedTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(forecasts) != 1 || len(obs) != 1 {
		t.Fatalf("seed rows = %d forecasts, %d observations, want 1/1", len(forecasts), len(obs))
	}
	if _, err := st.InsertMatchedPairs([]models.MatchedPair{{
		ForecastID: forecasts[0].ID, ObservationID: obs[0].ID,
		SiteID: "leucate", ModelID: "arome", ParameterID: "wind_speed",
		ValidTime: pairedTime, Horizon: 12, ForecastValue: 20, ObservedValue: 24,
	}}); err != nil {
		t.Fatal(err)
	}

	insertPoint(staleTime)
	insertPoint(recentTime)

	if _, err := ret.Apply(now); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// The stale unmatched forecast is gone; the recent one survives.
	forecasts, err = st.GetUnmatchedForecasts(now, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(forecasts) != 1 {
		t.Fatalf("len(unmatched) = %d, want 1", len(forecasts))
	}
	if !forecasts[0].ValidTime.Equal(recentTime) {
		t.Errorf("surviving forecast ValidTime = %v, want %v", forecasts[0].ValidTime, recentTime)
	}

	obs, err = st.GetObservationsInRange("leucate", "wind_speed", staleTime, staleTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 0 {
		t.Errorf("len(stale observations) = %d, want 0", len(obs))
	}

	// The paired points wait for their deviation before any purge.
	obs, err = st.GetObservationsInRange("leucate", "wind_speed", pairedTime, pairedTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 1 {
		t.Errorf("len(paired observations) = %d, want 1", len(obs))
	}
}
