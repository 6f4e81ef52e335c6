package jobs

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jmhart/forecastcheck/internal/accuracy"
	"github.com/jmhart/forecastcheck/internal/models"
	"github.com/jmhart/forecastcheck/internal/store"
)

func setupRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := st.UpsertSite(models.Site{SiteID: "leucate", Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertModel(models.ForecastModel{ModelID: "arome", Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertParameter(models.Parameter{ParameterID: "wind_speed", Unit: "km/h",
		OutlierThreshold: sql.NullFloat64{Float64: 50, Valid: true}}); err != nil {
		t.Fatal(err)
	}

	agg := accuracy.New(st, accuracy.DefaultFinalization)
	return NewRunner(st, agg, accuracy.NewRetention(st)), st
}

func TestRunAll_EndToEnd(t *testing.T) {
	runner, st := setupRunner(t)

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	run := day
	for hour := 6; hour <= 18; hour += 6 {
		valid := day.Add(time.Duration(hour) * time.Hour)
		if err := st.InsertForecastPoint(models.ForecastPoint{
			SiteID: "leucate", ModelID: "arome", ParameterID: "wind_speed",
			ForecastRun: run, ValidTime: valid, Value: 30,
		}); err != nil {
			t.Fatal(err)
		}
		if err := st.InsertObservationPoint(models.ObservationPoint{
			SiteID: "leucate", ParameterID: "wind_speed",
			ObservedAt: valid.Add(5 * time.Minute), Value: 34, Source: "beacon",
		}); err != nil {
			t.Fatal(err)
		}
	}

	now := day.Add(24 * time.Hour)
	if err := runner.RunAll(context.Background(), now); err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	devs, err := st.GetDeviations("leucate", "arome", "wind_speed", day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 3 {
		t.Fatalf("len(deviations) = %d, want 3", len(devs))
	}
	for _, d := range devs {
		if d.Deviation != 4 {
			t.Errorf("Deviation = %v, want 4", d.Deviation)
		}
		if d.IsOutlier {
			t.Error("IsOutlier = true, want false")
		}
	}

	summaries, err := st.GetSummaries("leucate", "arome", "wind_speed", models.GranularityDaily, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 3 {
		t.Fatalf("len(summaries) = %d, want 3 (one per horizon)", len(summaries))
	}

	// Running the whole pipeline again must not create anything new.
	if err := runner.RunAll(context.Background(), now); err != nil {
		t.Fatalf("RunAll rerun: %v", err)
	}
	devs, err = st.GetDeviations("leucate", "arome", "wind_speed", day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 3 {
		t.Errorf("len(deviations) = %d after rerun, want 3", len(devs))
	}

	runs, err := st.GetRecentJobRuns("match", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(match runs) = %d, want 2", len(runs))
	}
	for _, r := range runs {
		if !r.Success {
			t.Errorf("run %s not marked successful", r.RunID)
		}
	}
}

func TestRunAll_ChunksLargeBacklogs(t *testing.T) {
	runner, st := setupRunner(t)
	runner.chunkSize = 2

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		valid := day.Add(time.Duration(i) * time.Hour)
		if err := st.InsertForecastPoint(models.ForecastPoint{
			SiteID: "leucate", ModelID: "arome", ParameterID: "wind_speed",
			ForecastRun: day.Add(-12 * time.Hour), ValidTime: valid, Value: 20,
		}); err != nil {
			t.Fatal(err)
		}
		if err := st.InsertObservationPoint(models.ObservationPoint{
			SiteID: "leucate", ParameterID: "wind_speed",
			ObservedAt: valid, Value: 21, Source: "beacon",
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := runner.RunAll(context.Background(), day.Add(24*time.Hour)); err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	devs, err := st.GetDeviations("leucate", "arome", "wind_speed", day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 7 {
		t.Errorf("len(deviations) = %d, want 7 across chunks", len(devs))
	}
}

func TestRunAll_LeavesUnmatchableForecastsForLater(t *testing.T) {
	runner, st := setupRunner(t)

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := st.InsertForecastPoint(models.ForecastPoint{
		SiteID: "leucate", ModelID: "arome", ParameterID: "wind_speed",
		ForecastRun: day, ValidTime: day.Add(6 * time.Hour), Value: 20,
	}); err != nil {
		t.Fatal(err)
	}

	now := day.Add(24 * time.Hour)
	if err := runner.RunAll(context.Background(), now); err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	forecasts, err := st.GetUnmatchedForecasts(now, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(forecasts) != 1 {
		t.Fatalf("len(unmatched) = %d, want 1", len(forecasts))
	}

	// The observation arrives late; the next pass picks the pair up.
	if err := st.InsertObservationPoint(models.ObservationPoint{
		SiteID: "leucate", ParameterID: "wind_speed",
		ObservedAt: day.Add(6 * time.Hour), Value: 25, Source: "beacon",
	}); err != nil {
		t.Fatal(err)
	}
	if err := runner.RunAll(context.Background(), now); err != nil {
		t.Fatalf("RunAll second pass: %v", err)
	}

	devs, err := st.GetDeviations("leucate", "arome", "wind_speed", day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 1 {
		t.Errorf("len(deviations) = %d, want 1 after late observation", len(devs))
	}
}

func TestBackfill_SummarizesBeforePurging(t *testing.T) {
	runner, st := setupRunner(t)

	// Bulk-imported history from past the deviation retention window.
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ancientDay := now.AddDate(0, 0, -400)
	if _, err := st.InsertDeviations([]models.Deviation{{
		ValidTime: ancientDay.Add(12 * time.Hour), SiteID: "leucate", ModelID: "arome",
		ParameterID: "wind_speed", Horizon: 12, ForecastValue: 20, ObservedValue: 27, Deviation: 7,
	}}); err != nil {
		t.Fatal(err)
	}

	if err := runner.Backfill(context.Background(), now); err != nil {
		t.Fatalf("Backfill: %v", err)
	}

	// The history made it into a summary before retention could see it.
	summaries, err := st.GetSummaries("leucate", "arome", "wind_speed", models.GranularityDaily, ancientDay, ancientDay.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1 for the ancient day", len(summaries))
	}
	if summaries[0].SampleSize != 1 || summaries[0].MAE != 7 {
		t.Errorf("summary = n %d, MAE %v, want n 1, MAE 7", summaries[0].SampleSize, summaries[0].MAE)
	}

	// Expired and now summarized, the deviation itself is gone.
	devs, err := st.GetDeviations("leucate", "arome", "wind_speed", ancientDay, ancientDay.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 0 {
		t.Errorf("len(deviations) = %d, want 0 after the backfill's retention pass", len(devs))
	}
}

func TestBackfill_RecomputesHistory(t *testing.T) {
	runner, st := setupRunner(t)

	// Deviations far older than the finalization window.
	oldDay := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := st.InsertDeviations([]models.Deviation{{
		ValidTime: oldDay.Add(12 * time.Hour), SiteID: "leucate", ModelID: "arome",
		ParameterID: "wind_speed", Horizon: 12, ForecastValue: 20, ObservedValue: 26, Deviation: 6,
	}}); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := runner.Backfill(context.Background(), now); err != nil {
		t.Fatalf("Backfill: %v", err)
	}

	summaries, err := st.GetSummaries("leucate", "arome", "wind_speed", models.GranularityDaily, oldDay, oldDay.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1 for the historical day", len(summaries))
	}
	if summaries[0].SampleSize != 1 {
		t.Errorf("SampleSize = %d, want 1", summaries[0].SampleSize)
	}
}
