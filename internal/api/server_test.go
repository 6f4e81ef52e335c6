package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jmhart/forecastcheck/internal/models"
	"github.com/jmhart/forecastcheck/internal/store"
)

func setupServer(t *testing.T) (*httptest.Server, *store.Store) {
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
	if err := st.UpsertSite(models.Site{SiteID: "leucate", Name: "Leucate Plage", Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertModel(models.ForecastModel{ModelID: "arome", Name: "AROME", Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertParameter(models.Parameter{ParameterID: "wind_speed", Unit: "km/h"}); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(NewServer(st, 0).Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func seedSummaries(t *testing.T, st *store.Store, days int) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		bucket := start.AddDate(0, 0, i)
		row := models.AccuracySummary{
			BucketStart: bucket, Granularity: models.GranularityDaily,
			SiteID: "leucate", ModelID: "arome", ParameterID: "wind_speed", Horizon: 12,
			MAE: 4, Bias: -1.5, StdDev: 2, SampleSize: 8,
			MinDeviation: -7, MaxDeviation: 5, ComputedAt: bucket.Add(26 * time.Hour),
		}
		if err := st.ReplaceSummaries(models.GranularityDaily, bucket, []models.AccuracySummary{row}); err != nil {
			t.Fatal(err)
		}
	}
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestAccuracyEndpoint(t *testing.T) {
	ts, st := setupServer(t)
	seedSummaries(t, st, 40)

	body := getJSON(t, ts.URL+"/api/accuracy?siteId=leucate&parameterId=wind_speed&horizon=12", http.StatusOK)

	if body["siteId"] != "leucate" || body["parameterId"] != "wind_speed" {
		t.Errorf("echo fields = %v/%v", body["siteId"], body["parameterId"])
	}
	modelsList, ok := body["models"].([]any)
	if !ok || len(modelsList) != 1 {
		t.Fatalf("models = %v, want one entry", body["models"])
	}
	m := modelsList[0].(map[string]any)
	if m["modelId"] != "arome" || m["modelName"] != "AROME" {
		t.Errorf("model = %v/%v, want arome/AROME", m["modelId"], m["modelName"])
	}
	if m["mae"] != 4.0 {
		t.Errorf("mae = %v, want 4", m["mae"])
	}
	if m["sampleSize"] != 320.0 {
		t.Errorf("sampleSize = %v, want 320", m["sampleSize"])
	}
	if m["daysOfData"] != 40.0 {
		t.Errorf("daysOfData = %v, want 40", m["daysOfData"])
	}

	if m["confidenceLevel"] != "preliminary" {
		t.Errorf("confidenceLevel = %v, want preliminary at 40 days", m["confidenceLevel"])
	}
	if m["confidenceMessage"] == "" {
		t.Error("confidenceMessage is empty")
	}
}

func TestAccuracyEndpoint_ThinHistoryStillReturned(t *testing.T) {
	ts, st := setupServer(t)
	seedSummaries(t, st, 3)

	body := getJSON(t, ts.URL+"/api/accuracy?siteId=leucate&parameterId=wind_speed&horizon=12", http.StatusOK)
	modelsList := body["models"].([]any)
	if len(modelsList) != 1 {
		t.Fatalf("models = %v, want the thin-history model included", body["models"])
	}
	m := modelsList[0].(map[string]any)
	if m["confidenceLevel"] != "insufficient" {
		t.Errorf("confidenceLevel = %v, want insufficient at 3 days", m["confidenceLevel"])
	}
}

func TestBiasEndpoint(t *testing.T) {
	ts, st := setupServer(t)
	seedSummaries(t, st, 100)

	body := getJSON(t, ts.URL+"/api/bias?modelId=arome&siteId=leucate&parameterId=wind_speed", http.StatusOK)

	horizons, ok := body["horizons"].([]any)
	if !ok || len(horizons) != 1 {
		t.Fatalf("horizons = %v, want one entry", body["horizons"])
	}
	h := horizons[0].(map[string]any)
	if h["horizon"] != 12.0 {
		t.Errorf("horizon = %v, want 12", h["horizon"])
	}
	if h["bias"] != -1.5 {
		t.Errorf("bias = %v, want -1.5", h["bias"])
	}
	if h["confidenceLevel"] != "validated" {
		t.Errorf("confidenceLevel = %v, want validated at 100 days", h["confidenceLevel"])
	}
}

func TestTimeseriesEndpoint(t *testing.T) {
	ts, st := setupServer(t)
	seedSummaries(t, st, 5)

	body := getJSON(t, ts.URL+"/api/timeseries?siteId=leucate&modelId=arome&parameterId=wind_speed&granularity=daily", http.StatusOK)

	if body["granularity"] != "daily" {
		t.Errorf("granularity = %v, want daily", body["granularity"])
	}
	points, ok := body["dataPoints"].([]any)
	if !ok || len(points) != 5 {
		t.Fatalf("dataPoints = %v, want 5 entries", body["dataPoints"])
	}
	p := points[0].(map[string]any)
	for _, key := range []string{"bucket", "mae", "bias", "sampleSize"} {
		if _, ok := p[key]; !ok {
			t.Errorf("dataPoint missing %q: %v", key, p)
		}
	}
}

func TestTimeseriesEndpoint_DefaultsToDaily(t *testing.T) {
	ts, st := setupServer(t)
	seedSummaries(t, st, 2)

	body := getJSON(t, ts.URL+"/api/timeseries?siteId=leucate&modelId=arome&parameterId=wind_speed", http.StatusOK)
	if body["granularity"] != "daily" {
		t.Errorf("granularity = %v, want daily by default", body["granularity"])
	}
}

func TestErrorPayloads(t *testing.T) {
	ts, _ := setupServer(t)

	tests := []struct {
		name   string
		url    string
		status int
		kind   string
	}{
		{"missing params", "/api/accuracy", http.StatusBadRequest, "bad_request"},
		{"bad horizon", "/api/accuracy?siteId=leucate&parameterId=wind_speed&horizon=abc", http.StatusBadRequest, "bad_request"},
		{"unknown site", "/api/accuracy?siteId=nowhere&parameterId=wind_speed&horizon=12", http.StatusNotFound, "not_found"},
		{"unknown model", "/api/bias?modelId=nope&siteId=leucate&parameterId=wind_speed", http.StatusNotFound, "not_found"},
		{"bad granularity", "/api/timeseries?siteId=leucate&modelId=arome&parameterId=wind_speed&granularity=hourly", http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := getJSON(t, ts.URL+tt.url, tt.status)
			errObj, ok := body["error"].(map[string]any)
			if !ok {
				t.Fatalf("body = %v, want error object", body)
			}
			if errObj["kind"] != tt.kind {
				t.Errorf("kind = %v, want %v", errObj["kind"], tt.kind)
			}
			if errObj["message"] == "" {
				t.Error("message is empty")
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupServer(t)

	body := getJSON(t, ts.URL+"/health", http.StatusOK)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["schemaVersion"] == 0.0 {
		t.Error("schemaVersion = 0, want the latest migration version")
	}
}
