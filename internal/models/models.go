package models

import (
	"database/sql"
	"math"
	"time"
)

// Site is a location where forecasts are verified against a beacon or
// weather station. Seeded at startup, rarely changes.
type Site struct {
	SiteID    string
	Name      string
	Latitude  float64
	Longitude float64
	Elevation float64
	Active    bool
}

// ForecastModel is a numerical weather model whose output we verify
// (e.g. AROME, ARPEGE, GFS).
type ForecastModel struct {
	ModelID  string
	Name     string
	Provider string
	Active   bool
}

// Parameter describes a measured quantity. Circular parameters (wind
// direction) get shortest-angular-distance deviation handling. A valid
// OutlierThreshold flags deviations whose magnitude exceeds it.
type Parameter struct {
	ParameterID      string
	Name             string
	Unit             string
	Circular         bool
	OutlierThreshold sql.NullFloat64
}

// ForecastPoint is one model prediction for a site/parameter at a valid
// time, issued at ForecastRun. Immutable once ingested.
type ForecastPoint struct {
	ID          int64
	SiteID      string
	ModelID     string
	ParameterID string
	ForecastRun time.Time
	ValidTime   time.Time
	Value       float64
	CreatedAt   time.Time
}

// Horizon is the forecast lead time in whole hours.
func (p ForecastPoint) Horizon() int {
	return int(math.Round(p.ValidTime.Sub(p.ForecastRun).Hours()))
}

// ObservationPoint is one ground-truth measurement. Immutable once ingested.
type ObservationPoint struct {
	ID          int64
	SiteID      string
	ParameterID string
	ObservedAt  time.Time
	Value       float64
	Source      string
	CreatedAt   time.Time
}

// MatchedPair links a forecast point to the observation chosen to verify
// it. A (ForecastID, ObservationID) pair exists at most once.
type MatchedPair struct {
	ID              int64
	ForecastID      int64
	ObservationID   int64
	SiteID          string
	ModelID         string
	ParameterID     string
	ValidTime       time.Time
	Horizon         int
	ForecastValue   float64
	ObservedValue   float64
	TimeDiffMinutes float64
	CreatedAt       time.Time
}

// Deviation is the residual observed − forecast for one matched pair.
// Keyed by (ValidTime, SiteID, ModelID, ParameterID, Horizon); once the
// deviation exists the raw points may be purged.
type Deviation struct {
	ValidTime     time.Time
	SiteID        string
	ModelID       string
	ParameterID   string
	Horizon       int
	ForecastValue float64
	ObservedValue float64
	Deviation     float64
	IsOutlier     bool
}

type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

func (g Granularity) Valid() bool {
	switch g {
	case GranularityDaily, GranularityWeekly, GranularityMonthly:
		return true
	}
	return false
}

// AccuracySummary is a derived per-bucket statistic row. Fully
// recomputable from deviations; never hand-edited.
type AccuracySummary struct {
	BucketStart  time.Time
	Granularity  Granularity
	SiteID       string
	ModelID      string
	ParameterID  string
	Horizon      int
	MAE          float64
	Bias         float64
	StdDev       float64
	SampleSize   int
	MinDeviation float64
	MaxDeviation float64
	ComputedAt   time.Time
}

// JobRun records one execution of a pipeline job for observability.
type JobRun struct {
	RunID          string
	Job            string
	StartedAt      time.Time
	FinishedAt     sql.NullTime
	Success        bool
	RecordsIn      int64
	RecordsOut     int64
	RecordsSkipped int64
	ErrorMessage   sql.NullString
}
