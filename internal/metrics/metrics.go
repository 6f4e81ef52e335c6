// Package metrics defines the Prometheus instruments exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecastcheck_records_imported_total",
		Help: "Forecast and observation records accepted during import",
	}, []string{"kind"})

	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecastcheck_records_skipped_total",
		Help: "Import records skipped as duplicates or malformed",
	}, []string{"kind", "reason"})

	PairsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forecastcheck_pairs_matched_total",
		Help: "Forecast-observation pairs created by the matcher",
	})

	DeviationsComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forecastcheck_deviations_computed_total",
		Help: "Deviation rows computed from matched pairs",
	})

	OutliersFlagged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecastcheck_outliers_flagged_total",
		Help: "Deviations flagged as outliers",
	}, []string{"parameter"})

	SummariesRefreshed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecastcheck_summaries_refreshed_total",
		Help: "Summary buckets recomputed by the aggregator",
	}, []string{"granularity"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forecastcheck_job_duration_seconds",
		Help:    "Wall time of pipeline job executions",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"job"})

	JobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecastcheck_job_failures_total",
		Help: "Pipeline job executions that ended in error",
	}, []string{"job"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecastcheck_http_requests_total",
		Help: "API requests by endpoint and status code",
	}, []string{"endpoint", "status"})
)
