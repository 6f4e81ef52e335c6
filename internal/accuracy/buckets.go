package accuracy

import (
	"time"

	"github.com/jmhart/forecastcheck/internal/models"
)

// BucketStart truncates t to the start of its bucket in UTC. Weekly
// buckets are ISO weeks starting Monday; monthly buckets start on the
// first of the month.
func BucketStart(g models.Granularity, t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case models.GranularityWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case models.GranularityMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// BucketEnd returns the exclusive end of the bucket starting at start.
func BucketEnd(g models.Granularity, start time.Time) time.Time {
	switch g {
	case models.GranularityWeekly:
		return start.AddDate(0, 0, 7)
	case models.GranularityMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}
