package accuracy

import (
	"testing"
	"time"

	"github.com/jmhart/forecastcheck/internal/models"
)

func TestBucketStart(t *testing.T) {
	tests := []struct {
		g    models.Granularity
		in   time.Time
		want time.Time
	}{
		{models.GranularityDaily,
			time.Date(2026, 3, 4, 17, 30, 0, 0, time.UTC),
			time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)},
		// Wednesday resolves to the preceding Monday.
		{models.GranularityWeekly,
			time.Date(2026, 3, 4, 17, 30, 0, 0, time.UTC),
			time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		// Sunday still belongs to the week begun the prior Monday.
		{models.GranularityWeekly,
			time.Date(2026, 3, 8, 23, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		// Monday midnight is its own week start.
		{models.GranularityWeekly,
			time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		// New Year's Thursday reaches back across the year boundary.
		{models.GranularityWeekly,
			time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC),
			time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC)},
		{models.GranularityMonthly,
			time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC),
			time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := BucketStart(tt.g, tt.in); !got.Equal(tt.want) {
			t.Errorf("BucketStart(%s, %v) = %v, want %v", tt.g, tt.in, got, tt.want)
		}
	}
}

func TestBucketEnd(t *testing.T) {
	day := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	if got := BucketEnd(models.GranularityDaily, day); !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("daily BucketEnd = %v", got)
	}

	week := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if got := BucketEnd(models.GranularityWeekly, week); !got.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("weekly BucketEnd = %v", got)
	}

	month := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if got := BucketEnd(models.GranularityMonthly, month); !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly BucketEnd = %v", got)
	}
}
