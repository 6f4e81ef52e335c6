// Package match pairs forecast points with the observation closest to
// their valid time.
package match

import (
	"log"
	"sort"
	"time"

	"github.com/jmhart/forecastcheck/internal/models"
)

// DefaultTolerance is the maximum clock distance between a forecast's
// valid time and the observation used to verify it.
const DefaultTolerance = 30 * time.Minute

type obsKey struct {
	siteID      string
	parameterID string
}

// Pairs matches each forecast against the nearest observation for the
// same site and parameter within tolerance. Forecasts with no observation
// in range are left unpaired for a later run. Ties at equal distance go
// to the most recently ingested observation.
func Pairs(forecasts []models.ForecastPoint, observations []models.ObservationPoint, tolerance time.Duration) []models.MatchedPair {
	index := make(map[obsKey][]models.ObservationPoint)
	for _, o := range observations {
		if o.ObservedAt.IsZero() {
			log.Printf("match: skipping observation %d with zero timestamp", o.ID)
			continue
		}
		k := obsKey{o.SiteID, o.ParameterID}
		index[k] = append(index[k], o)
	}
	for _, obs := range index {
		sort.Slice(obs, func(i, j int) bool {
			if !obs[i].ObservedAt.Equal(obs[j].ObservedAt) {
				return obs[i].ObservedAt.Before(obs[j].ObservedAt)
			}
			return obs[i].ID < obs[j].ID
		})
	}

	var pairs []models.MatchedPair
	for _, f := range forecasts {
		if f.ValidTime.IsZero() || f.ForecastRun.IsZero() {
			log.Printf("match: skipping forecast %d with zero timestamp", f.ID)
			continue
		}
		obs := index[obsKey{f.SiteID, f.ParameterID}]
		best, ok := nearest(obs, f.ValidTime, tolerance)
		if !ok {
			continue
		}
		diff := best.ObservedAt.Sub(f.ValidTime)
		pairs = append(pairs, models.MatchedPair{
			ForecastID:      f.ID,
			ObservationID:   best.ID,
			SiteID:          f.SiteID,
			ModelID:         f.ModelID,
			ParameterID:     f.ParameterID,
			ValidTime:       f.ValidTime.UTC(),
			Horizon:         f.Horizon(),
			ForecastValue:   f.Value,
			ObservedValue:   best.Value,
			TimeDiffMinutes: diff.Abs().Minutes(),
		})
	}
	return pairs
}

// nearest finds the observation closest to t among the time-sorted slice.
// Equal distances resolve to the higher ID, the later ingest.
func nearest(obs []models.ObservationPoint, t time.Time, tolerance time.Duration) (models.ObservationPoint, bool) {
	if len(obs) == 0 {
		return models.ObservationPoint{}, false
	}

	i := sort.Search(len(obs), func(i int) bool {
		return !obs[i].ObservedAt.Before(t)
	})

	var best models.ObservationPoint
	bestDist := tolerance + 1
	consider := func(o models.ObservationPoint) {
		d := o.ObservedAt.Sub(t).Abs()
		if d > tolerance {
			return
		}
		if d < bestDist || (d == bestDist && o.ID > best.ID) {
			best = o
			bestDist = d
		}
	}
	if i < len(obs) {
		consider(obs[i])
	}
	if i > 0 {
		consider(obs[i-1])
	}
	// Neighbors can share a timestamp with the boundary entries.
	for j := i + 1; j < len(obs) && obs[j].ObservedAt.Equal(obs[i].ObservedAt); j++ {
		consider(obs[j])
	}
	for j := i - 2; j >= 0 && obs[j].ObservedAt.Equal(obs[i-1].ObservedAt); j-- {
		consider(obs[j])
	}

	if bestDist > tolerance {
		return models.ObservationPoint{}, false
	}
	return best, true
}
