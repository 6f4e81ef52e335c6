// Package deviation computes forecast residuals from matched pairs.
package deviation

import (
	"math"

	"github.com/jmhart/forecastcheck/internal/models"
)

// Compute derives the deviation record for one matched pair. The sign
// convention is observed minus forecast: positive means the model
// under-forecast. Circular parameters take the shortest angular distance,
// so a 350° forecast against a 10° observation deviates by +20°, not −340°.
func Compute(pair models.MatchedPair, param models.Parameter) models.Deviation {
	var dev float64
	if param.Circular {
		dev = Angular(pair.ForecastValue, pair.ObservedValue)
	} else {
		dev = pair.ObservedValue - pair.ForecastValue
	}

	outlier := false
	if param.OutlierThreshold.Valid && math.Abs(dev) > param.OutlierThreshold.Float64 {
		outlier = true
	}

	return models.Deviation{
		ValidTime:     pair.ValidTime,
		SiteID:        pair.SiteID,
		ModelID:       pair.ModelID,
		ParameterID:   pair.ParameterID,
		Horizon:       pair.Horizon,
		ForecastValue: pair.ForecastValue,
		ObservedValue: pair.ObservedValue,
		Deviation:     dev,
		IsOutlier:     outlier,
	}
}

// Angular returns observed − forecast normalized to [−180, 180].
func Angular(forecast, observed float64) float64 {
	d := math.Mod(observed-forecast, 360)
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}
