// Package confidence grades how trustworthy an accuracy statistic is
// based on how much history backs it.
package confidence

import "fmt"

type Level string

const (
	Insufficient Level = "insufficient"
	Preliminary  Level = "preliminary"
	Validated    Level = "validated"
)

const (
	// PreliminaryDays is the minimum history before statistics are
	// shown as meaningful at all.
	PreliminaryDays = 30
	// ValidatedDays is the history needed before statistics are
	// considered stable.
	ValidatedDays = 90
)

type Result struct {
	Level   Level
	Message string
}

// Evaluate grades a statistic backed by sampleSize deviations spread over
// daysOfData distinct days. Statistics are always returned to callers;
// the level tells the reader how much to trust them.
func Evaluate(sampleSize, daysOfData int) Result {
	if sampleSize == 0 || daysOfData < PreliminaryDays {
		return Result{
			Level:   Insufficient,
			Message: fmt.Sprintf("fewer than %d days of data; statistics are not yet meaningful", PreliminaryDays),
		}
	}
	if daysOfData < ValidatedDays {
		return Result{
			Level:   Preliminary,
			Message: fmt.Sprintf("based on %d days of data; statistics may still shift", daysOfData),
		}
	}
	return Result{
		Level:   Validated,
		Message: fmt.Sprintf("based on %d days of data", daysOfData),
	}
}
