// Package scoring holds the pure time-decay ranking functions shared by the
// vote engine and the batch rescorer. Nothing here reads a clock.
package scoring

import (
	"math"
	"time"

	"forumkarma/internal/models"
)

const (
	// DefaultDecayFactor is the exponent of the age penalty
	DefaultDecayFactor = 1.15

	// DefaultFrontpageBonus is added to baseScore for frontpaged documents
	DefaultFrontpageBonus = 10.0

	// DefaultCuratedBonus is added on top of the frontpage bonus for curated documents
	DefaultCuratedBonus = 10.0

	// DefaultInactivityThresholdDays is the age after which a single vote stops mattering
	DefaultInactivityThresholdDays = 30

	millisPerHour = 3_600_000
	ageOffset     = 2.0
)

// ComputeBaseScoreWithBonuses adds fixed bonuses to the raw vote-derived base score
func ComputeBaseScoreWithBonuses(baseScore float64, bonuses ...float64) float64 {
	total := baseScore
	for _, b := range bonuses {
		total += b
	}
	return total
}

// AgeInHours measures the elapsed time between the scoring timestamp and now
// at millisecond resolution.
func AgeInHours(scoringTimestamp, now time.Time) float64 {
	return float64(now.Sub(scoringTimestamp).Milliseconds()) / millisPerHour
}

// IsScoreable reports whether a document with this scoring timestamp takes
// part in scoring at all. Future timestamps are excluded.
func IsScoreable(scoringTimestamp, now time.Time) bool {
	return !scoringTimestamp.After(now)
}

// ComputeScore implements round(base / (ageInHours + 2)^decayFactor, 6).
// Callers must check IsScoreable first.
func ComputeScore(baseScoreWithBonuses float64, scoringTimestamp, now time.Time, decayFactor float64) float64 {
	return ScoreForAge(baseScoreWithBonuses, AgeInHours(scoringTimestamp, now), decayFactor)
}

// ScoreForAge is ComputeScore with the age already resolved
func ScoreForAge(baseScoreWithBonuses, ageInHours, decayFactor float64) float64 {
	return Round6(baseScoreWithBonuses / math.Pow(ageInHours+ageOffset, decayFactor))
}

// Round6 rounds half away from zero to six decimal places
func Round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}

// Epsilon is the score delta one additional unit of power contributes once a
// document is inactivityDays old. Score changes smaller than this cannot
// plausibly reorder rankings.
func Epsilon(inactivityDays int, decayFactor float64) float64 {
	return 1 / math.Pow(float64(inactivityDays*24)+ageOffset, decayFactor)
}

// ===============================
// CALCULATOR
// ===============================

// Calculator bundles the tunables so callers do not thread them individually
type Calculator struct {
	DecayFactor             float64
	FrontpageBonus          float64
	CuratedBonus            float64
	InactivityThresholdDays int
}

// DefaultCalculator returns the production tunables
func DefaultCalculator() Calculator {
	return Calculator{
		DecayFactor:             DefaultDecayFactor,
		FrontpageBonus:          DefaultFrontpageBonus,
		CuratedBonus:            DefaultCuratedBonus,
		InactivityThresholdDays: DefaultInactivityThresholdDays,
	}
}

// Bonuses returns the bonuses that apply to the given flags
func (c Calculator) Bonuses(frontpaged, curated bool) []float64 {
	bonuses := make([]float64, 0, 2)
	if frontpaged {
		bonuses = append(bonuses, c.FrontpageBonus)
	}
	if curated {
		bonuses = append(bonuses, c.CuratedBonus)
	}
	return bonuses
}

// DocumentScore computes the score of d for the given raw baseScore. The
// second result is false when the scoring timestamp lies in the future.
func (c Calculator) DocumentScore(d *models.Document, baseScore float64, now time.Time) (float64, bool) {
	ts := d.ScoringTimestamp()
	if !IsScoreable(ts, now) {
		return 0, false
	}
	withBonuses := ComputeBaseScoreWithBonuses(baseScore, c.Bonuses(d.IsFrontpaged(), d.IsCurated())...)
	return ComputeScore(withBonuses, ts, now, c.DecayFactor), true
}

// Epsilon is the significance threshold for this calculator's tunables
func (c Calculator) Epsilon() float64 {
	return Epsilon(c.InactivityThresholdDays, c.DecayFactor)
}

// InactivityWindow is the age past which an insignificant document goes inactive
func (c Calculator) InactivityWindow() time.Duration {
	return time.Duration(c.InactivityThresholdDays) * 24 * time.Hour
}

// RescoreQuery builds the storage-side projection parameters for a pass
func (c Calculator) RescoreQuery(inactive bool, now time.Time) models.RescoreQuery {
	return models.RescoreQuery{
		Inactive:       inactive,
		Now:            now,
		DecayFactor:    c.DecayFactor,
		FrontpageBonus: c.FrontpageBonus,
		CuratedBonus:   c.CuratedBonus,
	}
}
