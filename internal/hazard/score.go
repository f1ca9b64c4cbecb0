package hazard

import (
	"time"

	"github.com/safeway/safeway/internal/feed"
)

// Score adjustments.
const (
	trendAdjustment   = 10
	nightAdjustment   = -5
	closureAdjustment = 10
	nightStartHour    = 23
	nightEndHour      = 6
	closureCategory   = "control"
	minRisk           = 0
	maxRisk           = 100
)

// Score computes the risk of f at now. Night hours are evaluated in Seoul time.
func Score(f *Feature, now time.Time) Risk {
	if f == nil {
		return Risk{Risk: 0, Level: LevelGreen}
	}

	risk := f.Severity

	switch f.Trend() {
	case "up":
		risk += trendAdjustment
	case "down":
		risk -= trendAdjustment
	}

	hour := now.In(feed.Seoul).Hour()
	if hour >= nightStartHour || hour < nightEndHour {
		risk += nightAdjustment
	}

	if f.Type == TypeIncident && f.Category() == closureCategory {
		risk += closureAdjustment
	}

	risk = max(minRisk, min(maxRisk, risk))
	return Risk{Risk: risk, Level: Classify(risk)}
}

// Classify maps a risk score to its level.
func Classify(risk int) Level {
	switch {
	case risk >= RedThreshold:
		return LevelRed
	case risk >= YellowThreshold:
		return LevelYellow
	default:
		return LevelGreen
	}
}
