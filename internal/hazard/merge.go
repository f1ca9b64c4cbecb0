package hazard

import (
	"math"
	"time"

	"github.com/safeway/safeway/internal/feed"
)

// Merge normalizes and scores both feeds, incidents first. Records that fail
// normalization are dropped.
func Merge(incidents, crowd []feed.Record, now time.Time) []Feature {
	out := make([]Feature, 0, len(incidents)+len(crowd))
	for _, raw := range incidents {
		if f := NormalizeIncident(raw, now); f != nil {
			f.Risk = Score(f, now)
			out = append(out, *f)
		}
	}
	for _, raw := range crowd {
		if f := NormalizeCrowd(raw, now); f != nil {
			f.Risk = Score(f, now)
			out = append(out, *f)
		}
	}
	return out
}

// SummarizeByDistrict aggregates scored features per district. Features
// without a district are left out.
func SummarizeByDistrict(features []Feature) map[string]DistrictSummary {
	sums := make(map[string]int)
	out := make(map[string]DistrictSummary)

	for i := range features {
		f := &features[i]
		if f.District == "" {
			continue
		}
		s := out[f.District]
		s.Count++
		s.MaxRisk = max(s.MaxRisk, f.Risk.Risk)
		switch f.Risk.Level {
		case LevelRed:
			s.Levels.Red++
		case LevelYellow:
			s.Levels.Yellow++
		default:
			s.Levels.Green++
		}
		sums[f.District] += f.Risk.Risk
		out[f.District] = s
	}

	for district, s := range out {
		s.AvgRisk = roundHalfUp(float64(sums[district]) / float64(s.Count))
		out[district] = s
	}
	return out
}

// Indicator is the overall level and mean risk of a set of features, as
// shown next to a route.
type Indicator struct {
	Level   Level `json:"level"`
	AvgRisk int   `json:"avgRisk"`
	MaxRisk int   `json:"maxRisk"`
}

// Summarize computes the Indicator for features. The level follows the
// highest risk present.
func Summarize(features []Feature) Indicator {
	if len(features) == 0 {
		return Indicator{Level: LevelGreen}
	}
	var sum, highest int
	for i := range features {
		sum += features[i].Risk.Risk
		highest = max(highest, features[i].Risk.Risk)
	}
	return Indicator{
		Level:   Classify(highest),
		AvgRisk: roundHalfUp(float64(sum) / float64(len(features))),
		MaxRisk: highest,
	}
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
