// Package hazard turns raw incident and crowd records into scored hazard
// features and aggregates them per district.
package hazard

import (
	"github.com/safeway/safeway/internal/geo"
)

// Source identifies the feed a feature came from.
type Source string

const (
	SourceIncidentFeed Source = "incident-feed"
	SourceCrowdFeed    Source = "crowd-feed"
)

// Type is the hazard kind.
type Type string

const (
	TypeIncident Type = "incident"
	TypeCrowd    Type = "crowd"
)

// Level is the traffic-light classification of a risk score.
type Level string

const (
	LevelGreen  Level = "green"
	LevelYellow Level = "yellow"
	LevelRed    Level = "red"
)

// Classification boundaries. Any consumer that recomputes a level from an
// aggregate risk must use Classify so the boundaries stay identical.
const (
	RedThreshold    = 61
	YellowThreshold = 31
)

// Feature is the canonical hazard record.
type Feature struct {
	ID          string         `json:"id"`
	Source      Source         `json:"source"`
	Type        Type           `json:"type"`
	Coords      geo.Coordinate `json:"coords"`
	District    string         `json:"district"`
	Timestamp   string         `json:"ts"`
	Severity    int            `json:"severity"`
	Description string         `json:"description"`
	Meta        map[string]any `json:"meta"`
	Risk        Risk           `json:"risk"`
}

// Risk is a bounded score plus its classification.
type Risk struct {
	Risk  int   `json:"risk"`
	Level Level `json:"level"`
}

// LevelCounts counts features per level.
type LevelCounts struct {
	Green  int `json:"green"`
	Yellow int `json:"yellow"`
	Red    int `json:"red"`
}

// DistrictSummary aggregates the features of one district.
type DistrictSummary struct {
	Count   int         `json:"count"`
	MaxRisk int         `json:"maxRisk"`
	AvgRisk int         `json:"avgRisk"`
	Levels  LevelCounts `json:"levels"`
}

// Category returns meta.category as a string.
func (f *Feature) Category() string {
	s, _ := f.Meta["category"].(string)
	return s
}

// Trend returns meta.trend as a string.
func (f *Feature) Trend() string {
	s, _ := f.Meta["trend"].(string)
	return s
}
