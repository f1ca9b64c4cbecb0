package hazard

import (
	"strings"
	"time"

	"github.com/safeway/safeway/internal/feed"
	"github.com/safeway/safeway/internal/geo"
)

// Field fallback chains, tried in order.
var (
	incidentIDKeys          = []string{"id", "incidentId", "acc_id", "ACC_ID"}
	incidentCategoryKeys    = []string{"category", "acc_type", "accType", "ACC_TYPE"}
	incidentDistrictKeys    = []string{"district", "addr"}
	incidentTimestampKeys   = []string{"startedAt", "timestamp"}
	incidentDescriptionKeys = []string{"message", "title", "acc_info"}

	crowdIDKeys        = []string{"id", "areaCd", "AREA_CD", "areaNm", "AREA_NM"}
	crowdAreaKeys      = []string{"areaNm", "AREA_NM", "area_name"}
	crowdLevelKeys     = []string{"areaCongestLvl", "AREA_CONGEST_LVL", "level", "status"}
	crowdDensityKeys   = []string{"density", "crowdLevel"}
	crowdMessageKeys   = []string{"areaCongestMsg", "AREA_CONGEST_MSG"}
	crowdMinKeys       = []string{"ppltnMin", "AREA_PPLTN_MIN"}
	crowdMaxKeys       = []string{"ppltnMax", "AREA_PPLTN_MAX"}
	crowdTimestampKeys = []string{"updatedAt", "timestamp", "PPLTN_TIME"}

	latKeys = []string{"lat", "latitude"}
	lngKeys = []string{"lng", "longitude"}
)

// DefaultIncidentSeverity applies to categories missing from the table.
const DefaultIncidentSeverity = 50

// DefaultCrowdSeverity applies to unrecognised congestion labels.
const DefaultCrowdSeverity = 30

// Incident severities by category. Upper-case codes are the Seoul AccInfo
// acc_type values: A01 accident, A04 roadwork/closure, A09 weather/ice,
// A10 event, A11 other.
var incidentSeverity = map[string]int{
	"accident": 80,
	"roadwork": 60,
	"control":  90,
	"caution":  40,
	"A01":      85,
	"A04":      60,
	"A09":      70,
	"A10":      40,
	"A11":      50,
}

// Crowd severities by AREA_CONGEST_LVL label.
var crowdSeverity = map[string]int{
	"여유":    20,
	"보통":    40,
	"약간 붐빔": 60,
	"붐빔":    80,
}

// IncidentSeverity looks up a category, then its lower-case form.
func IncidentSeverity(category string) int {
	if s, ok := incidentSeverity[category]; ok {
		return s
	}
	if s, ok := incidentSeverity[strings.ToLower(category)]; ok {
		return s
	}
	return DefaultIncidentSeverity
}

// CrowdSeverity maps a congestion label to a severity.
func CrowdSeverity(label string) int {
	if s, ok := crowdSeverity[strings.TrimSpace(label)]; ok {
		return s
	}
	return DefaultCrowdSeverity
}

// NormalizeIncident maps a raw incident record to a Feature. It returns nil
// when the record has no identity or no valid coordinates.
func NormalizeIncident(raw feed.Record, now time.Time) *Feature {
	if raw == nil {
		return nil
	}
	id, ok := raw.String(incidentIDKeys...)
	if !ok {
		return nil
	}
	coords, ok := coordinatesOf(raw)
	if !ok {
		return nil
	}

	category, _ := raw.String(incidentCategoryKeys...)
	district, _ := raw.String(incidentDistrictKeys...)
	description, ok := raw.String(incidentDescriptionKeys...)
	if !ok {
		description = "incident"
	}

	meta := map[string]any{
		"category": category,
		"raw":      raw,
	}
	if lanes, ok := raw.Value("lanesClosed"); ok {
		meta["lanesClosed"] = lanes
	}
	if extra, ok := feed.AsRecord(raw["meta"]); ok {
		for k, v := range extra {
			if _, taken := meta[k]; !taken {
				meta[k] = v
			}
		}
	}

	return &Feature{
		ID:          id,
		Source:      SourceIncidentFeed,
		Type:        TypeIncident,
		Coords:      coords,
		District:    district,
		Timestamp:   timestampOf(raw, incidentTimestampKeys, now),
		Severity:    IncidentSeverity(category),
		Description: description,
		Meta:        meta,
	}
}

// NormalizeCrowd maps a raw crowd record to a Feature. It returns nil when
// the record has no identity or no valid coordinates.
func NormalizeCrowd(raw feed.Record, now time.Time) *Feature {
	if raw == nil {
		return nil
	}
	id, ok := raw.String(crowdIDKeys...)
	if !ok {
		return nil
	}
	coords, ok := coordinatesOf(raw)
	if !ok {
		return nil
	}

	area, _ := raw.String(crowdAreaKeys...)
	level, _ := raw.String(crowdLevelKeys...)
	district := area
	if district == "" {
		district, _ = raw.String("district")
	}

	label := area
	if label == "" {
		label = "인구"
	}

	trend, _ := raw.String("trend")
	if trend == "" {
		trend = "flat"
	}

	meta := map[string]any{
		"density": crowdDensity(raw),
		"level":   level,
		"trend":   trend,
		"raw":     raw,
	}
	if msg, ok := raw.String(crowdMessageKeys...); ok {
		meta["msg"] = msg
	}
	if v, ok := raw.Value(crowdMinKeys...); ok {
		meta["ppltnMin"] = v
	}
	if v, ok := raw.Value(crowdMaxKeys...); ok {
		meta["ppltnMax"] = v
	}

	return &Feature{
		ID:          id,
		Source:      SourceCrowdFeed,
		Type:        TypeCrowd,
		Coords:      coords,
		District:    district,
		Timestamp:   timestampOf(raw, crowdTimestampKeys, now),
		Severity:    CrowdSeverity(level),
		Description: strings.TrimSpace(label + " " + level),
		Meta:        meta,
	}
}

func coordinatesOf(raw feed.Record) (geo.Coordinate, bool) {
	lat, ok := raw.Number(latKeys...)
	if !ok {
		return geo.Coordinate{}, false
	}
	lng, ok := raw.Number(lngKeys...)
	if !ok {
		return geo.Coordinate{}, false
	}
	c := geo.Coordinate{Lat: lat, Lng: lng}
	return c, c.Valid()
}

// crowdDensity prefers an explicit density and otherwise uses the midpoint
// of the population estimate range.
func crowdDensity(raw feed.Record) float64 {
	if d, ok := raw.Number(crowdDensityKeys...); ok {
		return d
	}
	lo, okLo := raw.Number(crowdMinKeys...)
	hi, okHi := raw.Number(crowdMaxKeys...)
	if okLo && okHi && lo != 0 && hi != 0 {
		return (lo + hi) / 2
	}
	return 0
}

func timestampOf(raw feed.Record, keys []string, now time.Time) string {
	if s, ok := raw.String(keys...); ok {
		if t, ok := feed.ParseTimestamp(s); ok {
			return t.In(feed.Seoul).Format(time.RFC3339)
		}
	}
	return now.In(feed.Seoul).Format(time.RFC3339)
}
