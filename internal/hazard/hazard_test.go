package hazard

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeway/safeway/internal/feed"
)

// noon is a daytime instant in Seoul, so no night adjustment applies.
var noon = time.Date(2024, 5, 1, 12, 0, 0, 0, feed.Seoul)

func TestNormalizeIncident(t *testing.T) {
	tests := []struct {
		name         string
		raw          feed.Record
		wantNil      bool
		wantSeverity int
	}{
		{
			name:         "accinfo code A01",
			raw:          feed.Record{"id": "1", "category": "A01", "lat": 37.5, "lng": 127.0},
			wantSeverity: 85,
		},
		{
			name:         "unknown category",
			raw:          feed.Record{"id": "2", "category": "Z99", "lat": 37.5, "lng": 127.0},
			wantSeverity: 50,
		},
		{
			name:         "lower-case fallback",
			raw:          feed.Record{"id": "3", "category": "ROADWORK", "lat": 37.5, "lng": 127.0},
			wantSeverity: 60,
		},
		{
			name:         "acc_type spelling",
			raw:          feed.Record{"acc_id": "4", "acc_type": "A09", "latitude": "37.5", "longitude": "127.0"},
			wantSeverity: 70,
		},
		{
			name:    "missing coordinates",
			raw:     feed.Record{"id": "5", "category": "A01"},
			wantNil: true,
		},
		{
			name:    "non-numeric coordinates",
			raw:     feed.Record{"id": "6", "category": "A01", "lat": "north", "lng": 127.0},
			wantNil: true,
		},
		{
			name:    "missing identity",
			raw:     feed.Record{"category": "A01", "lat": 37.5, "lng": 127.0},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NormalizeIncident(tt.raw, noon)
			if tt.wantNil {
				assert.Nil(t, f)
				return
			}
			require.NotNil(t, f)
			assert.Equal(t, tt.wantSeverity, f.Severity)
			assert.Equal(t, SourceIncidentFeed, f.Source)
			assert.Equal(t, TypeIncident, f.Type)
		})
	}
}

func TestNormalizeIncident_Fields(t *testing.T) {
	raw := feed.Record{
		"id":          "acc-1",
		"category":    "control",
		"message":     "도로 통제",
		"lat":         37.57,
		"lng":         126.98,
		"district":    "종로구",
		"startedAt":   "2024-05-01T09:00:00Z",
		"lanesClosed": 2,
		"meta":        map[string]any{"linkId": "1180001"},
	}

	f := NormalizeIncident(raw, noon)
	require.NotNil(t, f)

	assert.Equal(t, "acc-1", f.ID)
	assert.Equal(t, "종로구", f.District)
	assert.Equal(t, "도로 통제", f.Description)
	assert.Equal(t, "2024-05-01T18:00:00+09:00", f.Timestamp)
	assert.Equal(t, "control", f.Category())
	assert.Equal(t, 2, f.Meta["lanesClosed"])
	assert.Equal(t, "1180001", f.Meta["linkId"])
	assert.Equal(t, raw, f.Meta["raw"])
}

func TestNormalizeCrowd(t *testing.T) {
	tests := []struct {
		label string
		want  int
	}{
		{"여유", 20},
		{"보통", 40},
		{"약간 붐빔", 60},
		{"붐빔", 80},
		{"매우 붐빔", 30},
		{"", 30},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			raw := feed.Record{"areaNm": "강남역", "areaCongestLvl": tt.label, "lat": 37.49794, "lng": 127.02762}
			f := NormalizeCrowd(raw, noon)
			require.NotNil(t, f)
			assert.Equal(t, tt.want, f.Severity)
		})
	}
}

func TestNormalizeCrowd_Fields(t *testing.T) {
	raw := feed.Record{
		"areaNm":         "홍대입구",
		"areaCongestLvl": "붐빔",
		"areaCongestMsg": "사람이 몰려있어요",
		"ppltnMin":       30000.0,
		"ppltnMax":       32000.0,
		"updatedAt":      "2024-05-01 18:30",
		"lat":            37.55633,
		"lng":            126.9236,
	}

	f := NormalizeCrowd(raw, noon)
	require.NotNil(t, f)

	assert.Equal(t, "홍대입구", f.ID)
	assert.Equal(t, "홍대입구", f.District)
	assert.Equal(t, "홍대입구 붐빔", f.Description)
	assert.Equal(t, "2024-05-01T18:30:00+09:00", f.Timestamp)
	assert.Equal(t, 31000.0, f.Meta["density"])
	assert.Equal(t, "flat", f.Meta["trend"])
	assert.Equal(t, "사람이 몰려있어요", f.Meta["msg"])
}

func TestNormalizeCrowd_DropsInvalid(t *testing.T) {
	assert.Nil(t, NormalizeCrowd(feed.Record{"areaNm": "명동", "lat": 37.5}, noon))
	assert.Nil(t, NormalizeCrowd(feed.Record{"lat": 37.5, "lng": 127.0}, noon))
	assert.Nil(t, NormalizeCrowd(nil, noon))
}

func TestScore_Bounds(t *testing.T) {
	for severity := 0; severity <= 100; severity++ {
		for _, trend := range []string{"up", "down", "flat"} {
			for hour := 0; hour < 24; hour++ {
				for _, typ := range []Type{TypeIncident, TypeCrowd} {
					f := &Feature{
						Type:     typ,
						Severity: severity,
						Meta:     map[string]any{"trend": trend, "category": "control"},
					}
					now := time.Date(2024, 5, 1, hour, 30, 0, 0, feed.Seoul)

					r := Score(f, now)

					name := fmt.Sprintf("s=%d trend=%s hour=%d type=%s", severity, trend, hour, typ)
					require.GreaterOrEqual(t, r.Risk, 0, name)
					require.LessOrEqual(t, r.Risk, 100, name)
					switch {
					case r.Risk >= 61:
						require.Equal(t, LevelRed, r.Level, name)
					case r.Risk >= 31:
						require.Equal(t, LevelYellow, r.Level, name)
					default:
						require.Equal(t, LevelGreen, r.Level, name)
					}
				}
			}
		}
	}
}

func TestScore_Adjustments(t *testing.T) {
	night := time.Date(2024, 5, 1, 23, 15, 0, 0, feed.Seoul)
	earlyMorning := time.Date(2024, 5, 1, 5, 59, 0, 0, feed.Seoul)
	morning := time.Date(2024, 5, 1, 6, 0, 0, 0, feed.Seoul)

	crowd := func(trend string) *Feature {
		return &Feature{Type: TypeCrowd, Severity: 50, Meta: map[string]any{"trend": trend}}
	}

	assert.Equal(t, 60, Score(crowd("up"), noon).Risk)
	assert.Equal(t, 40, Score(crowd("down"), noon).Risk)
	assert.Equal(t, 50, Score(crowd("flat"), noon).Risk)
	assert.Equal(t, 45, Score(crowd("flat"), night).Risk)
	assert.Equal(t, 45, Score(crowd("flat"), earlyMorning).Risk)
	assert.Equal(t, 50, Score(crowd("flat"), morning).Risk)

	closure := &Feature{Type: TypeIncident, Severity: 90, Meta: map[string]any{"category": "control"}}
	assert.Equal(t, Risk{Risk: 100, Level: LevelRed}, Score(closure, noon))

	// Crowd features never get the closure bias.
	crowdControl := &Feature{Type: TypeCrowd, Severity: 40, Meta: map[string]any{"category": "control"}}
	assert.Equal(t, 40, Score(crowdControl, noon).Risk)

	// Night is evaluated in Seoul time regardless of the caller's zone.
	utcAfternoon := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC) // 00:00 KST
	assert.Equal(t, 45, Score(crowd("flat"), utcAfternoon).Risk)
}

func TestClassify_Boundaries(t *testing.T) {
	assert.Equal(t, LevelGreen, Classify(30))
	assert.Equal(t, LevelYellow, Classify(31))
	assert.Equal(t, LevelYellow, Classify(60))
	assert.Equal(t, LevelRed, Classify(61))
}

func TestMerge_OrderAndDrops(t *testing.T) {
	incidents := []feed.Record{
		{"id": "i1", "category": "A01", "lat": 37.5, "lng": 127.0},
		{"id": "i2", "category": "A01"},
		{"id": "i3", "category": "caution", "lat": 37.6, "lng": 127.1},
	}
	crowd := []feed.Record{
		{"areaNm": "명동", "areaCongestLvl": "보통", "lat": 37.56357, "lng": 126.98265},
	}

	merged := Merge(incidents, crowd, noon)
	require.Len(t, merged, 3)

	assert.Equal(t, "i1", merged[0].ID)
	assert.Equal(t, "i3", merged[1].ID)
	assert.Equal(t, "명동", merged[2].ID)
	assert.Equal(t, Risk{Risk: 85, Level: LevelRed}, merged[0].Risk)
	assert.Equal(t, Risk{Risk: 40, Level: LevelYellow}, merged[1].Risk)
	assert.Equal(t, Risk{Risk: 40, Level: LevelYellow}, merged[2].Risk)
}

func TestSummarizeByDistrict(t *testing.T) {
	features := []Feature{
		{District: "강남역", Risk: Risk{Risk: 20, Level: LevelGreen}},
		{District: "강남역", Risk: Risk{Risk: 80, Level: LevelRed}},
		{District: "", Risk: Risk{Risk: 99, Level: LevelRed}},
		{District: "명동", Risk: Risk{Risk: 45, Level: LevelYellow}},
	}

	summary := SummarizeByDistrict(features)

	require.Len(t, summary, 2)
	assert.Equal(t, DistrictSummary{
		Count:   2,
		MaxRisk: 80,
		AvgRisk: 50,
		Levels:  LevelCounts{Green: 1, Red: 1, Yellow: 0},
	}, summary["강남역"])
	assert.Equal(t, 45, summary["명동"].AvgRisk)
	_, ok := summary[""]
	assert.False(t, ok)
}

func TestSummarizeByDistrict_RoundsMean(t *testing.T) {
	summary := SummarizeByDistrict([]Feature{
		{District: "잠실", Risk: Risk{Risk: 40, Level: LevelYellow}},
		{District: "잠실", Risk: Risk{Risk: 41, Level: LevelYellow}},
	})
	assert.Equal(t, 41, summary["잠실"].AvgRisk)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Indicator{Level: LevelGreen}, Summarize(nil))

	ind := Summarize([]Feature{
		{Risk: Risk{Risk: 20}},
		{Risk: Risk{Risk: 65}},
	})
	assert.Equal(t, Indicator{Level: LevelRed, AvgRisk: 43, MaxRisk: 65}, ind)
}
