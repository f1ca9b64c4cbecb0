package routing

import (
	"github.com/paulmach/orb"

	"github.com/safeway/safeway/internal/gazetteer"
	"github.com/safeway/safeway/internal/geo"
	"github.com/safeway/safeway/internal/hazard"
)

// Proximity thresholds in meters. Scoring and display use different radii.
const (
	ScoringRadiusMeters = 300
	DisplayRadiusMeters = 1000
	AreaRadiusMeters    = 2000
)

// Notices shown with a route.
const (
	NoticeRerouted = "혼잡/돌발을 피해 우회 경로로 안내합니다."
	NoticeClear    = "경로에 위험요소가 없습니다. 안전합니다."
)

// SelectorConfig holds the selector thresholds. Zero values use the
// package defaults.
type SelectorConfig struct {
	ScoringRadius float64
	DisplayRadius float64
	AreaRadius    float64

	// Areas is the gazetteer searched by PickAreasAlongRoute.
	Areas *gazetteer.AreaCoordMap
}

// Selector scores route candidates by the hazards they pass.
type Selector struct {
	scoringRadius float64
	displayRadius float64
	areaRadius    float64
	areas         *gazetteer.AreaCoordMap
}

// NewSelector creates a Selector.
func NewSelector(cfg SelectorConfig) *Selector {
	s := &Selector{
		scoringRadius: cfg.ScoringRadius,
		displayRadius: cfg.DisplayRadius,
		areaRadius:    cfg.AreaRadius,
		areas:         cfg.Areas,
	}
	if s.scoringRadius <= 0 {
		s.scoringRadius = ScoringRadiusMeters
	}
	if s.displayRadius <= 0 {
		s.displayRadius = DisplayRadiusMeters
	}
	if s.areaRadius <= 0 {
		s.areaRadius = AreaRadiusMeters
	}
	if s.areas == nil {
		s.areas = gazetteer.Default()
	}
	return s
}

// Selection is the outcome of Choose.
type Selection struct {
	Route RouteCandidate
	// Index of Route in the input, -1 when there were no candidates.
	Index int
	// Scores holds each candidate's hazard score. Nil when scoring was skipped.
	Scores   []int
	Rerouted bool
	Notice   string
}

// Choose returns the candidate with the strictly lowest hazard score. The
// first candidate wins ties and is returned unscored when either input is
// empty.
func (s *Selector) Choose(routes []RouteCandidate, hazards []hazard.Feature) Selection {
	if len(routes) == 0 {
		return Selection{Index: -1}
	}
	if len(hazards) == 0 {
		return Selection{Route: routes[0]}
	}

	scores := make([]int, len(routes))
	best := 0
	for i, r := range routes {
		scores[i] = s.Score(r.Geometry, hazards)
		if scores[i] < scores[best] {
			best = i
		}
	}

	sel := Selection{Route: routes[best], Index: best, Scores: scores}
	if best != 0 {
		sel.Rerouted = true
		sel.Notice = NoticeRerouted
	}
	return sel
}

// Score sums the risk of hazards within the scoring radius of line.
func (s *Selector) Score(line orb.LineString, hazards []hazard.Feature) int {
	total := 0
	for i := range hazards {
		if geo.IsNear(hazards[i].Coords, line, s.scoringRadius) {
			total += hazards[i].Risk.Risk
		}
	}
	return total
}

// PickAreasAlongRoute returns gazetteer areas within the area radius of any
// vertex of line, in order of first encounter along the route.
func (s *Selector) PickAreasAlongRoute(line orb.LineString) []string {
	if len(line) == 0 {
		return nil
	}
	areas := s.areas.Areas()
	picked := make(map[string]bool, len(areas))
	var names []string
	for _, pt := range line {
		c := geo.FromPoint(pt)
		for _, a := range areas {
			if picked[a.Name] {
				continue
			}
			if geo.Distance(c, a.Coord) <= s.areaRadius {
				picked[a.Name] = true
				names = append(names, a.Name)
			}
		}
	}
	return names
}

// FilterForDisplay keeps hazards within the display radius of line. An
// empty line keeps everything.
func (s *Selector) FilterForDisplay(line orb.LineString, hazards []hazard.Feature) []hazard.Feature {
	out := make([]hazard.Feature, 0, len(hazards))
	for _, h := range hazards {
		if geo.IsNear(h.Coords, line, s.displayRadius) {
			out = append(out, h)
		}
	}
	return out
}
