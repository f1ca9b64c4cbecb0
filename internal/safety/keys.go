package safety

import (
	"strings"

	"github.com/safeway/safeway/internal/feed"
)

const allKey = "all"

// IncidentKey returns the cache key for incident records scoped by district
// and bounding box. Empty scopes read as "all".
func IncidentKey(district, bbox string) string {
	return "incidents:" + orAll(district) + ":" + orAll(bbox)
}

// CrowdKey returns the cache key for crowd records of areas, in the order
// they are queried.
func CrowdKey(areas []string) string {
	if len(areas) == 0 {
		return "crowd:" + allKey
	}
	return "crowd:" + strings.Join(areas, "-")
}

// ParseAreas splits a comma separated area list, dropping blanks.
func ParseAreas(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// CrowdScope resolves the areas a crowd read covers and its cache key.
// Explicit areas win, then the crowd client's configured defaults, so the
// warmer and the request path agree on keys.
func CrowdScope(crowd CrowdFetcher, areas []string) ([]string, string) {
	resolved := crowd.Areas(feed.Params{Areas: areas})
	return resolved, CrowdKey(resolved)
}

func orAll(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return allKey
	}
	return s
}
