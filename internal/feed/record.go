// Package feed holds the raw record model shared by the hazard feed clients
// and the payload helpers they use to locate rows in provider responses.
package feed

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is a raw provider record. Keys keep whatever spelling the provider
// or client used; normalizers resolve them through ordered fallback lists.
type Record map[string]any

// Params scopes a fetch. Zero values fall back to client configuration.
type Params struct {
	// Start and End bound the incident record range window.
	Start int
	End   int

	// Areas lists crowd area names to query.
	Areas []string
}

// Value returns the first present, non-nil value among keys.
func (r Record) Value(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first key whose value renders to a non-empty string.
func (r Record) String(keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := AsString(r[k]); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// Number returns the first key whose value coerces to a finite number.
func (r Record) Number(keys ...string) (float64, bool) {
	for _, k := range keys {
		if n, ok := AsNumber(r[k]); ok {
			return n, true
		}
	}
	return 0, false
}

// AsString renders scalars as strings. Maps, slices and nil are rejected.
func AsString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// AsNumber coerces numbers and numeric strings to a finite float64.
func AsNumber(v any) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// AsRecord converts a decoded JSON or XML object to a Record.
func AsRecord(v any) (Record, bool) {
	switch t := v.(type) {
	case Record:
		return t, true
	case map[string]any:
		return Record(t), true
	default:
		return nil, false
	}
}

// Rows extracts the row list from a provider container. A container that is
// itself a list, or an object whose "row" is a list, yields its object items.
// A single "row" object counts as a one-element list.
func Rows(container any) ([]Record, bool) {
	if list, ok := container.([]any); ok {
		return recordsOf(list), true
	}
	obj, ok := AsRecord(container)
	if !ok {
		return nil, false
	}
	switch row := obj["row"].(type) {
	case []any:
		return recordsOf(row), true
	case map[string]any:
		return []Record{Record(row)}, true
	}
	return nil, false
}

func recordsOf(list []any) []Record {
	out := make([]Record, 0, len(list))
	for _, item := range list {
		if rec, ok := AsRecord(item); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Seoul is Korea Standard Time. Provider dates and times carry no zone.
var Seoul = time.FixedZone("KST", 9*60*60)

// CompactTimestamp joins a yyyymmdd date and an hhmmss time into an RFC 3339
// instant in Seoul time. Short values are right-padded with zeros. An empty
// date yields now.
func CompactTimestamp(date, clock string, now time.Time) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return now.In(Seoul).Format(time.RFC3339)
	}
	d := padRight(digits(date), 8)
	c := padRight(digits(clock), 6)

	t, err := time.ParseInLocation("20060102150405", d[:8]+c[:6], Seoul)
	if err != nil {
		return now.In(Seoul).Format(time.RFC3339)
	}
	return t.Format(time.RFC3339)
}

// ParseTimestamp accepts RFC 3339 and the "2006-01-02 15:04[:05]" local
// forms used by the crowd feed.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, Seoul); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat("0", n-len(s))
}
