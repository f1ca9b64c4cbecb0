// Package crowd fetches realtime crowd density (citydata_ppltn) for Seoul
// hot spots.
package crowd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/feed"
	"github.com/safeway/safeway/internal/gazetteer"
	"github.com/safeway/safeway/internal/observability"
	"github.com/safeway/safeway/internal/provider/resilience"
)

const (
	// ProviderName identifies this feed in logs, metrics and the provider registry.
	ProviderName = "seoul-crowd"

	// DefaultBaseURL is the Seoul open data API base URL.
	DefaultBaseURL = "http://openapi.seoul.go.kr:8088"

	// DefaultService is the realtime population service name.
	DefaultService = "citydata_ppltn"

	// DefaultArea is queried when nothing else names an area.
	DefaultArea = "강남역"

	// DefaultConcurrency caps in-flight area requests.
	DefaultConcurrency = 5

	// FeedName labels crowd metrics.
	FeedName = "crowd"

	// SuccessCode is the provider's in-payload success result code.
	SuccessCode = "INFO-000"

	maxBodyBytes = 2 << 20
)

// Sentinel errors for a single area fetch.
var (
	ErrNoContainer = errors.New("no citydata_ppltn container in response")
	ErrNoRow       = errors.New("no population row in response")
)

// ResultError is a non-success result code reported inside the payload.
type ResultError struct {
	Code    string
	Message string
}

func (e *ResultError) Error() string {
	return "api code " + e.Code + " msg:" + e.Message
}

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the crowd client.
type ClientConfig struct {
	BaseURL string
	APIKey  string

	// Format is "json" (default) or "xml".
	Format string

	// Service defaults to DefaultService.
	Service string

	// Areas is the configured area list, used when a fetch names none.
	Areas []string

	// AreaFile is a JSON area list consulted after Areas. Entries that carry
	// coordinates are also added to the resolver's gazetteer.
	AreaFile string

	// DefaultArea is the last resort area (default: 강남역).
	DefaultArea string

	// Concurrency caps in-flight area requests (default: 5).
	Concurrency int

	// Resolver places areas on the map. Defaults to a resolver over the
	// built-in gazetteer without geocoding.
	Resolver *gazetteer.Resolver

	HTTPClient HTTPDoer
	Clock      clockwork.Clock
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// Client fetches crowd records. It never fails: when no area yields a
// record a single placeholder is returned.
type Client struct {
	baseURL     string
	apiKey      string
	format      string
	service     string
	areas       []string
	fileAreas   []string
	defaultArea string
	concurrency int
	resolver    *gazetteer.Resolver
	httpClient  HTTPDoer
	clock       clockwork.Clock
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewClient creates a crowd client. An unreadable AreaFile is logged and
// ignored.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		format:      strings.ToLower(cfg.Format),
		service:     cfg.Service,
		areas:       nonEmpty(cfg.Areas),
		defaultArea: cfg.DefaultArea,
		concurrency: cfg.Concurrency,
		resolver:    cfg.Resolver,
		httpClient:  cfg.HTTPClient,
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.format != "xml" {
		c.format = "json"
	}
	if c.service == "" {
		c.service = DefaultService
	}
	if c.defaultArea == "" {
		c.defaultArea = DefaultArea
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultConcurrency
	}
	if c.resolver == nil {
		c.resolver = gazetteer.NewResolver(gazetteer.ResolverConfig{Metrics: cfg.Metrics, Logger: cfg.Logger})
	}
	if c.httpClient == nil {
		c.httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}

	if cfg.AreaFile != "" {
		entries, err := gazetteer.LoadFile(cfg.AreaFile)
		if err != nil {
			c.logger.Warn().Err(err).Str("file", cfg.AreaFile).Msg("failed to read area file")
		} else {
			c.fileAreas = gazetteer.Names(entries)
			c.resolver.Areas().AddEntries(entries)
		}
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Areas returns the areas a fetch with p queries: explicit params, then the
// configured list, then the area file, then the default area.
func (c *Client) Areas(p feed.Params) []string {
	if areas := nonEmpty(p.Areas); len(areas) > 0 {
		return areas
	}
	if len(c.areas) > 0 {
		return c.areas
	}
	if len(c.fileAreas) > 0 {
		return c.fileAreas
	}
	return []string{c.defaultArea}
}

// Fetch returns one record per area that answered, in area order.
func (c *Client) Fetch(ctx context.Context, p feed.Params) []feed.Record {
	start := time.Now()
	areas := c.Areas(p)

	records := c.fetchAreas(ctx, areas)
	if len(records) == 0 {
		c.metrics.FeedFetched(FeedName, observability.OutcomePlaceholder, time.Since(start))
		c.logger.Warn().Strs("areas", areas).Msg("crowd fetch produced no records, returning placeholder")
		return []feed.Record{c.placeholder(areas)}
	}

	c.metrics.FeedFetched(FeedName, observability.OutcomeSuccess, time.Since(start))
	c.logger.Debug().Int("areas", len(areas)).Int("records", len(records)).Msg("fetched crowd")
	return records
}

type areaJob struct {
	index int
	name  string
}

// fetchAreas runs at most c.concurrency area requests at a time.
func (c *Client) fetchAreas(ctx context.Context, areas []string) []feed.Record {
	results := make([]feed.Record, len(areas))
	jobs := make(chan areaJob, len(areas))
	for i, name := range areas {
		jobs <- areaJob{index: i, name: name}
	}
	close(jobs)

	workers := min(c.concurrency, len(areas))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					return
				}
				results[job.index] = c.fetchArea(ctx, job.name)
			}
		}()
	}
	wg.Wait()

	out := make([]feed.Record, 0, len(areas))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (c *Client) fetchArea(ctx context.Context, area string) feed.Record {
	u := c.URL(area)
	row, err := c.fetchRow(ctx, u)
	if err != nil {
		c.metrics.CrowdAreaFetched(observability.OutcomeError)
		c.logger.Warn().Err(err).Str("area", area).Str("url", redact(u, c.apiKey)).Msg("crowd area fetch failed")
		return nil
	}
	c.metrics.CrowdAreaFetched(observability.OutcomeSuccess)
	return c.mapRow(ctx, row)
}

// URL returns the request URL for one area.
func (c *Client) URL(area string) string {
	return fmt.Sprintf("%s/%s/%s/%s/1/5/%s",
		c.baseURL, url.PathEscape(c.apiKey), c.format, c.service, url.PathEscape(area))
}

func (c *Client) fetchRow(ctx context.Context, u string) (feed.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d body:%s", resp.StatusCode, truncate(string(body), 200))
	}

	var row feed.Record
	if c.format == "xml" {
		row, err = c.decodeXML(body)
	} else {
		row, err = c.decodeJSON(body)
	}
	if err != nil {
		return nil, err
	}
	if name, ok := row.String("AREA_NM"); !ok || strings.TrimSpace(name) == "" {
		return nil, ErrNoRow
	}
	return row, nil
}

func (c *Client) decodeJSON(body []byte) (feed.Record, error) {
	members, err := feed.DecodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if err := checkResult(members); err != nil {
		return nil, err
	}

	m, ok := members.Find(feed.KeyContains(c.service))
	if !ok {
		return nil, ErrNoContainer
	}
	rows, _ := feed.Rows(m.Value)
	if len(rows) == 0 {
		return nil, ErrNoRow
	}
	return rows[0], nil
}

// decodeXML treats the service element itself as the row unless it wraps
// row elements.
func (c *Client) decodeXML(body []byte) (feed.Record, error) {
	members, err := feed.DecodeXML(body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if err := checkResult(members); err != nil {
		return nil, err
	}

	m, ok := members.Find(feed.KeyContains(c.service))
	if !ok {
		return nil, ErrNoContainer
	}
	container, ok := feed.AsRecord(m.Value)
	if !ok {
		return nil, ErrNoRow
	}
	if rows, ok := feed.Rows(container); ok && len(rows) > 0 {
		return rows[0], nil
	}
	return container, nil
}

// checkResult fails on a RESULT code other than SuccessCode. Both the
// top-level RESULT and the nested "RESULT.CODE" spellings are accepted.
func checkResult(members feed.Members) error {
	for _, m := range members {
		result, ok := feed.AsRecord(m.Value)
		if !ok {
			continue
		}
		if m.Key != "RESULT" {
			inner, ok := feed.AsRecord(result["RESULT"])
			if !ok {
				continue
			}
			result = inner
		}
		code, ok := result.String("CODE", "RESULT.CODE")
		if !ok || code == SuccessCode {
			continue
		}
		msg, _ := result.String("MESSAGE", "RESULT.MESSAGE")
		return &ResultError{Code: code, Message: msg}
	}
	return nil
}

func (c *Client) mapRow(ctx context.Context, row feed.Record) feed.Record {
	name, _ := row.String("AREA_NM")
	coord := c.resolver.Resolve(ctx, name)

	out := feed.Record{
		"areaNm":         name,
		"areaCongestLvl": row["AREA_CONGEST_LVL"],
		"areaCongestMsg": row["AREA_CONGEST_MSG"],
		"ppltnMin":       number(row, "AREA_PPLTN_MIN"),
		"ppltnMax":       number(row, "AREA_PPLTN_MAX"),
		"maleRate":       number(row, "MALE_PPLTN_RATE"),
		"femaleRate":     number(row, "FEMALE_PPLTN_RATE"),
		"updatedAt":      row["PPLTN_TIME"],
		"fcst":           forecast(row),
		"lat":            coord.Lat,
		"lng":            coord.Lng,
	}
	if code, ok := row.String("AREA_CD"); ok {
		out["areaCd"] = code
	}
	return out
}

func (c *Client) placeholder(areas []string) feed.Record {
	now := c.clock.Now()
	area := DefaultArea
	if len(areas) > 0 && areas[0] != "" {
		area = areas[0]
	}
	return feed.Record{
		"id":        "sample-crowd-" + strconv.FormatInt(now.UnixMilli(), 10),
		"density":   0.62,
		"status":    "busy",
		"areaNm":    area,
		"lat":       37.49794,
		"lng":       127.02762,
		"updatedAt": now.Add(-2 * time.Minute).In(feed.Seoul).Format(time.RFC3339),
		"trend":     "up",
	}
}

// number returns nil for absent or non-numeric values so they encode as null.
func number(row feed.Record, key string) any {
	if n, ok := row.Number(key); ok {
		return n
	}
	return nil
}

// forecast returns FCST_PPLTN.FCST_PPLTN as a list.
func forecast(row feed.Record) []any {
	outer, ok := feed.AsRecord(row["FCST_PPLTN"])
	if !ok {
		if list, ok := row["FCST_PPLTN"].([]any); ok {
			return list
		}
		return []any{}
	}
	switch v := outer["FCST_PPLTN"].(type) {
	case []any:
		return v
	case map[string]any:
		return []any{v}
	}
	return []any{}
}

func nonEmpty(names []string) []string {
	var out []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func redact(u, key string) string {
	if key == "" {
		return u
	}
	return strings.ReplaceAll(u, url.PathEscape(key), "****")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
