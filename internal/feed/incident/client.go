// Package incident fetches traffic incidents (AccInfo) from the Seoul open
// data API.
package incident

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/feed"
	"github.com/safeway/safeway/internal/geo"
	"github.com/safeway/safeway/internal/observability"
	"github.com/safeway/safeway/internal/provider/resilience"
)

const (
	// ProviderName identifies this feed in logs, metrics and the provider registry.
	ProviderName = "seoul-incident"

	// DefaultBaseURL is the Seoul open data API base URL.
	DefaultBaseURL = "http://openapi.seoul.go.kr:8088"

	// DefaultService is the realtime incident service name.
	DefaultService = "AccInfo"

	// FeedName labels incident metrics.
	FeedName = "incidents"

	maxBodyBytes = 8 << 20
)

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the incident client.
type ClientConfig struct {
	BaseURL string
	APIKey  string

	// Format is "json" (default) or "xml". It selects the decoder; the
	// response content is not sniffed.
	Format string

	// Service defaults to DefaultService.
	Service string

	// LegacyURL, when set, is requested instead of the path-style URL with
	// the key passed as an apiKey query parameter.
	LegacyURL string

	// DefaultStart and DefaultEnd bound the record range when Params leaves
	// them zero (defaults: 1 and 200).
	DefaultStart int
	DefaultEnd   int

	HTTPClient HTTPDoer
	Clock      clockwork.Clock
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// Client fetches incident records. It never fails: any upstream problem
// yields a single placeholder record.
type Client struct {
	baseURL    string
	apiKey     string
	format     string
	service    string
	legacyURL  string
	start, end int
	httpClient HTTPDoer
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewClient creates an incident client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		format:     strings.ToLower(cfg.Format),
		service:    cfg.Service,
		legacyURL:  cfg.LegacyURL,
		start:      cfg.DefaultStart,
		end:        cfg.DefaultEnd,
		httpClient: cfg.HTTPClient,
		clock:      cfg.Clock,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
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
	if c.start <= 0 {
		c.start = 1
	}
	if c.end <= 0 {
		c.end = 200
	}
	if c.httpClient == nil {
		c.httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Fetch returns the raw incident records in the requested range.
func (c *Client) Fetch(ctx context.Context, p feed.Params) []feed.Record {
	start := time.Now()
	rows, err := c.fetch(ctx, p)
	if err != nil {
		c.metrics.FeedFetched(FeedName, observability.OutcomePlaceholder, time.Since(start))
		c.logger.Warn().Err(err).Msg("incident fetch failed, returning placeholder")
		return []feed.Record{c.placeholder()}
	}

	outcome := observability.OutcomeSuccess
	if len(rows) == 0 {
		outcome = observability.OutcomeEmpty
	}
	c.metrics.FeedFetched(FeedName, outcome, time.Since(start))
	c.logger.Debug().Int("rows", len(rows)).Msg("fetched incidents")
	return rows
}

// URL returns the request URL for a record range.
func (c *Client) URL(start, end int) string {
	if c.legacyURL != "" {
		if u, err := url.Parse(c.legacyURL); err == nil {
			q := u.Query()
			q.Set("apiKey", c.apiKey)
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	return fmt.Sprintf("%s/%s/%s/%s/%d/%d",
		c.baseURL, url.PathEscape(c.apiKey), c.format, c.service, start, end)
}

func (c *Client) fetch(ctx context.Context, p feed.Params) ([]feed.Record, error) {
	start, end := p.Start, p.End
	if start <= 0 {
		start = c.start
	}
	if end <= 0 {
		end = c.end
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(start, end), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	rows, err := c.decode(body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	now := c.clock.Now()
	out := make([]feed.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, MapRow(row, now))
	}
	return out, nil
}

func (c *Client) decode(body []byte) ([]feed.Record, error) {
	if c.format == "xml" {
		members, err := feed.DecodeXML(body)
		if err != nil {
			return nil, err
		}
		if m, ok := members.Find(feed.HasRows); ok {
			rows, _ := feed.Rows(m.Value)
			return rows, nil
		}
		return nil, nil
	}

	members, err := feed.DecodeJSON(body)
	if err != nil {
		return nil, err
	}
	if m, ok := members.Find(feed.HasRows); ok {
		rows, _ := feed.Rows(m.Value)
		return rows, nil
	}
	if data, ok := members.Get("data"); ok {
		if rows, ok := feed.Rows(data); ok {
			return rows, nil
		}
	}
	return nil, nil
}

// MapRow converts an AccInfo row to the client record shape, reprojecting
// GRS80 TM coordinates to WGS84. Rows in any other shape pass through.
func MapRow(row feed.Record, now time.Time) feed.Record {
	if _, ok := row.Value("acc_id", "acc_type", "grs80tm_x"); !ok {
		return row
	}

	coord := geo.SeoulCenter
	x, okX := row.Number("grs80tm_x")
	y, okY := row.Number("grs80tm_y")
	if okX && okY && x != 0 && y != 0 {
		if c := geo.FromKoreaCentralBelt(x, y); c.Valid() {
			coord = c
		}
	}

	id, _ := row.String("acc_id")
	category, ok := row.String("acc_type")
	if !ok {
		category = "A"
	}
	message, _ := row.String("acc_info")
	occrDate, _ := row.String("occr_date")
	occrTime, _ := row.String("occr_time")
	clrDate, _ := row.String("exp_clr_date")
	clrTime, _ := row.String("exp_clr_time")

	meta := map[string]any{
		"expClearAt": feed.CompactTimestamp(clrDate, clrTime, now),
	}
	if v, ok := row.Value("link_id"); ok {
		meta["linkId"] = v
	}
	if v, ok := row.Value("acc_road_code"); ok {
		meta["roadCode"] = v
	}

	return feed.Record{
		"id":        id,
		"category":  category,
		"message":   message,
		"lat":       coord.Lat,
		"lng":       coord.Lng,
		"startedAt": feed.CompactTimestamp(occrDate, occrTime, now),
		"meta":      meta,
	}
}

func (c *Client) placeholder() feed.Record {
	now := c.clock.Now()
	return feed.Record{
		"id":          "sample-incident-" + strconv.FormatInt(now.UnixMilli(), 10),
		"category":    "roadwork",
		"message":     "샘플: 공사 주의",
		"lat":         geo.SeoulCenter.Lat,
		"lng":         geo.SeoulCenter.Lng,
		"lanesClosed": 1,
		"startedAt":   now.Add(-5 * time.Minute).In(feed.Seoul).Format(time.RFC3339),
	}
}
