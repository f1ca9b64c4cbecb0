// Package nominatim provides a geocoding client for the OpenStreetMap
// Nominatim search API.
package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/geo"
	"github.com/safeway/safeway/internal/provider/resilience"
)

const (
	// ProviderName identifies this geocoding provider.
	ProviderName = "nominatim"

	// DefaultBaseURL is the public Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultUserAgent is sent with every request. Nominatim's usage policy
	// rejects requests without an identifying agent.
	DefaultUserAgent = "safe-way-app/1.0"
)

// ErrUnexpectedStatus is returned for non-200 responses.
var ErrUnexpectedStatus = errors.New("unexpected geocode status")

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the Nominatim client.
type ClientConfig struct {
	BaseURL   string
	UserAgent string

	// HTTPClient defaults to a resilient client.
	HTTPClient HTTPDoer

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// Client geocodes free-text place names.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new Nominatim client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.UserAgent = ua
		clientCfg.Registry = cfg.Registry
		httpClient = resilience.NewClient(clientCfg)
	}
	return &Client{
		baseURL:    baseURL,
		userAgent:  ua,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode returns the best match for query. ok is false when Nominatim has
// no result or the result carries unusable coordinates.
func (c *Client) Geocode(ctx context.Context, query string) (geo.Coordinate, bool, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("addressdetails", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return geo.Coordinate{}, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return geo.Coordinate{}, false, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return geo.Coordinate{}, false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return geo.Coordinate{}, false, fmt.Errorf("decoding response: %w", err)
	}
	if len(places) == 0 {
		c.logger.Debug().Str("query", query).Msg("no geocode match")
		return geo.Coordinate{}, false, nil
	}

	lat, errLat := strconv.ParseFloat(places[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(places[0].Lon, 64)
	coord := geo.Coordinate{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !coord.Valid() {
		return geo.Coordinate{}, false, nil
	}

	c.logger.Debug().
		Str("query", query).
		Str("match", places[0].DisplayName).
		Float64("lat", lat).
		Float64("lng", lng).
		Msg("geocoded")
	return coord, true, nil
}
