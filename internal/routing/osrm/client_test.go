package osrm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeway/safeway/internal/geo"
	"github.com/safeway/safeway/internal/routing"
	"github.com/safeway/safeway/pkg/polyline"
)

var (
	cityHall = geo.Coordinate{Lat: 37.5665, Lng: 126.978}
	gangnam  = geo.Coordinate{Lat: 37.49794, Lng: 127.02762}
)

func seoulRequest() routing.DirectionsRequest {
	return routing.DirectionsRequest{Origin: cityHall, Destination: gangnam}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Clock:      clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		Logger:     zerolog.Nop(),
	})
}

func TestClient_GetDirections_Success(t *testing.T) {
	main := orb.LineString{{126.978, 37.5665}, {127.0, 37.53}, {127.02762, 37.49794}}
	alt := orb.LineString{{126.978, 37.5665}, {126.99, 37.52}, {127.02762, 37.49794}}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/route/v1/driving/126.978,37.5665;127.02762,37.49794", r.URL.Path)
		assert.Equal(t, "polyline", r.URL.Query().Get("geometries"))
		assert.Equal(t, "true", r.URL.Query().Get("alternatives"))
		assert.Equal(t, "full", r.URL.Query().Get("overview"))
		assert.Equal(t, "false", r.URL.Query().Get("steps"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"code":"Ok","routes":[
			{"geometry":%q,"distance":10234.6,"duration":1320.4,"weight":1320.4,"weight_name":"routability"},
			{"geometry":%q,"distance":11020.2,"duration":1401.5}
		],"waypoints":[]}`, polyline.Encode(main), polyline.Encode(alt))
	})

	resp, err := client.GetDirections(context.Background(), seoulRequest())
	require.NoError(t, err)

	assert.Equal(t, ProviderName, resp.Provider)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), resp.FetchedAt)
	require.Len(t, resp.Routes, 2)

	assert.Equal(t, routing.RouteSummary{DistanceMeters: 10235, DurationSeconds: 1320}, resp.Routes[0].Summary)
	assert.Equal(t, routing.RouteSummary{DistanceMeters: 11020, DurationSeconds: 1402}, resp.Routes[1].Summary)

	require.Len(t, resp.Routes[0].Geometry, 3)
	assert.InDelta(t, 126.978, resp.Routes[0].Geometry[0].Lon(), 1e-5)
	assert.InDelta(t, 37.5665, resp.Routes[0].Geometry[0].Lat(), 1e-5)
	assert.InDelta(t, 37.49794, resp.Routes[0].Geometry[2].Lat(), 1e-5)
	assert.InDelta(t, 126.99, resp.Routes[1].Geometry[1].Lon(), 1e-5)
}

func TestClient_GetDirections_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		code     string
		sentinel error
	}{
		{
			name:     "no route",
			status:   http.StatusBadRequest,
			body:     `{"code":"NoRoute","message":"Impossible route between points"}`,
			code:     "NO_ROUTE",
			sentinel: routing.ErrNoRouteFound,
		},
		{
			name:     "invalid query",
			status:   http.StatusBadRequest,
			body:     `{"code":"InvalidQuery","message":"Query string malformed close to position 28"}`,
			code:     "BAD_REQUEST",
			sentinel: routing.ErrInvalidCoordinates,
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"message":"Too Many Requests"}`,
			code:     "RATE_LIMIT",
			sentinel: routing.ErrRateLimitExceeded,
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			code:     "SERVER_502",
			sentinel: routing.ErrProviderUnavailable,
		},
		{
			name:     "malformed body",
			status:   http.StatusOK,
			body:     `{"code":`,
			code:     "HTTP_200",
			sentinel: routing.ErrProviderUnavailable,
		},
		{
			name:     "ok without routes",
			status:   http.StatusOK,
			body:     `{"code":"Ok","routes":[]}`,
			code:     "NO_ROUTE",
			sentinel: routing.ErrNoRouteFound,
		},
		{
			name:     "bad geometry",
			status:   http.StatusOK,
			body:     `{"code":"Ok","routes":[{"geometry":"_p~iF~ps|U_","distance":1,"duration":1}]}`,
			code:     "BAD_GEOMETRY",
			sentinel: polyline.ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.GetDirections(context.Background(), seoulRequest())

			var routingErr *routing.Error
			require.ErrorAs(t, err, &routingErr)
			assert.Equal(t, ProviderName, routingErr.Provider)
			assert.Equal(t, tt.code, routingErr.Code)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
		})
	}
}

func TestClient_GetDirections_InvalidCoordinates(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	})

	_, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin:      geo.Coordinate{Lat: 95, Lng: 127},
		Destination: gangnam,
	})

	assert.ErrorIs(t, err, routing.ErrInvalidCoordinates)
	assert.Zero(t, calls.Load())
}

// failingDoer always fails with a network error.
type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestClient_GetDirections_NetworkError(t *testing.T) {
	client := NewClient(ClientConfig{HTTPClient: failingDoer{}, Logger: zerolog.Nop()})

	_, err := client.GetDirections(context.Background(), seoulRequest())

	var routingErr *routing.Error
	require.ErrorAs(t, err, &routingErr)
	assert.Equal(t, "REQUEST_FAILED", routingErr.Code)
	assert.True(t, routingErr.IsRetryable())
}

func TestClient_URL(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://osrm.local/", Profile: "foot", HTTPClient: failingDoer{}})

	assert.Equal(t,
		"http://osrm.local/route/v1/foot/126.978,37.5665;127.02762,37.49794?alternatives=true&geometries=polyline&overview=full&steps=false",
		client.URL(seoulRequest()))
	assert.Equal(t, ProviderName, client.Name())
}
