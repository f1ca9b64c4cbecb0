package worker_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeway/safeway/internal/cache"
	"github.com/safeway/safeway/internal/feed"
	"github.com/safeway/safeway/internal/observability"
	"github.com/safeway/safeway/internal/provider/resilience"
	"github.com/safeway/safeway/internal/worker"
)

type countingFeed struct {
	records []feed.Record
	calls   atomic.Int32
}

func (f *countingFeed) Fetch(context.Context, feed.Params) []feed.Record {
	f.calls.Add(1)
	return f.records
}

type areaFeed struct {
	countingFeed
}

func (f *areaFeed) Areas(p feed.Params) []string {
	if len(p.Areas) > 0 {
		return p.Areas
	}
	return []string{"강남역"}
}

// brokenStore rejects every write.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store unavailable")
}
func (brokenStore) Name() string { return "broken" }

type fixture struct {
	job       *worker.WarmJob
	cache     *cache.Cache
	clock     *clockwork.FakeClock
	incidents *countingFeed
	crowd     *areaFeed
	metrics   *observability.Metrics
}

func newFixture(t *testing.T, cfg worker.WarmConfig, store cache.Store) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC))
	f := &fixture{
		clock:     clock,
		incidents: &countingFeed{records: []feed.Record{{"id": "acc-1", "lat": 37.56, "lng": 126.97}}},
		crowd:     &areaFeed{countingFeed{records: []feed.Record{{"areaNm": "강남역", "lat": 37.49794, "lng": 127.02762}}}},
		metrics:   observability.NewMetricsForTesting(),
	}
	f.cache = cache.New(cache.Config{Store: store, Clock: clock, Logger: zerolog.Nop()})
	f.job = worker.NewWarmJob(worker.WarmJobConfig{
		Config:    cfg,
		Incidents: f.incidents,
		Crowd:     f.crowd,
		Cache:     f.cache,
		Clock:     clock,
		Metrics:   f.metrics,
		Logger:    zerolog.Nop(),
	})
	return f
}

func TestDefaultWarmConfig(t *testing.T) {
	cfg := worker.DefaultWarmConfig()

	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, cfg.WarmIncidents)
	assert.True(t, cfg.WarmCrowd)
	assert.Equal(t, []worker.WarmTarget{{Name: "default"}}, cfg.Targets)
}

func TestTargetsFromAreas(t *testing.T) {
	targets := worker.TargetsFromAreas([]string{"명동"}, nil, []string{"홍대입구", "여의도"})

	require.Len(t, targets, 3)
	assert.Equal(t, "default", targets[0].Name)
	assert.Empty(t, targets[0].Areas)
	assert.Equal(t, worker.WarmTarget{Name: "명동", Areas: []string{"명동"}}, targets[1])
	assert.Equal(t, worker.WarmTarget{Name: "홍대입구+", Areas: []string{"홍대입구", "여의도"}}, targets[2])
}

func TestWarmJob_Run_WritesRequestPathKeys(t *testing.T) {
	f := newFixture(t, worker.DefaultWarmConfig(), nil)
	ctx := context.Background()

	result := f.job.Run(ctx)

	assert.Equal(t, 2, result.Successful)
	assert.Zero(t, result.Failed)

	var incidents []feed.Record
	cachedAt, ok, err := f.cache.GetJSON(ctx, "incidents:all:all", &incidents)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.clock.Now().UnixMilli(), cachedAt.UnixMilli())
	assert.Equal(t, "acc-1", incidents[0]["id"])

	var crowd []feed.Record
	_, ok, err = f.cache.GetJSON(ctx, "crowd:강남역", &crowd)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "강남역", crowd[0]["areaNm"])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WarmRuns.WithLabelValues("incidents", observability.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WarmRuns.WithLabelValues("crowd", observability.OutcomeSuccess)))

	m := f.job.GetMetrics()
	assert.Equal(t, int64(1), m.TotalRuns)
	assert.Equal(t, int64(1), m.IncidentWrites)
	assert.Equal(t, int64(1), m.CrowdWrites)
	assert.Equal(t, int64(1), f.job.MetricsSnapshot()["total_runs"])
}

func TestWarmJob_RunAreas(t *testing.T) {
	f := newFixture(t, worker.DefaultWarmConfig(), nil)
	ctx := context.Background()

	result := f.job.RunAreas(ctx, []string{"명동", "홍대입구"})

	assert.Equal(t, 3, result.Successful)
	keys := make([]string, 0, len(result.Writes))
	for _, w := range result.Writes {
		keys = append(keys, w.Key)
	}
	assert.ElementsMatch(t, []string{"incidents:all:all", "crowd:강남역", "crowd:명동-홍대입구"}, keys)
	assert.Equal(t, int32(2), f.crowd.calls.Load())
}

func TestWarmJob_Run_DisabledFeeds(t *testing.T) {
	cfg := worker.DefaultWarmConfig()
	cfg.WarmCrowd = false
	f := newFixture(t, cfg, nil)

	result := f.job.Run(context.Background())

	require.Len(t, result.Writes, 1)
	assert.Equal(t, "incidents", result.Writes[0].Feed)
	assert.Zero(t, f.crowd.calls.Load())
}

func TestWarmJob_Run_WriteFailures(t *testing.T) {
	f := newFixture(t, worker.DefaultWarmConfig(), brokenStore{})

	result := f.job.Run(context.Background())

	assert.Zero(t, result.Successful)
	assert.Equal(t, 2, result.Failed)
	for _, w := range result.Writes {
		assert.False(t, w.OK())
		assert.Contains(t, w.Error, "store unavailable")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WarmRuns.WithLabelValues("crowd", observability.OutcomeError)))

	d := worker.NewDispatcher(f.job, nil, zerolog.Nop())
	assert.False(t, d.Handle(context.Background(), []byte(`{"job_type":"cache_warm"}`)))
}

func TestWarmJob_Start_RunsOnEveryTick(t *testing.T) {
	cfg := worker.DefaultWarmConfig()
	cfg.Interval = time.Minute
	f := newFixture(t, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.job.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return f.incidents.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))

	f.clock.Advance(time.Minute)
	assert.Eventually(t, func() bool { return f.incidents.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("warmer did not stop")
	}
}

func TestDispatcher_Handle(t *testing.T) {
	f := newFixture(t, worker.DefaultWarmConfig(), nil)
	d := worker.NewDispatcher(f.job, nil, zerolog.Nop())
	ctx := context.Background()

	assert.True(t, d.Handle(ctx, []byte(`{"job_type":"cache_warm"}`)))
	assert.True(t, d.Handle(ctx, []byte(`{"job_type":"cache_warm","areas":[["명동"]]}`)))
	assert.True(t, d.Handle(ctx, []byte(`{"job_type":"provider_refresh"}`)), "unknown jobs are acked")
	assert.True(t, d.Handle(ctx, []byte(`{"job_type":"health_check"}`)))
	assert.False(t, d.Handle(ctx, []byte(`not json`)))

	assert.Equal(t, int32(2), f.incidents.calls.Load())
	assert.Equal(t, int32(3), f.crowd.calls.Load())
}

func TestDispatcher_HealthCheck_OpenCircuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	reg := resilience.NewRegistry()
	cb := resilience.DefaultCircuitBreakerConfig("osrm")
	cb.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 1 }
	client := resilience.NewClient(resilience.ClientConfig{
		Name:           "osrm",
		Timeout:        time.Second,
		CircuitBreaker: &cb,
		Registry:       reg,
	})

	d := worker.NewDispatcher(nil, reg, zerolog.Nop())
	assert.True(t, d.Handle(context.Background(), []byte(`{"job_type":"health_check"}`)))

	req, err := http.NewRequest(http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, gobreaker.StateOpen, client.CircuitBreakerState())

	assert.False(t, d.Handle(context.Background(), []byte(`{"job_type":"health_check"}`)))
}
