package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/cache"
	"github.com/safeway/safeway/internal/feed"
	"github.com/safeway/safeway/internal/feed/crowd"
	"github.com/safeway/safeway/internal/feed/incident"
	"github.com/safeway/safeway/internal/observability"
	"github.com/safeway/safeway/internal/safety"
)

// WarmJob writes fresh feed records into the cache under the keys the
// request path reads, so requests rarely wait on a provider.
type WarmJob struct {
	config    WarmConfig
	incidents safety.FeedFetcher
	crowd     safety.CrowdFetcher
	cache     *cache.Cache
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    zerolog.Logger

	stats *WarmMetrics
}

// WarmMetrics tracks warm job statistics.
type WarmMetrics struct {
	mu sync.RWMutex

	TotalRuns       int64
	SuccessfulWrite int64
	FailedWrites    int64
	IncidentWrites  int64
	CrowdWrites     int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// WarmJobConfig holds configuration for creating a WarmJob.
type WarmJobConfig struct {
	Config    WarmConfig
	Incidents safety.FeedFetcher
	Crowd     safety.CrowdFetcher
	Cache     *cache.Cache
	Clock     clockwork.Clock
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

// NewWarmJob creates a new warm job.
func NewWarmJob(cfg WarmJobConfig) *WarmJob {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WarmJob{
		config:    cfg.Config.withDefaults(),
		incidents: cfg.Incidents,
		crowd:     cfg.Crowd,
		cache:     cfg.Cache,
		clock:     clock,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		stats:     &WarmMetrics{},
	}
}

// WarmResult contains the result of one warm run.
type WarmResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Writes     []WarmWrite
	Successful int
	Failed     int
}

// WarmWrite is the outcome of one cache write.
type WarmWrite struct {
	Feed    string
	Key     string
	Records int
	Error   string
}

// OK reports whether the write succeeded.
func (w WarmWrite) OK() bool { return w.Error == "" }

// Run warms incidents and every crowd target once.
func (j *WarmJob) Run(ctx context.Context) *WarmResult {
	return j.run(ctx, j.config.Targets)
}

// RunAreas warms incidents plus the given extra crowd scopes.
func (j *WarmJob) RunAreas(ctx context.Context, groups ...[]string) *WarmResult {
	return j.run(ctx, TargetsFromAreas(groups...))
}

func (j *WarmJob) run(ctx context.Context, targets []WarmTarget) *WarmResult {
	start := j.clock.Now()
	result := &WarmResult{StartTime: start}

	j.logger.Info().
		Bool("incidents", j.config.WarmIncidents).
		Int("crowd_targets", len(targets)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting cache warm")

	var (
		mu     sync.Mutex
		writes []WarmWrite
	)
	record := func(w WarmWrite) {
		mu.Lock()
		writes = append(writes, w)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	if j.config.WarmIncidents && j.incidents != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(j.warmIncidents(ctx))
		}()
	}

	if j.config.WarmCrowd && j.crowd != nil {
		jobs := make(chan WarmTarget, len(targets))
		for _, t := range targets {
			jobs <- t
		}
		close(jobs)

		workers := min(j.config.Concurrency, len(targets))
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for t := range jobs {
					if ctx.Err() != nil {
						return
					}
					record(j.warmCrowd(ctx, t))
				}
			}()
		}
	}
	wg.Wait()

	result.Writes = writes
	for _, w := range writes {
		if w.OK() {
			result.Successful++
		} else {
			result.Failed++
		}
	}
	result.EndTime = j.clock.Now()
	result.Duration = result.EndTime.Sub(start)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("cache warm completed")

	return result
}

func (j *WarmJob) warmIncidents(ctx context.Context) WarmWrite {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	key := safety.IncidentKey("", "")
	records := j.incidents.Fetch(ctx, feed.Params{})
	return j.put(ctx, incident.FeedName, key, records)
}

func (j *WarmJob) warmCrowd(ctx context.Context, t WarmTarget) WarmWrite {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	areas, key := safety.CrowdScope(j.crowd, t.Areas)
	records := j.crowd.Fetch(ctx, feed.Params{Areas: areas})
	return j.put(ctx, crowd.FeedName, key, records)
}

func (j *WarmJob) put(ctx context.Context, feedName, key string, records []feed.Record) WarmWrite {
	w := WarmWrite{Feed: feedName, Key: key, Records: len(records)}
	if err := j.cache.Put(ctx, key, records); err != nil {
		w.Error = err.Error()
		j.metrics.WarmRun(feedName, observability.OutcomeError)
		j.logger.Warn().Err(err).Str("key", key).Msg("cache warm write failed")
		return w
	}
	j.metrics.WarmRun(feedName, observability.OutcomeSuccess)
	j.logger.Debug().Str("key", key).Int("records", len(records)).Msg("cache warmed")
	return w
}

// Start runs the job immediately and then every Interval until ctx is done.
func (j *WarmJob) Start(ctx context.Context) {
	ticker := j.clock.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("cache warmer stopped")
			return
		case <-ticker.Chan():
			j.Run(ctx)
		}
	}
}

func (j *WarmJob) updateMetrics(result *WarmResult) {
	j.stats.mu.Lock()
	defer j.stats.mu.Unlock()

	j.stats.TotalRuns++
	j.stats.SuccessfulWrite += int64(result.Successful)
	j.stats.FailedWrites += int64(result.Failed)
	for _, w := range result.Writes {
		if !w.OK() {
			continue
		}
		switch w.Feed {
		case incident.FeedName:
			j.stats.IncidentWrites++
		case crowd.FeedName:
			j.stats.CrowdWrites++
		}
	}
	j.stats.LastRunAt = result.EndTime
	j.stats.LastRunDuration = result.Duration
	j.stats.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *WarmJob) GetMetrics() WarmMetrics {
	j.stats.mu.RLock()
	defer j.stats.mu.RUnlock()

	return WarmMetrics{
		TotalRuns:       j.stats.TotalRuns,
		SuccessfulWrite: j.stats.SuccessfulWrite,
		FailedWrites:    j.stats.FailedWrites,
		IncidentWrites:  j.stats.IncidentWrites,
		CrowdWrites:     j.stats.CrowdWrites,
		LastRunAt:       j.stats.LastRunAt,
		LastRunDuration: j.stats.LastRunDuration,
		TotalDuration:   j.stats.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *WarmJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":        m.TotalRuns,
		"successful_writes": m.SuccessfulWrite,
		"failed_writes":     m.FailedWrites,
		"incident_writes":   m.IncidentWrites,
		"crowd_writes":      m.CrowdWrites,
		"last_run_at":       m.LastRunAt,
		"last_run_duration": m.LastRunDuration.String(),
		"total_duration":    m.TotalDuration.String(),
	}
}
