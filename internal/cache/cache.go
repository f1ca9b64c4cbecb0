// Package cache implements a stale-while-revalidate JSON cache over a
// two-tier key/value store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/safeway/safeway/internal/observability"
)

// Lookup results recorded in metrics.
const (
	ResultFresh = "fresh"
	ResultStale = "stale"
	ResultMiss  = "miss"
)

// StoreGrace is added to the stale window when setting the physical store
// TTL, so an entry is still readable at an age of exactly the stale window.
// Entry age, not store expiry, decides fresh, stale and expired.
const StoreGrace = 5 * time.Second

// ErrNilFetcher is returned by GetOrSet when no fetcher is given.
var ErrNilFetcher = errors.New("cache: nil fetcher")

// Config holds configuration for the Cache.
type Config struct {
	// Store defaults to an in-memory store.
	Store Store

	// Clock defaults to the real clock.
	Clock clockwork.Clock

	// TTL is the age up to which entries are served fresh (default: 90s).
	TTL time.Duration

	// Stale is the age up to which entries are still served, flagged stale,
	// while a background refresh runs (default: 120s). Entries older than
	// Stale are refetched synchronously.
	Stale time.Duration

	// RefreshConcurrency bounds background refreshes in flight (default: 4).
	RefreshConcurrency int64

	// RefreshTimeout bounds a single background refresh (default: 30s).
	RefreshTimeout time.Duration

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Cache is a stale-while-revalidate cache. It is the only writer of its keys.
type Cache struct {
	store          Store
	clock          clockwork.Clock
	ttl            time.Duration
	stale          time.Duration
	refreshTimeout time.Duration
	metrics        *observability.Metrics
	logger         zerolog.Logger

	sem   *semaphore.Weighted
	group singleflight.Group
	wg    sync.WaitGroup
}

// New creates a Cache.
func New(cfg Config) *Cache {
	c := &Cache{
		store:          cfg.Store,
		clock:          cfg.Clock,
		ttl:            cfg.TTL,
		stale:          cfg.Stale,
		refreshTimeout: cfg.RefreshTimeout,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.store == nil {
		c.store = NewMemoryStore(c.clock)
	}
	if c.ttl <= 0 {
		c.ttl = 90 * time.Second
	}
	if c.stale < c.ttl {
		c.stale = c.ttl + 30*time.Second
	}
	if c.refreshTimeout <= 0 {
		c.refreshTimeout = 30 * time.Second
	}
	n := cfg.RefreshConcurrency
	if n <= 0 {
		n = 4
	}
	c.sem = semaphore.NewWeighted(n)
	return c
}

// Options overrides the cache-wide windows for one call.
type Options struct {
	TTL   time.Duration
	Stale time.Duration
}

// Result is a value read through GetOrSet.
type Result[T any] struct {
	Data  T
	Stale bool
}

// Fetcher produces the value for a key.
type Fetcher[T any] func(ctx context.Context) (T, error)

type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta envelopeMeta    `json:"meta"`
}

type envelopeMeta struct {
	CachedAt int64 `json:"cachedAt"`
}

// Put stores v under key with the current time, replacing any entry.
func (c *Cache) Put(ctx context.Context, key string, v any) error {
	return c.put(ctx, key, v, c.stale)
}

func (c *Cache) put(ctx context.Context, key string, v any, stale time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	raw, err := json.Marshal(envelope{
		Data: data,
		Meta: envelopeMeta{CachedAt: c.clock.Now().UnixMilli()},
	})
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, raw, stale+StoreGrace); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes the entry under key into dst regardless of its age and
// returns the time it was written.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (time.Time, bool, error) {
	env, ok := c.read(ctx, key)
	if !ok {
		return time.Time{}, false, nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return time.Time{}, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return time.UnixMilli(env.Meta.CachedAt), true, nil
}

func (c *Cache) read(ctx context.Context, key string) (envelope, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return envelope{}, false
	}
	if !ok {
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Meta.CachedAt == 0 {
		c.logger.Warn().Err(err).Str("key", key).Msg("discarding malformed cache entry")
		return envelope{}, false
	}
	return env, true
}

// Wait blocks until all background refreshes have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// TTL returns the default fresh window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// StaleWindow returns the default stale window.
func (c *Cache) StaleWindow() time.Duration { return c.stale }

// Backend returns the name of the backing store in use.
func (c *Cache) Backend() string { return c.store.Name() }

// GetOrSet returns the entry under key, fetching it when absent or older
// than the stale window. Entries between the fresh and stale windows are
// returned with Stale set and refreshed once in the background; a failed
// background refresh leaves the entry as it was.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, fetch Fetcher[T], opts ...Options) (Result[T], error) {
	if fetch == nil {
		return Result[T]{}, ErrNilFetcher
	}
	ttl, stale := c.ttl, c.stale
	if len(opts) > 0 {
		if opts[0].TTL > 0 {
			ttl = opts[0].TTL
		}
		if opts[0].Stale >= ttl {
			stale = opts[0].Stale
		}
		if stale < ttl {
			stale = ttl
		}
	}

	if env, ok := c.read(ctx, key); ok {
		var data T
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache entry does not match type")
		} else {
			age := c.clock.Since(time.UnixMilli(env.Meta.CachedAt))
			switch {
			case age <= ttl:
				c.metrics.CacheLookup(key, ResultFresh)
				c.logger.Debug().Str("key", key).Dur("age", age).Msg("cache hit")
				return Result[T]{Data: data}, nil
			case age <= stale:
				c.metrics.CacheLookup(key, ResultStale)
				c.refresh(ctx, key, stale, func(ctx context.Context) (any, error) {
					return fetch(ctx)
				})
				return Result[T]{Data: data, Stale: true}, nil
			}
		}
	}

	c.metrics.CacheLookup(key, ResultMiss)
	v, err, _ := c.group.Do("fetch:"+key, func() (any, error) {
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.put(ctx, key, data, stale); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
		return data, nil
	})
	if err != nil {
		return Result[T]{}, fmt.Errorf("fetching %s: %w", key, err)
	}
	data, _ := v.(T)
	return Result[T]{Data: data}, nil
}

// refresh runs fetch in the background, at most once per key at a time.
// It never blocks the caller.
func (c *Cache) refresh(parent context.Context, key string, stale time.Duration, fetch func(context.Context) (any, error)) {
	if !c.sem.TryAcquire(1) {
		c.metrics.CacheRefreshed(observability.OutcomeSkipped)
		c.logger.Warn().Str("key", key).Msg("background refresh skipped, too many in flight")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.refreshTimeout)
		defer cancel()

		_, _, _ = c.group.Do("refresh:"+key, func() (any, error) {
			v, err := fetch(ctx)
			if err == nil {
				err = c.put(ctx, key, v, stale)
			}
			if err != nil {
				c.metrics.CacheRefreshed(observability.OutcomeError)
				c.logger.Warn().Err(err).Str("key", key).Msg("background refresh failed")
				return nil, err
			}
			c.metrics.CacheRefreshed(observability.OutcomeSuccess)
			c.logger.Debug().Str("key", key).Msg("background refresh complete")
			return nil, nil
		})
	}()
}
