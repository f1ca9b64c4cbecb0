package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/observability"
)

// Backend names reported by Store.Name.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Store is a byte-oriented key/value store with per-key TTL.
type Store interface {
	// Get returns ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Name() string
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Expiry is checked on read only.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   clockwork.Clock
}

// NewMemoryStore creates a MemoryStore. A nil clock uses the real clock.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		clock:   clock,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value. A non-positive ttl never expires.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Name() string { return BackendMemory }

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RedisStore is a Store backed by redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis parses url and returns a RedisStore. It does not connect.
func DialRedis(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Name() string { return BackendRedis }

// TieredStoreConfig holds configuration for a TieredStore.
type TieredStoreConfig struct {
	// Primary is the shared store. Nil means memory only.
	Primary Store

	// Fallback defaults to a new MemoryStore.
	Fallback *MemoryStore

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// TieredStore prefers Primary and switches to Fallback for the rest of the
// process lifetime after the first Primary error.
type TieredStore struct {
	primary  Store
	fallback *MemoryStore
	degraded atomic.Bool
	once     sync.Once
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewTieredStore creates a TieredStore.
func NewTieredStore(cfg TieredStoreConfig) *TieredStore {
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = NewMemoryStore(nil)
	}
	s := &TieredStore{
		primary:  cfg.Primary,
		fallback: fallback,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	if s.primary == nil {
		s.degraded.Store(true)
	}
	s.metrics.SetCacheBackend(s.Name())
	return s
}

// Connect pings primary when it supports Ping and degrades on failure.
func (s *TieredStore) Connect(ctx context.Context) {
	p, ok := s.primary.(interface{ Ping(context.Context) error })
	if !ok || s.degraded.Load() {
		return
	}
	if err := p.Ping(ctx); err != nil {
		s.degrade(err)
	}
}

func (s *TieredStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !s.degraded.Load() {
		v, ok, err := s.primary.Get(ctx, key)
		if err == nil {
			return v, ok, nil
		}
		if ctx.Err() != nil {
			return nil, false, err
		}
		s.degrade(err)
	}
	return s.fallback.Get(ctx, key)
}

func (s *TieredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !s.degraded.Load() {
		err := s.primary.Set(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		s.degrade(err)
	}
	return s.fallback.Set(ctx, key, value, ttl)
}

// Name reports the backend currently serving requests.
func (s *TieredStore) Name() string {
	if s.degraded.Load() {
		return s.fallback.Name()
	}
	return s.primary.Name()
}

// Degraded reports whether the fallback is in use.
func (s *TieredStore) Degraded() bool {
	return s.degraded.Load()
}

func (s *TieredStore) degrade(err error) {
	s.once.Do(func() {
		s.degraded.Store(true)
		s.metrics.SetCacheBackend(s.fallback.Name())
		s.logger.Warn().Err(err).
			Str("primary", s.primary.Name()).
			Msg("cache backend unavailable, using in-memory store")
	})
}
