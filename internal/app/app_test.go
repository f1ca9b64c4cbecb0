package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeway/safeway/internal/cache"
	"github.com/safeway/safeway/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Load()
	cfg.Cache.DisableRedis = true
	return cfg
}

func TestBuild_MemoryOnly(t *testing.T) {
	cfg := testConfig(t)

	c, err := Build(context.Background(), Options{Config: cfg, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })

	assert.Equal(t, cache.BackendMemory, c.Store.Name())
	assert.True(t, c.Store.Degraded())
	assert.Equal(t, cache.BackendMemory, c.Cache.Backend())
	assert.Equal(t, cfg.Cache.TTL, c.Cache.TTL())
	assert.NoError(t, c.CacheCheck(context.Background()))

	names := make([]string, 0, 4)
	for _, h := range c.Registry.GetAllHealth() {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"nominatim", "osrm", "seoul-crowd", "seoul-incident"}, names)
}

func TestBuild_GeocodeDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.GeocodeEnabled = false

	c, err := Build(context.Background(), Options{Config: cfg, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, 3, c.Registry.ProviderCount())
	assert.Nil(t, c.Registry.GetHealth("nominatim"))
}

func TestBuild_UnreachableRedisFallsBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.DisableRedis = false
	cfg.Cache.RedisURL = "redis://127.0.0.1:1/0"

	c, err := Build(context.Background(), Options{Config: cfg, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.True(t, c.Store.Degraded())
	assert.Equal(t, cache.BackendMemory, c.Store.Name())
	assert.NoError(t, c.CacheCheck(context.Background()))
}

func TestBuild_InvalidRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.DisableRedis = false
	cfg.Cache.RedisURL = "mysql://nope"

	_, err := Build(context.Background(), Options{Config: cfg, Logger: zerolog.Nop()})
	assert.ErrorContains(t, err, "configuring redis")
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		level   string
		json    bool
		debugOK bool
	}{
		{name: "development uses console output", env: "development", level: "debug", json: false, debugOK: true},
		{name: "production stays json", env: "production", level: "info", json: true, debugOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Env = tt.env
			cfg.LogLevel = tt.level

			var buf bytes.Buffer
			log := ConfigureLogger(zerolog.New(&buf), cfg, &buf)
			log.Info().Str("area", "명동").Msg("ready")

			line := strings.TrimSpace(buf.String())
			assert.Contains(t, line, "ready")
			assert.Equal(t, tt.json, strings.HasPrefix(line, "{"), line)

			buf.Reset()
			log.Debug().Msg("detail")
			assert.Equal(t, tt.debugOK, buf.Len() > 0)
		})
	}
}
