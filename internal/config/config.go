// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all application configuration.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	Seoul     SeoulConfig
	Cache     CacheConfig
	Providers ProviderConfig
	Telemetry TelemetryConfig
	PubSub    PubSubConfig

	WarmInterval    time.Duration
	RateLimitPerMin int
}

// SeoulConfig configures the Seoul open data feeds.
type SeoulConfig struct {
	BaseURL          string
	APIKey           string
	Format           string
	IncidentService  string
	IncidentURL      string
	CrowdService     string
	CrowdArea        string
	CrowdAreas       []string
	CrowdAreaFile    string
	DefaultStart     int
	DefaultEnd       int
	CrowdConcurrency int
}

// CacheConfig configures the hazard cache.
type CacheConfig struct {
	RedisURL           string
	DisableRedis       bool
	TTL                time.Duration
	Stale              time.Duration
	RefreshConcurrency int
}

// ProviderConfig configures routing and geocoding providers.
type ProviderConfig struct {
	OSRMBaseURL      string
	NominatimBaseURL string
	GeocodeUserAgent string
	GeocodeEnabled   bool
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRatio  float64
}

// PubSubConfig configures the optional warm trigger subscription.
type PubSubConfig struct {
	ProjectID    string
	Subscription string
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. Missing files are ignored and set variables are not
// overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:     getEnv("APP_PORT", "8080"),
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Seoul: SeoulConfig{
			BaseURL:          getEnv("SEOUL_BASE_URL", "http://openapi.seoul.go.kr:8088"),
			APIKey:           firstEnv("CHANGE_ME", "SEOUL_API_KEY", "SEOUL_INCIDENT_KEY", "SEOUL_CROWD_KEY"),
			Format:           strings.ToLower(getEnv("SEOUL_FORMAT", "json")),
			IncidentService:  getEnv("SEOUL_INCIDENT_SERVICE", "AccInfo"),
			IncidentURL:      getEnv("SEOUL_INCIDENT_URL", ""),
			CrowdService:     getEnv("SEOUL_CROWD_SERVICE", "citydata_ppltn"),
			CrowdArea:        getEnv("SEOUL_CROWD_AREA", "강남역"),
			CrowdAreas:       getListEnv("SEOUL_CROWD_AREAS"),
			CrowdAreaFile:    getEnv("SEOUL_CROWD_AREA_FILE", ""),
			DefaultStart:     getIntEnv("SEOUL_DEFAULT_START", 1),
			DefaultEnd:       getIntEnv("SEOUL_DEFAULT_END", 200),
			CrowdConcurrency: getIntEnv("CROWD_CONCURRENCY", 5),
		},
		Cache: CacheConfig{
			RedisURL:           getEnv("REDIS_URL", "redis://127.0.0.1:6379"),
			DisableRedis:       getBoolEnv("DISABLE_REDIS", false),
			TTL:                getDurationEnv("CACHE_TTL_SECONDS", 90) * time.Second,
			Stale:              getDurationEnv("CACHE_STALE_SECONDS", 120) * time.Second,
			RefreshConcurrency: getIntEnv("CACHE_REFRESH_CONCURRENCY", 4),
		},
		Providers: ProviderConfig{
			OSRMBaseURL:      getEnv("OSRM_BASE_URL", "https://router.project-osrm.org"),
			NominatimBaseURL: getEnv("NOMINATIM_BASE_URL", "https://nominatim.openstreetmap.org"),
			GeocodeUserAgent: getEnv("GEOCODE_USER_AGENT", "safe-way-app/1.0"),
			GeocodeEnabled:   getBoolEnv("GEOCODE_ENABLED", true),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRatio:  getFloatEnv("OTEL_SAMPLE_RATIO", 1),
		},
		PubSub: PubSubConfig{
			ProjectID:    getEnv("PUBSUB_PROJECT_ID", ""),
			Subscription: getEnv("PUBSUB_SUBSCRIPTION", "safeway-cache-warm"),
		},
		WarmInterval:    getParsedDurationEnv("WARM_INTERVAL", time.Minute),
		RateLimitPerMin: getIntEnv("RATE_LIMIT_PER_MINUTE", 120),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Seoul.Format != "json" && c.Seoul.Format != "xml" {
		errs = append(errs, fmt.Errorf("SEOUL_FORMAT must be json or xml, got %q", c.Seoul.Format))
	}
	if c.Seoul.DefaultStart < 1 || c.Seoul.DefaultEnd < c.Seoul.DefaultStart {
		errs = append(errs, fmt.Errorf("invalid default record range %d-%d", c.Seoul.DefaultStart, c.Seoul.DefaultEnd))
	}
	if c.Seoul.CrowdConcurrency <= 0 {
		errs = append(errs, errors.New("CROWD_CONCURRENCY must be positive"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL_SECONDS must be positive"))
	}
	if c.Cache.Stale < c.Cache.TTL {
		errs = append(errs, fmt.Errorf("CACHE_STALE_SECONDS (%s) must not be shorter than CACHE_TTL_SECONDS (%s)", c.Cache.Stale, c.Cache.TTL))
	}
	if c.Cache.RefreshConcurrency <= 0 {
		errs = append(errs, errors.New("CACHE_REFRESH_CONCURRENCY must be positive"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0, 1], got %g", c.Telemetry.SampleRatio))
	}
	if c.WarmInterval <= 0 {
		errs = append(errs, errors.New("WARM_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(defaultValue string, keys ...string) string {
	for _, k := range keys {
		if value := os.Getenv(k); value != "" {
			return value
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultSeconds int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds)
		}
	}
	return time.Duration(defaultSeconds)
}

func getParsedDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
