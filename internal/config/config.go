package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/circletap/internal/engine/catalog"
	"github.com/rendis/circletap/internal/engine/geo"
	"github.com/rendis/circletap/internal/model"
)

// Config holds all application configuration
type Config struct {
	Search        SearchConfig                 `yaml:"search"`
	Map           MapConfig                    `yaml:"map"`
	Relay         RelayConfig                  `yaml:"relay"`
	Redis         RedisConfig                  `yaml:"redis"`
	OTEL          OTELConfig                   `yaml:"otel"`
	Log           LogConfig                    `yaml:"log"`
	Searches      []model.SearchSpec           `yaml:"searches"`
	TypeOverrides map[int]catalog.TypeOverride `yaml:"type_overrides"`
}

// SearchConfig holds fan-out search configuration
type SearchConfig struct {
	MaxRadius        float64       `yaml:"max_radius"`
	SubRadiusRatio   float64       `yaml:"sub_radius_ratio"`
	OffsetRatio      float64       `yaml:"offset_ratio"`
	Concurrency      int           `yaml:"concurrency"`
	Timeout          time.Duration `yaml:"timeout"`
	FallbackIdentity bool          `yaml:"fallback_identity"`
	ProxyURL         string        `yaml:"proxy_url"`
}

// MapConfig is presentation only.
type MapConfig struct {
	DefaultCenter model.LatLng `yaml:"default_center"`
	DefaultZoom   int          `yaml:"default_zoom"`
}

// RelayConfig holds the places relay server configuration
type RelayConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	UpstreamURL    string        `yaml:"upstream_url"`
	FieldMask      string        `yaml:"field_mask"`
	MaxResultCount int           `yaml:"max_result_count"`
	Timeout        time.Duration `yaml:"timeout"`
	TLSFingerprint bool          `yaml:"tls_fingerprint"`
	ProxyURL       string        `yaml:"proxy_url"`
}

// RedisConfig holds Redis configuration. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Search: SearchConfig{
			MaxRadius:      25000,
			SubRadiusRatio: geo.DefaultRatios.SubRadius,
			OffsetRatio:    geo.DefaultRatios.Offset,
			Timeout:        15 * time.Second,
			ProxyURL:       "http://localhost:3000",
		},
		Map: MapConfig{
			DefaultCenter: model.LatLng{Lat: 41.9028, Lng: 12.4964},
			DefaultZoom:   13,
		},
		Relay: RelayConfig{
			ListenAddr:     ":3000",
			MaxResultCount: 20,
			Timeout:        15 * time.Second,
		},
		Redis: RedisConfig{TTL: 10 * time.Minute},
		OTEL: OTELConfig{
			Endpoint:       "localhost:4317",
			ServiceName:    "circletap",
			ServiceVersion: "0.1.0",
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads defaults, then the YAML file at path (if any), then environment
// overrides. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Search.MaxRadius = getEnvAsFloat("CIRCLETAP_MAX_RADIUS", c.Search.MaxRadius)
	c.Search.SubRadiusRatio = getEnvAsFloat("CIRCLETAP_SUB_RADIUS_RATIO", c.Search.SubRadiusRatio)
	c.Search.OffsetRatio = getEnvAsFloat("CIRCLETAP_OFFSET_RATIO", c.Search.OffsetRatio)
	c.Search.Concurrency = getEnvAsInt("CIRCLETAP_CONCURRENCY", c.Search.Concurrency)
	c.Search.ProxyURL = getEnv("CIRCLETAP_PROXY_URL", c.Search.ProxyURL)
	c.Search.FallbackIdentity = getEnvAsBool("CIRCLETAP_FALLBACK_IDENTITY", c.Search.FallbackIdentity)

	c.Relay.APIKey = getEnv("GOOGLE_MAPS_API_KEY", c.Relay.APIKey)
	if port := os.Getenv("PORT"); port != "" {
		c.Relay.ListenAddr = ":" + port
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)

	c.OTEL.Enabled = getEnvAsBool("OTEL_ENABLED", c.OTEL.Enabled)
	c.OTEL.Endpoint = getEnv("OTEL_ENDPOINT", c.OTEL.Endpoint)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks the constants the search core depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Search.MaxRadius <= 0 {
		errs = append(errs, fmt.Errorf("search.max_radius must be positive, got %v", c.Search.MaxRadius))
	}
	if err := c.Ratios().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Search.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("search.concurrency must not be negative"))
	}
	if c.Relay.MaxResultCount < 1 || c.Relay.MaxResultCount > 20 {
		errs = append(errs, fmt.Errorf("relay.max_result_count must be in [1, 20], got %d", c.Relay.MaxResultCount))
	}
	seen := map[int]bool{}
	for _, s := range c.Searches {
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("searches: duplicate id %d", s.ID))
		}
		seen[s.ID] = true
		if len(s.IncludedTypes) == 0 {
			errs = append(errs, fmt.Errorf("searches: spec %d has no included types", s.ID))
		}
	}
	return errors.Join(errs...)
}

// Ratios returns the sub-circle ratios.
func (c *Config) Ratios() geo.Ratios {
	return geo.Ratios{SubRadius: c.Search.SubRadiusRatio, Offset: c.Search.OffsetRatio}
}

// Specs returns the effective search table with overrides applied.
func (c *Config) Specs() []model.SearchSpec {
	specs := catalog.Default()
	if len(c.Searches) > 0 {
		specs = make([]model.SearchSpec, len(c.Searches))
		for i, s := range c.Searches {
			specs[i] = s.Clone()
		}
	}
	return catalog.ApplyOverrides(specs, c.TypeOverrides)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
