package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 25000.0, cfg.Search.MaxRadius)
	assert.Equal(t, 0.70, cfg.Search.SubRadiusRatio)
	assert.Equal(t, 0.50, cfg.Search.OffsetRatio)
	assert.Equal(t, 41.9028, cfg.Map.DefaultCenter.Lat)
	assert.Equal(t, 13, cfg.Map.DefaultZoom)
	assert.Equal(t, ":3000", cfg.Relay.ListenAddr)
	assert.Len(t, cfg.Specs(), 9)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CIRCLETAP_MAX_RADIUS", "10000")
	t.Setenv("CIRCLETAP_SUB_RADIUS_RATIO", "0.6")
	t.Setenv("GOOGLE_MAPS_API_KEY", "test-key")
	t.Setenv("PORT", "8081")
	t.Setenv("OTEL_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10000.0, cfg.Search.MaxRadius)
	assert.Equal(t, 0.6, cfg.Ratios().SubRadius)
	assert.Equal(t, "test-key", cfg.Relay.APIKey)
	assert.Equal(t, ":8081", cfg.Relay.ListenAddr)
	assert.True(t, cfg.OTEL.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "circletap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
search:
  max_radius: 5000
  offset_ratio: 0.4
  timeout: 3s
  fallback_identity: true
redis:
  addr: localhost:6379
  ttl: 1m
type_overrides:
  5:
    included_types: [bakery]
  1:
    included_types: [bar]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5000.0, cfg.Search.MaxRadius)
	assert.Equal(t, 0.4, cfg.Search.OffsetRatio)
	assert.Equal(t, 0.70, cfg.Search.SubRadiusRatio, "unset keys keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Search.Timeout)
	assert.True(t, cfg.Search.FallbackIdentity)
	assert.Equal(t, time.Minute, cfg.Redis.TTL)

	specs := cfg.Specs()
	assert.Equal(t, []string{"bakery"}, specs[4].IncludedTypes)
	assert.Equal(t, []string{"restaurant", "food_court"}, specs[0].IncludedTypes)
}

func TestLoad_CustomSearches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "circletap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
searches:
  - id: 1
    label: Food
    included_types: [restaurant]
    color: "#ff0000"
  - id: 5
    label: Coffee
    included_types: [cafe]
    radius: 800
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	specs := cfg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "Coffee", specs[1].Label)
	assert.Equal(t, 800.0, specs[1].Radius)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max radius", func(c *Config) { c.Search.MaxRadius = 0 }},
		{"sub ratio above one", func(c *Config) { c.Search.SubRadiusRatio = 1.5 }},
		{"negative offset", func(c *Config) { c.Search.OffsetRatio = -0.1 }},
		{"result count", func(c *Config) { c.Relay.MaxResultCount = 50 }},
		{"negative concurrency", func(c *Config) { c.Search.Concurrency = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search: [unclosed"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
