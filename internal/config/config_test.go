package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ",", cfg.CSV.Delimiter)
	assert.Equal(t, "utf-8", cfg.CSV.Encoding)
	assert.True(t, cfg.Geocoding.Enabled)
	assert.Equal(t, "geo_api", cfg.Geocoding.Provider)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Geocoding.Nominatim.BaseURL)
	assert.Equal(t, 1000, cfg.Geocoding.Nominatim.MinIntervalMS)
	assert.Equal(t, 3, cfg.Geocoding.Nominatim.MaxRetries)
	assert.Equal(t, "https://geo.api.gouv.fr/communes", cfg.Geocoding.GeoAPI.BaseURL)
	assert.Equal(t, "skip", cfg.Pipeline.DuplicateHandling)
	assert.False(t, cfg.Pipeline.Lenient)
	assert.Equal(t, "data/regions_departements.json", cfg.Seed.DatasetPath)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
store:
  driver: sqlite
  database_url: communes.db
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  duplicate_handling: replace
  lenient: true
geocoding:
  provider: nominatim
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "communes.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "replace", cfg.Pipeline.DuplicateHandling)
	assert.True(t, cfg.Pipeline.Lenient)
	assert.Equal(t, "nominatim", cfg.Geocoding.Provider)
	// Defaults still apply for unset values
	assert.Equal(t, ",", cfg.CSV.Delimiter)
	assert.Equal(t, "geocode_cache.json", cfg.Geocoding.Nominatim.CacheFile)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
store:
  driver: postgres
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("COMMUNES_STORE_DRIVER", "sqlite")
	t.Setenv("COMMUNES_PIPELINE_DUPLICATE_HANDLING", "replace")
	t.Setenv("COMMUNES_GEOCODING_GEO_API_FORCE_REFRESH", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "replace", cfg.Pipeline.DuplicateHandling)
	assert.True(t, cfg.Geocoding.GeoAPI.ForceRefresh)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "json"}))
	assert.NotNil(t, zap.L())

	require.Error(t, InitLogger(LogConfig{Level: "verbose", Format: "json"}))
}
