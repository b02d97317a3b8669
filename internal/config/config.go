// Package config loads application configuration from file and environment
// and owns the global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/villedata/communes-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	CSV       CSVConfig       `yaml:"csv" mapstructure:"csv"`
	Geocoding GeocodingConfig `yaml:"geocoding" mapstructure:"geocoding"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Seed      SeedConfig      `yaml:"seed" mapstructure:"seed"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// CSVConfig configures the commune source file reader.
type CSVConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`
	Delimiter  string `yaml:"delimiter" mapstructure:"delimiter"`
	Encoding   string `yaml:"encoding" mapstructure:"encoding"`
	LazyQuotes bool   `yaml:"lazy_quotes" mapstructure:"lazy_quotes"`
}

// GeocodingConfig selects and configures the coordinate provider.
type GeocodingConfig struct {
	Enabled   bool            `yaml:"enabled" mapstructure:"enabled"`
	Provider  string          `yaml:"provider" mapstructure:"provider"`
	Nominatim NominatimConfig `yaml:"nominatim" mapstructure:"nominatim"`
	GeoAPI    GeoAPIConfig    `yaml:"geo_api" mapstructure:"geo_api"`
}

// NominatimConfig holds the OpenStreetMap Nominatim settings.
type NominatimConfig struct {
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	MinIntervalMS  int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	CacheFile      string `yaml:"cache_file" mapstructure:"cache_file"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelaySecs int    `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
}

// GeoAPIConfig holds the geo.api.gouv.fr gazetteer settings.
type GeoAPIConfig struct {
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	CacheFile      string `yaml:"cache_file" mapstructure:"cache_file"`
	ForceRefresh   bool   `yaml:"force_refresh" mapstructure:"force_refresh"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelaySecs int    `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
}

// PipelineConfig configures loading behavior.
type PipelineConfig struct {
	DuplicateHandling string `yaml:"duplicate_handling" mapstructure:"duplicate_handling"`
	Lenient           bool   `yaml:"lenient" mapstructure:"lenient"`
}

// SeedConfig points at the regions/departments reference dataset.
type SeedConfig struct {
	DatasetPath string `yaml:"dataset_path" mapstructure:"dataset_path"`
}

// ServerConfig configures the CRUD API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COMMUNES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("csv.delimiter", ",")
	v.SetDefault("csv.encoding", "utf-8")
	v.SetDefault("geocoding.enabled", true)
	v.SetDefault("geocoding.provider", "geo_api")
	v.SetDefault("geocoding.nominatim.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoding.nominatim.user_agent", "communes-cli/1.0")
	v.SetDefault("geocoding.nominatim.min_interval_ms", 1000)
	v.SetDefault("geocoding.nominatim.cache_file", "geocode_cache.json")
	v.SetDefault("geocoding.nominatim.max_retries", 3)
	v.SetDefault("geocoding.nominatim.retry_delay_secs", 1)
	v.SetDefault("geocoding.geo_api.base_url", "https://geo.api.gouv.fr/communes")
	v.SetDefault("geocoding.geo_api.cache_file", "geo_api_cache.json")
	v.SetDefault("geocoding.geo_api.force_refresh", false)
	v.SetDefault("geocoding.geo_api.max_retries", 3)
	v.SetDefault("geocoding.geo_api.retry_delay_secs", 1)
	v.SetDefault("pipeline.duplicate_handling", "skip")
	v.SetDefault("pipeline.lenient", false)
	v.SetDefault("seed.dataset_path", "data/regions_departements.json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
