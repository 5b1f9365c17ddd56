package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/terrawatch/eo-analyzer/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	News      NewsConfig      `yaml:"news" mapstructure:"news"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Imagery   ImageryConfig   `yaml:"imagery" mapstructure:"imagery"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run-history database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// NewsConfig holds news provider settings.
type NewsConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Language   string `yaml:"language" mapstructure:"language"`
	MaxResults int    `yaml:"max_results" mapstructure:"max_results"`
}

// AnthropicConfig holds Anthropic API settings. The filter stage uses
// the cheap model; extraction and the report narrative use the strong one.
type AnthropicConfig struct {
	Key                 string `yaml:"key" mapstructure:"key"`
	FilterModel         string `yaml:"filter_model" mapstructure:"filter_model"`
	ExtractModel        string `yaml:"extract_model" mapstructure:"extract_model"`
	MaxBatchSize        int    `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	NoBatch             bool   `yaml:"no_batch" mapstructure:"no_batch"`
	SmallBatchThreshold int    `yaml:"small_batch_threshold" mapstructure:"small_batch_threshold"`
}

// ImageryConfig holds satellite imagery provider settings.
type ImageryConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	TokenURL     string  `yaml:"token_url" mapstructure:"token_url"`
	AOIBufferDeg float64 `yaml:"aoi_buffer_deg" mapstructure:"aoi_buffer_deg"`
	MaxTiles     int     `yaml:"max_tiles" mapstructure:"max_tiles"`
	MaxCloud     float64 `yaml:"max_cloud" mapstructure:"max_cloud"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	LookbackDays int     `yaml:"lookback_days" mapstructure:"lookback_days"`
}

// GeocodeConfig configures place-name resolution.
type GeocodeConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent     string `yaml:"user_agent" mapstructure:"user_agent"`
	CacheTTLHours int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// PipelineConfig configures orchestration behavior.
type PipelineConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	FilterConcurrency   int     `yaml:"filter_concurrency" mapstructure:"filter_concurrency"`
	ExtractConcurrency  int     `yaml:"extract_concurrency" mapstructure:"extract_concurrency"`
	ImageryConcurrency  int     `yaml:"imagery_concurrency" mapstructure:"imagery_concurrency"`
	RetryAttempts       int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs      int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	Narrative           bool    `yaml:"narrative" mapstructure:"narrative"`
}

// ServerConfig configures the REST front end.
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

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EOAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "eo-analyzer.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("news.base_url", "https://news.google.com/rss")
	v.SetDefault("news.language", "en")
	v.SetDefault("news.max_results", 20)
	// Secrets default empty so env-only values survive Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("imagery.client_id", "")
	v.SetDefault("imagery.client_secret", "")
	v.SetDefault("anthropic.filter_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.extract_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_batch_size", 100)
	v.SetDefault("anthropic.small_batch_threshold", 8)
	v.SetDefault("imagery.base_url", "https://services.sentinel-hub.com")
	v.SetDefault("imagery.token_url", "https://services.sentinel-hub.com/oauth/token")
	v.SetDefault("imagery.aoi_buffer_deg", 0.25)
	v.SetDefault("imagery.max_tiles", 4)
	v.SetDefault("imagery.max_cloud", 60.0)
	v.SetDefault("imagery.rate_per_sec", 5.0)
	v.SetDefault("imagery.lookback_days", 10)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "eo-analyzer/1.0")
	v.SetDefault("geocode.cache_ttl_hours", 24)
	v.SetDefault("pipeline.confidence_threshold", 0.5)
	v.SetDefault("pipeline.filter_concurrency", 10)
	v.SetDefault("pipeline.extract_concurrency", 5)
	v.SetDefault("pipeline.imagery_concurrency", 4)
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("pipeline.retry_backoff_ms", 500)
	v.SetDefault("pipeline.narrative", true)

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

// Validate checks invariants that must hold before any stage executes.
// Violations fail the run with a ConfigError.
func (c *Config) Validate() error {
	if c.Anthropic.Key == "" {
		return &resilience.ConfigError{Key: "anthropic.key", Reason: "missing API key"}
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return &resilience.ConfigError{Key: "pipeline.confidence_threshold", Reason: "must be within [0,1]"}
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return &resilience.ConfigError{Key: "store.driver", Reason: "must be sqlite or postgres"}
	}
	return nil
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
