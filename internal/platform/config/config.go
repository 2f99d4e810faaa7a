package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/irisiflimsi/maptool/internal/wms"
)

// Config holds all configuration for the basemap render service
type Config struct {
	Sources       []SourceConfig      `mapstructure:"sources"`
	Render        RenderConfig        `mapstructure:"render"`
	Cache         CacheConfig         `mapstructure:"cache"`
	WMS           WMSConfig           `mapstructure:"wms"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// SourceConfig describes one configured remote map source
type SourceConfig struct {
	ID         string   `mapstructure:"id"`
	URL        string   `mapstructure:"url"`
	Layers     []string `mapstructure:"layers"`
	AnchorLat  float64  `mapstructure:"anchor_lat"`
	AnchorLon  float64  `mapstructure:"anchor_lon"`
	WorldScale float64  `mapstructure:"world_scale"`
}

// Source converts the entry into the transform-layer source descriptor
func (s SourceConfig) Source() wms.Source {
	return wms.Source{
		ID:         s.ID,
		URL:        s.URL,
		Layers:     s.Layers,
		AnchorLat:  s.AnchorLat,
		AnchorLon:  s.AnchorLon,
		WorldScale: s.WorldScale,
	}
}

// RenderConfig holds render pass scheduling settings
type RenderConfig struct {
	Workers            int           `mapstructure:"workers"`
	QueueSize          int           `mapstructure:"queue_size"`
	MaxInflightFetches int           `mapstructure:"max_inflight_fetches"`
	Deadline           time.Duration `mapstructure:"deadline"`
}

// CacheConfig holds tile cache settings
type CacheConfig struct {
	MaxItems        int `mapstructure:"max_items"`
	RecencyCapacity int `mapstructure:"recency_capacity"`
}

// WMSConfig holds remote fetch settings
type WMSConfig struct {
	Timeout        time.Duration        `mapstructure:"timeout"`
	Format         string               `mapstructure:"format"`
	UserAgent      string               `mapstructure:"user_agent"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CircuitBreakerConfig holds circuit breaker settings for the fetch path
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal; defaults and env vars apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Render defaults
	v.SetDefault("render.workers", 8)
	v.SetDefault("render.queue_size", 32)
	v.SetDefault("render.max_inflight_fetches", 8)
	v.SetDefault("render.deadline", "10s")

	// Cache defaults
	v.SetDefault("cache.max_items", 512)
	v.SetDefault("cache.recency_capacity", 200)

	// WMS defaults
	v.SetDefault("wms.timeout", "30s")
	v.SetDefault("wms.format", "image/png")
	v.SetDefault("wms.rate_limit.requests_per_second", 10)
	v.SetDefault("wms.rate_limit.burst", 20)
	v.SetDefault("wms.circuit_breaker.enabled", true)
	v.SetDefault("wms.circuit_breaker.failure_threshold", 5)
	v.SetDefault("wms.circuit_breaker.success_threshold", 2)
	v.SetDefault("wms.circuit_breaker.timeout", "30s")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9091)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one map source is required")
	}
	for i, s := range c.Sources {
		if err := s.Source().Validate(); err != nil {
			return fmt.Errorf("source %d (%s): %w", i, s.ID, err)
		}
	}

	if c.Render.Workers <= 0 {
		return fmt.Errorf("render workers must be > 0")
	}

	if c.Render.Deadline <= 0 {
		return fmt.Errorf("render deadline must be > 0")
	}

	if c.Cache.MaxItems <= 0 {
		return fmt.Errorf("cache max items must be > 0")
	}

	if c.WMS.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit must be > 0")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
