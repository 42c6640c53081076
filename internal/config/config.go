// Package config loads the bus's layered configuration (defaults +
// YAML file + environment overrides) via viper, mirroring §6's
// Configuration surface table.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for a Conduit bus instance.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Log          LogConfig          `mapstructure:"log"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Transport    TransportConfig    `mapstructure:"transport"`
	Discovery    DiscoveryConfig    `mapstructure:"discovery"`
	HealthMonitor HealthMonitorConfig `mapstructure:"health_monitor"`
	DLQ          DLQConfig          `mapstructure:"dlq"`
	FlowControl  FlowControllerConfig `mapstructure:"flow_control"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// AppConfig holds process-wide identification and runtime settings.
type AppConfig struct {
	Name                    string        `mapstructure:"name"`
	Version                 string        `mapstructure:"version"`
	Environment             string        `mapstructure:"environment"`
	Debug                   bool          `mapstructure:"debug"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// LogConfig mirrors pkg/logger.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// PipelineConfig mirrors the §4.2.1 behavior pipeline knobs
// (dispatcher.PipelineConfig's on-disk shape).
type PipelineConfig struct {
	IsEnabled            bool          `mapstructure:"is_enabled"`
	AsyncExecution       bool          `mapstructure:"async_execution"`
	MaxConcurrency       int           `mapstructure:"max_concurrency"`
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	PreserveOrder        bool          `mapstructure:"preserve_order"`
	FailFast             bool          `mapstructure:"fail_fast"`
	CacheEnabled         bool          `mapstructure:"cache_enabled"`
	ErrorStrategy        string        `mapstructure:"error_strategy"` // fail_fast | continue | dead_letter
	DefaultTimeout       time.Duration `mapstructure:"default_timeout"`
	DefaultCacheDuration time.Duration `mapstructure:"default_cache_duration"`
	MetricsEnabled       bool          `mapstructure:"metrics_enabled"`
	TracingEnabled       bool          `mapstructure:"tracing_enabled"`
	MaxCacheSize         int           `mapstructure:"max_cache_size"`
	ValidationEnabled    bool          `mapstructure:"validation_enabled"`
	DeadLetterEnabled    bool          `mapstructure:"dead_letter_enabled"`
}

// TransportConfig selects and configures the wire transport.
type TransportConfig struct {
	Kind  string              `mapstructure:"kind"` // memory | redis | websocket
	Redis RedisTransportConfig `mapstructure:"redis"`
	WS    WSTransportConfig   `mapstructure:"websocket"`
}

// RedisTransportConfig configures internal/transport/redistransport.
type RedisTransportConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WSTransportConfig configures internal/transport/wstransport.
type WSTransportConfig struct {
	URL string `mapstructure:"url"`
}

// DiscoveryConfig configures internal/lifecycle/discovery.
type DiscoveryConfig struct {
	Directory       string        `mapstructure:"directory"`
	WatchEnabled    bool          `mapstructure:"watch_enabled"`
	WatchDebounce   time.Duration `mapstructure:"watch_debounce"`
}

// HealthMonitorConfig configures internal/resilience.HealthMonitor's
// thresholds.
type HealthMonitorConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	DegradedBelow  float64       `mapstructure:"degraded_below"`
	UnhealthyBelow float64       `mapstructure:"unhealthy_below"`
	CriticalBelow  float64       `mapstructure:"critical_below"`
}

// DLQConfig configures internal/dlq.DLQ.
type DLQConfig struct {
	MaxCapacity     int           `mapstructure:"max_capacity"`
	RetentionPeriod time.Duration `mapstructure:"retention_period"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

// FlowControllerConfig configures internal/flowcontrol.FlowController.
type FlowControllerConfig struct {
	MaxConcurrentMessages int     `mapstructure:"max_concurrent_messages"`
	RateLimitPerSecond    float64 `mapstructure:"rate_limit_per_second"`
	MaxQueueSize          int     `mapstructure:"max_queue_size"`
}

// MetricsConfig configures pkg/busmetrics exposure.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// LoadConfig loads configuration from configPath (if non-empty) layered
// under defaults and environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from defaults and environment
// variables only, skipping any on-disk file.
func LoadConfigFromEnv() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "conduit")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.graceful_shutdown_timeout", "30s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("pipeline.is_enabled", true)
	viper.SetDefault("pipeline.async_execution", false)
	viper.SetDefault("pipeline.max_concurrency", 16)
	viper.SetDefault("pipeline.timeout", "30s")
	viper.SetDefault("pipeline.max_retries", 3)
	viper.SetDefault("pipeline.retry_delay", "100ms")
	viper.SetDefault("pipeline.preserve_order", false)
	viper.SetDefault("pipeline.fail_fast", false)
	viper.SetDefault("pipeline.cache_enabled", false)
	viper.SetDefault("pipeline.error_strategy", "continue")
	viper.SetDefault("pipeline.default_timeout", "30s")
	viper.SetDefault("pipeline.default_cache_duration", "1m")
	viper.SetDefault("pipeline.metrics_enabled", true)
	viper.SetDefault("pipeline.tracing_enabled", true)
	viper.SetDefault("pipeline.max_cache_size", 1000)
	viper.SetDefault("pipeline.validation_enabled", true)
	viper.SetDefault("pipeline.dead_letter_enabled", true)

	viper.SetDefault("transport.kind", "memory")
	viper.SetDefault("transport.redis.addr", "localhost:6379")
	viper.SetDefault("transport.redis.password", "")
	viper.SetDefault("transport.redis.db", 0)
	viper.SetDefault("transport.websocket.url", "")

	viper.SetDefault("discovery.directory", "./components")
	viper.SetDefault("discovery.watch_enabled", false)
	viper.SetDefault("discovery.watch_debounce", "250ms")

	viper.SetDefault("health_monitor.interval", "10s")
	viper.SetDefault("health_monitor.degraded_below", 0.8)
	viper.SetDefault("health_monitor.unhealthy_below", 0.5)
	viper.SetDefault("health_monitor.critical_below", 0.2)

	viper.SetDefault("dlq.max_capacity", 1000)
	viper.SetDefault("dlq.retention_period", "168h")
	viper.SetDefault("dlq.sweep_interval", "1m")

	viper.SetDefault("flow_control.max_concurrent_messages", 64)
	viper.SetDefault("flow_control.rate_limit_per_second", 1000.0)
	viper.SetDefault("flow_control.max_queue_size", 10000)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)
}

// Validate rejects a configuration with contradictory or out-of-range
// values before it reaches any subsystem constructor.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "memory", "redis", "websocket":
	default:
		return fmt.Errorf("transport.kind must be one of memory, redis, websocket, got %q", c.Transport.Kind)
	}
	if c.Transport.Kind == "redis" && c.Transport.Redis.Addr == "" {
		return fmt.Errorf("transport.redis.addr is required when transport.kind is redis")
	}
	if c.Transport.Kind == "websocket" && c.Transport.WS.URL == "" {
		return fmt.Errorf("transport.websocket.url is required when transport.kind is websocket")
	}

	switch c.Pipeline.ErrorStrategy {
	case "fail_fast", "continue", "dead_letter":
	default:
		return fmt.Errorf("pipeline.error_strategy must be one of fail_fast, continue, dead_letter, got %q", c.Pipeline.ErrorStrategy)
	}

	if c.HealthMonitor.CriticalBelow >= c.HealthMonitor.UnhealthyBelow ||
		c.HealthMonitor.UnhealthyBelow >= c.HealthMonitor.DegradedBelow {
		return fmt.Errorf("health_monitor thresholds must satisfy critical_below < unhealthy_below < degraded_below")
	}

	if c.FlowControl.MaxConcurrentMessages <= 0 {
		return fmt.Errorf("flow_control.max_concurrent_messages must be positive")
	}
	if c.DLQ.MaxCapacity <= 0 {
		return fmt.Errorf("dlq.max_capacity must be positive")
	}
	return nil
}

// IsDevelopment reports whether the app is configured for a
// development environment.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.App.Environment, "development")
}

// IsProduction reports whether the app is configured for a production
// environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}
