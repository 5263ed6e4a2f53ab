package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Usage   UsageConfig   `mapstructure:"usage_tracking"`
	Query   QueryConfig   `mapstructure:"query"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"`
	APIPort      int    `mapstructure:"api_port"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	APIKey       string `mapstructure:"api_key"` // Shared secret; empty disables authentication
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// UsageConfig defines session recording settings
type UsageConfig struct {
	UTCOffsetHours      int    `mapstructure:"utc_offset_hours"`
	RecentEventCapacity int    `mapstructure:"recent_event_capacity"`
	WriteRetries        int    `mapstructure:"write_retries"`
	RetentionDays       int    `mapstructure:"retention_days"` // 0 keeps counters forever
	CleanupTime         string `mapstructure:"cleanup_time"`   // Local HH:MM of the daily retention sweep
}

// QueryConfig defines query engine settings
type QueryConfig struct {
	CacheSize        int    `mapstructure:"cache_size"`
	CacheTTL         string `mapstructure:"cache_ttl"`
	FleetConcurrency int    `mapstructure:"fleet_concurrency"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SCREENTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration made only of defaults.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "screentime")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Usage tracking defaults
	v.SetDefault("usage_tracking.utc_offset_hours", 0)
	v.SetDefault("usage_tracking.recent_event_capacity", 100)
	v.SetDefault("usage_tracking.write_retries", 3)
	v.SetDefault("usage_tracking.retention_days", 400)
	v.SetDefault("usage_tracking.cleanup_time", "03:00")

	// Query defaults
	v.SetDefault("query.cache_size", 4096)
	v.SetDefault("query.cache_ttl", "10m")
	v.SetDefault("query.fleet_concurrency", 8)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "redis"
	}
	if cfg.Storage.Type != "redis" {
		return fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", cfg.Storage.Type)
	}
	if cfg.Storage.Redis.Host == "" {
		return fmt.Errorf("storage.redis.host is required")
	}

	// Timezone offset is fleet-wide and static
	if cfg.Usage.UTCOffsetHours < -12 || cfg.Usage.UTCOffsetHours > 14 {
		return fmt.Errorf("usage_tracking.utc_offset_hours must be within [-12, 14], got %d", cfg.Usage.UTCOffsetHours)
	}
	if cfg.Usage.RecentEventCapacity <= 0 {
		return fmt.Errorf("usage_tracking.recent_event_capacity must be positive, got %d", cfg.Usage.RecentEventCapacity)
	}
	if cfg.Usage.WriteRetries < 0 {
		return fmt.Errorf("usage_tracking.write_retries must not be negative, got %d", cfg.Usage.WriteRetries)
	}
	if cfg.Usage.RetentionDays < 0 {
		return fmt.Errorf("usage_tracking.retention_days must not be negative, got %d", cfg.Usage.RetentionDays)
	}
	if _, err := time.Parse("15:04", cfg.Usage.CleanupTime); err != nil {
		return fmt.Errorf("usage_tracking.cleanup_time must be HH:MM: %w", err)
	}

	if cfg.Query.CacheSize < 0 {
		return fmt.Errorf("query.cache_size must not be negative, got %d", cfg.Query.CacheSize)
	}
	if _, err := time.ParseDuration(cfg.Query.CacheTTL); err != nil {
		return fmt.Errorf("query.cache_ttl: %w", err)
	}
	if cfg.Query.FleetConcurrency <= 0 {
		cfg.Query.FleetConcurrency = 1
	}

	return nil
}
