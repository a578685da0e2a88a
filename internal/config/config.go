// Package config loads the service configuration from file, environment
// and defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full service configuration.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Sync        SyncConfig       `mapstructure:"sync"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Monitor     MonitorConfig    `mapstructure:"monitor"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Alerting    AlertingConfig   `mapstructure:"alerting"`
	Monitoring  MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig represents the HTTP and gRPC server settings.
type ServerConfig struct {
	HTTPPort     int `mapstructure:"http_port"`
	GRPCPort     int `mapstructure:"grpc_port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	IdleTimeout  int `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents the sync-log database settings. An empty URL
// disables persistence and the database health probe.
type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	MigrationsPath  string `mapstructure:"migrations_path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// SyncConfig represents the engine's batching and retry settings.
type SyncConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	MaxRetries      int           `mapstructure:"max_retries"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	ResultCacheTTL  time.Duration `mapstructure:"result_cache_ttl"`
	DefaultStrategy string        `mapstructure:"default_strategy"`
	MaxHistory      int           `mapstructure:"max_history"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"` // memory or redis
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MonitorConfig represents the monitor's loop intervals and retention.
type MonitorConfig struct {
	EvaluationInterval     time.Duration `mapstructure:"evaluation_interval"`
	CleanupInterval        time.Duration `mapstructure:"cleanup_interval"`
	HistoryRetention       time.Duration `mapstructure:"history_retention"`
	ResolvedAlertRetention time.Duration `mapstructure:"resolved_alert_retention"`
	MaxHistoryEntries      int           `mapstructure:"max_history_entries"`
}

// KafkaConfig represents the optional event publisher settings. No brokers
// disables publishing.
type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	SyncTopic  string   `mapstructure:"sync_topic"`
	AlertTopic string   `mapstructure:"alert_topic"`
}

// AlertingConfig represents alert delivery settings.
type AlertingConfig struct {
	WebhookURL     string   `mapstructure:"webhook_url"`
	WebhookTimeout int      `mapstructure:"webhook_timeout"`
	EmailFrom      string   `mapstructure:"email_from"`
	EmailTo        []string `mapstructure:"email_to"`
	SMTPAddr       string   `mapstructure:"smtp_addr"`
}

// MonitoringConfig represents operational observability settings.
type MonitoringConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	LogLevel       string `mapstructure:"log_level"`
}

// Load loads configuration from defaults, a config file and environment
// variables (prefix SYNC_ENGINE).
func Load() (Config, error) {
	var config Config

	viper.SetDefault("environment", "development")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.grpc_port", 9090)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 60)

	viper.SetDefault("database.migrations_path", "migrations")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("sync.batch_size", 100)
	viper.SetDefault("sync.max_retries", 3)
	viper.SetDefault("sync.call_timeout", "30s")
	viper.SetDefault("sync.result_cache_ttl", "1h")
	viper.SetDefault("sync.default_strategy", "source_wins")
	viper.SetDefault("sync.max_history", 1000)

	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.key_prefix", "sync-engine:")

	viper.SetDefault("monitor.evaluation_interval", "60s")
	viper.SetDefault("monitor.cleanup_interval", "1h")
	viper.SetDefault("monitor.history_retention", "24h")
	viper.SetDefault("monitor.resolved_alert_retention", "168h")
	viper.SetDefault("monitor.max_history_entries", 1000)

	viper.SetDefault("kafka.sync_topic", "sync-events")
	viper.SetDefault("kafka.alert_topic", "sync-alerts")

	viper.SetDefault("alerting.webhook_timeout", 10)

	viper.SetDefault("monitoring.metrics_enabled", true)
	viper.SetDefault("monitoring.log_level", "info")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/sync-engine")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SYNC_ENGINE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return config, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func validateConfig(config Config) error {
	if config.Server.HTTPPort <= 0 || config.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", config.Server.HTTPPort)
	}
	if config.Server.GRPCPort <= 0 || config.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", config.Server.GRPCPort)
	}

	if config.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync batch size must be positive")
	}
	if config.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync max retries must not be negative")
	}

	switch config.Cache.Backend {
	case "memory":
	case "redis":
		if config.Cache.RedisAddr == "" {
			return fmt.Errorf("redis cache backend requires redis_addr")
		}
	default:
		return fmt.Errorf("unsupported cache backend: %s", config.Cache.Backend)
	}

	if config.Monitor.EvaluationInterval <= 0 {
		return fmt.Errorf("monitor evaluation interval must be positive")
	}

	return nil
}

// GetDatabaseURL returns the database URL with environment variable
// substitution applied.
func (c *Config) GetDatabaseURL() string {
	return os.ExpandEnv(c.Database.URL)
}
