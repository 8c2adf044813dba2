// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron"
	"github.com/spf13/viper"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Auth      AuthConfig                `mapstructure:"auth"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	DB        DBConfig                  `mapstructure:"db"`
	Cache     CacheConfig               `mapstructure:"cache"`
	History   HistoryConfig             `mapstructure:"history"`
	Throttle  ThrottleConfig            `mapstructure:"throttle"`
	Versions  VersionsConfig            `mapstructure:"versions"`
	Storage   StorageConfig             `mapstructure:"storage"`
	PubSub    PubSubConfig              `mapstructure:"pubsub"`
	Workers   WorkersConfig             `mapstructure:"workers"`
	Tracing   TracingConfig             `mapstructure:"tracing"`
	Schedules map[string]ScheduleConfig `mapstructure:"schedules"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                     int `mapstructure:"port"`
	ReadHeaderTimeoutSeconds int `mapstructure:"read_header_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Driver              string `mapstructure:"driver"`
	DSN                 string `mapstructure:"dsn"`
	MaxConns            int32  `mapstructure:"max_conns"`
	MinConns            int32  `mapstructure:"min_conns"`
	ConnLifetimeMinutes int    `mapstructure:"conn_lifetime_minutes"`
	ConnectionsTable    string `mapstructure:"connections_table"`
	ThrottlesTable      string `mapstructure:"throttles_table"`
	HistoryTable        string `mapstructure:"history_table"`
	JobsTable           string `mapstructure:"jobs_table"`
}

// CacheConfig selects the connection cache driver.
type CacheConfig struct {
	Driver     string `mapstructure:"driver"`
	RedisAddr  string `mapstructure:"redis_addr"`
	RedisDB    int    `mapstructure:"redis_db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	MaxItems   int64  `mapstructure:"max_items"`
}

// HistoryConfig controls activity history recording and retention.
type HistoryConfig struct {
	StoreHistory bool `mapstructure:"store_history"`
	// RetentionDays of zero keeps history forever.
	RetentionDays   int    `mapstructure:"retention_days"`
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
}

// ThrottleConfig is the fallback rate for bins no throttle spec matches.
type ThrottleConfig struct {
	DefaultRPM float64 `mapstructure:"default_rpm"`
	Burst      int     `mapstructure:"burst"`
}

// VersionsConfig selects where indexed versions live.
type VersionsConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
}

// StorageConfig selects the document content store.
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// WorkersConfig governs dispatcher and job runner behavior.
type WorkersConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	QueueDepth         int `mapstructure:"queue_depth"`
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds"`
	BatchParallelism   int `mapstructure:"batch_parallelism"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// Exporter is "none" or "stdout".
	Exporter string `mapstructure:"exporter"`
}

// ScheduleConfig describes a recurring crawl.
type ScheduleConfig struct {
	Connection string               `mapstructure:"connection"`
	Cron       string               `mapstructure:"cron"`
	Spec       crawler.DocumentSpec `mapstructure:"spec"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONNECTORS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("db.connections_table", "repoconnections")
	v.SetDefault("db.throttles_table", "throttlespec")
	v.SetDefault("db.history_table", "repohistory")
	v.SetDefault("db.jobs_table", "jobs")
	v.SetDefault("cache.driver", "ristretto")
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("cache.max_items", 1000)
	v.SetDefault("history.store_history", true)
	v.SetDefault("history.retention_days", 0)
	v.SetDefault("history.cleanup_schedule", "@daily")
	v.SetDefault("throttle.default_rpm", 0)
	v.SetDefault("throttle.burst", 1)
	v.SetDefault("versions.driver", "memory")
	v.SetDefault("versions.dir", "data/versions")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.base_dir", "data/content")
	v.SetDefault("storage.prefix", "documents")
	v.SetDefault("workers.concurrency", 4)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("workers.call_timeout_seconds", 60)
	v.SetDefault("workers.batch_parallelism", 1)
	v.SetDefault("tracing.service_name", "lcf-connectors")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.exporter", "none")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.driver is postgres")
		}
	default:
		return fmt.Errorf("db.driver must be postgres or memory")
	}
	switch c.Cache.Driver {
	case "none", "ristretto":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr must be set when cache.driver is redis")
		}
	default:
		return fmt.Errorf("cache.driver must be ristretto, redis or none")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must be >= 0")
	}
	if c.History.RetentionDays > 0 {
		if _, err := cron.Parse(c.History.CleanupSchedule); err != nil {
			return fmt.Errorf("history.cleanup_schedule must be a cron descriptor: %w", err)
		}
	}
	if c.Throttle.DefaultRPM < 0 {
		return fmt.Errorf("throttle.default_rpm must be >= 0")
	}
	switch c.Versions.Driver {
	case "memory":
	case "badger":
		if c.Versions.Dir == "" {
			return fmt.Errorf("versions.dir must be set when versions.driver is badger")
		}
	default:
		return fmt.Errorf("versions.driver must be badger or memory")
	}
	switch c.Storage.Driver {
	case "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.driver is gcs")
		}
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set when storage.driver is local")
		}
	default:
		return fmt.Errorf("storage.driver must be gcs, local or memory")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("workers.concurrency must be > 0")
	}
	if c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queue_depth must be > 0")
	}
	if c.Workers.BatchParallelism <= 0 {
		return fmt.Errorf("workers.batch_parallelism must be > 0")
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1) {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be none or stdout, got %q", c.Tracing.Exporter)
	}
	for name, s := range c.Schedules {
		if s.Connection == "" {
			return fmt.Errorf("schedules.%s.connection must be set", name)
		}
		if _, err := cron.Parse(s.Cron); err != nil {
			return fmt.Errorf("schedules.%s.cron must be a cron descriptor: %w", name, err)
		}
	}
	return nil
}

// CallTimeout is the per-call budget handed to connectors.
func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.Workers.CallTimeoutSeconds) * time.Second
}

// CacheTTL converts cache.ttl_seconds.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Retention returns how long history rows are kept; zero keeps them forever.
func (c Config) Retention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
