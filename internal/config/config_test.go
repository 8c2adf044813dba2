package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
db:
  driver: postgres
  dsn: postgres://lcf@localhost/lcf
  history_table: activity_history
cache:
  driver: redis
  redis_addr: localhost:6379
  ttl_seconds: 30
history:
  retention_days: 14
  cleanup_schedule: "0 30 2 * * *"
versions:
  driver: badger
  dir: /var/lib/lcf/versions
storage:
  driver: local
  base_dir: /var/lib/lcf/content
workers:
  concurrency: 6
  call_timeout_seconds: 45
  batch_parallelism: 2
schedules:
  nightly-docs:
    connection: livelink
    cron: "@daily"
    spec:
      nodes:
        - type: startpoint
          attrs:
            path: Projects/Docs
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.HistoryTable != "activity_history" || cfg.DB.JobsTable != "jobs" {
		t.Fatalf("expected db overrides with defaults kept: %+v", cfg.DB)
	}
	if cfg.Workers.Concurrency != 6 || cfg.Workers.QueueDepth != 64 {
		t.Fatalf("expected worker overrides to apply: %+v", cfg.Workers)
	}
	job, ok := cfg.Schedules["nightly-docs"]
	if !ok || job.Connection != "livelink" || job.Cron != "@daily" {
		t.Fatalf("expected schedule to be loaded: %+v", cfg.Schedules)
	}
	if len(job.Spec.Nodes) != 1 || job.Spec.Nodes[0].Attr("path") != "Projects/Docs" {
		t.Fatalf("expected schedule spec to be decoded: %+v", job.Spec)
	}
	if got := cfg.CallTimeout(); got != 45*time.Second {
		t.Fatalf("expected call timeout 45s, got %v", got)
	}
	if got := cfg.Retention(); got != 14*24*time.Hour {
		t.Fatalf("expected 14 day retention, got %v", got)
	}
	if got := cfg.CacheTTL(); got != 30*time.Second {
		t.Fatalf("expected cache ttl 30s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DB.Driver != "memory" || cfg.Storage.Driver != "memory" || cfg.Versions.Driver != "memory" {
		t.Fatalf("expected in-memory defaults, got %+v", cfg)
	}
	if !cfg.History.StoreHistory || cfg.Cache.Driver != "ristretto" {
		t.Fatalf("expected history and ristretto defaults, got %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		DB:       DBConfig{Driver: "memory"},
		Cache:    CacheConfig{Driver: "none"},
		Versions: VersionsConfig{Driver: "memory"},
		Storage:  StorageConfig{Driver: "memory"},
		Workers:  WorkersConfig{Concurrency: 1, QueueDepth: 1, BatchParallelism: 1},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "unknown db driver", mutate: func(c *Config) { c.DB.Driver = "mysql" }, want: "db.driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.DB.Driver = "postgres" }, want: "db.dsn"},
		{name: "redis without addr", mutate: func(c *Config) { c.Cache.Driver = "redis" }, want: "cache.redis_addr"},
		{name: "negative retention", mutate: func(c *Config) { c.History.RetentionDays = -1 }, want: "history.retention_days"},
		{
			name: "bad cleanup schedule",
			mutate: func(c *Config) {
				c.History.RetentionDays = 7
				c.History.CleanupSchedule = "whenever"
			},
			want: "history.cleanup_schedule",
		},
		{name: "badger without dir", mutate: func(c *Config) { c.Versions.Driver = "badger" }, want: "versions.dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Driver = "gcs" }, want: "storage.gcs_bucket"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Driver = "local" }, want: "storage.base_dir"},
		{name: "pubsub without topic", mutate: func(c *Config) { c.PubSub.Enabled = true }, want: "pubsub.project_id"},
		{name: "no workers", mutate: func(c *Config) { c.Workers.Concurrency = 0 }, want: "workers.concurrency"},
		{name: "no batch parallelism", mutate: func(c *Config) { c.Workers.BatchParallelism = 0 }, want: "workers.batch_parallelism"},
		{
			name: "bad sample ratio",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRatio = 2
			},
			want: "tracing.sample_ratio",
		},
		{name: "unknown trace exporter", mutate: func(c *Config) { c.Tracing.Exporter = "zipkin" }, want: "tracing.exporter"},
		{
			name: "schedule without connection",
			mutate: func(c *Config) {
				c.Schedules = map[string]ScheduleConfig{"nightly": {Cron: "@daily"}}
			},
			want: "schedules.nightly.connection",
		},
		{
			name: "schedule with bad cron",
			mutate: func(c *Config) {
				c.Schedules = map[string]ScheduleConfig{"nightly": {Connection: "docs", Cron: "sometimes"}}
			},
			want: "schedules.nightly.cron",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
