package app

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/config"
	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

func memoryConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 8080},
		DB:       config.DBConfig{Driver: "memory"},
		Cache:    config.CacheConfig{Driver: "ristretto", TTLSeconds: 60, MaxItems: 100},
		History:  config.HistoryConfig{StoreHistory: true, RetentionDays: 30, CleanupSchedule: "@daily"},
		Versions: config.VersionsConfig{Driver: "memory"},
		Storage:  config.StorageConfig{Driver: "memory", Prefix: "documents"},
		Workers: config.WorkersConfig{
			Concurrency:        2,
			QueueDepth:         8,
			CallTimeoutSeconds: 30,
			BatchParallelism:   1,
		},
		Schedules: map[string]config.ScheduleConfig{
			"nightly": {Connection: "docs", Cron: "0 0 2 * * *"},
		},
	}
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, Options{Logger: zap.NewNop(), Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestNewWithMemoryDrivers(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, memoryConfig())

	assert.Equal(t, []string{"csws", "meridio"}, a.Registry.Names())
	assert.Equal(t, []string{"crawl:nightly", "history-cleanup"}, a.Scheduler.Tasks())
	require.NoError(t, a.Install(context.Background()))
	require.NotNil(t, a.Server().Handler())
}

func TestSubmitReachesQueue(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, memoryConfig())
	ctx := context.Background()

	conn := crawler.NewConfigParams()
	conn.Set("serverName", "cs.example.com")
	require.NoError(t, a.Connections.Save(ctx, connectionFor("docs", conn)))

	job, err := a.Jobs.Submit(ctx, crawler.JobParameters{Connection: "docs"})
	require.NoError(t, err)
	item, err := a.Queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, item.JobID)
}

func TestNewRejectsUnknownDrivers(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{name: "db", mutate: func(c *config.Config) { c.DB.Driver = "oracle" }, want: "unknown db driver: oracle"},
		{name: "cache", mutate: func(c *config.Config) { c.Cache.Driver = "memcached" }, want: `unknown cache driver "memcached"`},
		{name: "versions", mutate: func(c *config.Config) { c.Versions.Driver = "bolt" }, want: "unknown versions driver: bolt"},
		{name: "storage", mutate: func(c *config.Config) { c.Storage.Driver = "s3" }, want: "unknown storage driver: s3"},
		{name: "badger dir", mutate: func(c *config.Config) {
			c.Versions.Driver = "badger"
			c.Versions.Dir = ""
		}, want: "versions.dir is required"},
		{name: "local dir", mutate: func(c *config.Config) {
			c.Storage.Driver = "local"
			c.Storage.BaseDir = ""
		}, want: "base directory is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := memoryConfig()
			tc.mutate(&cfg)
			_, err := New(context.Background(), cfg, Options{Registerer: prometheus.NewRegistry()})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestNewWithDiskDrivers(t *testing.T) {
	t.Parallel()
	cfg := memoryConfig()
	cfg.Versions = config.VersionsConfig{Driver: "badger", Dir: t.TempDir()}
	cfg.Storage = config.StorageConfig{Driver: "local", BaseDir: t.TempDir(), Prefix: "documents"}
	a := newTestApp(t, cfg)
	require.NotNil(t, a.Runner)
}

func TestCloseRunsInReverseAndJoinsErrors(t *testing.T) {
	t.Parallel()
	var order []string
	a := &App{Logger: zap.NewNop()}
	a.onClose("first", func(context.Context) error {
		order = append(order, "first")
		return errors.New("first failed")
	})
	a.onClose("second", func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	err := a.Close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close first: first failed")
	assert.Equal(t, []string{"second", "first"}, order)
	require.NoError(t, a.Close(context.Background()))
}

func connectionFor(name string, params crawler.ConfigParams) store.Connection {
	return store.Connection{Name: name, ClassName: "csws", Config: params}
}
