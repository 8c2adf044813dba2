// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/api"
	"github.com/JakeFAU/lcf-connectors/internal/cache"
	"github.com/JakeFAU/lcf-connectors/internal/clock/system"
	"github.com/JakeFAU/lcf-connectors/internal/config"
	"github.com/JakeFAU/lcf-connectors/internal/connectors/csws"
	"github.com/JakeFAU/lcf-connectors/internal/connectors/meridio"
	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/dispatcher"
	"github.com/JakeFAU/lcf-connectors/internal/hash/sha256"
	"github.com/JakeFAU/lcf-connectors/internal/id/uuid"
	"github.com/JakeFAU/lcf-connectors/internal/ingest"
	"github.com/JakeFAU/lcf-connectors/internal/jobs"
	"github.com/JakeFAU/lcf-connectors/internal/metrics"
	"github.com/JakeFAU/lcf-connectors/internal/progress"
	"github.com/JakeFAU/lcf-connectors/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/lcf-connectors/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/lcf-connectors/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/lcf-connectors/internal/queue/memory"
	"github.com/JakeFAU/lcf-connectors/internal/repository"
	"github.com/JakeFAU/lcf-connectors/internal/scheduler"
	badgerstore "github.com/JakeFAU/lcf-connectors/internal/storage/badger"
	gcsstore "github.com/JakeFAU/lcf-connectors/internal/storage/gcs"
	localstore "github.com/JakeFAU/lcf-connectors/internal/storage/local"
	memoryStorage "github.com/JakeFAU/lcf-connectors/internal/storage/memory"
	"github.com/JakeFAU/lcf-connectors/internal/storage/postgres"
	"github.com/JakeFAU/lcf-connectors/internal/store"
	"github.com/JakeFAU/lcf-connectors/internal/telemetry"
	"github.com/JakeFAU/lcf-connectors/internal/throttle"
)

// Options carries the process-wide collaborators App does not build itself.
type Options struct {
	Logger *zap.Logger
	// Registerer receives the progress collectors. Defaults to the global
	// Prometheus registry.
	Registerer prometheus.Registerer
}

// App holds all the shared, long-lived services for the application.
// It is built once at startup by New and released by Close.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Registry    *crawler.Registry
	Connections *repository.Manager
	Jobs        *jobs.Service
	Runner      *ingest.Runner
	Queue       *queueMemory.Queue
	Dispatcher  *dispatcher.Dispatcher
	Scheduler   *scheduler.Scheduler
	Progress    *progress.Hub

	installers []postgres.Installer
	closers    []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// New builds every service cfg describes. On failure the services built so
// far are closed before returning.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	l := opts.Logger
	a := &App{Config: cfg, Logger: l}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	l.Info("initializing application services")
	clock := system.New()
	metrics.Init()

	if cfg.Tracing.Enabled {
		tp, terr := telemetry.InitTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
			Exporter:    cfg.Tracing.Exporter,
		})
		if terr != nil {
			return nil, fmt.Errorf("init tracing: %w", terr)
		}
		a.onClose("tracer", tp.Shutdown)
	}

	a.Registry = crawler.NewRegistry()
	if err = registerConnectors(a.Registry, cfg, l); err != nil {
		return nil, err
	}

	stores, err := a.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	connCache, err := cache.New(cache.Config{
		Driver:    cfg.Cache.Driver,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisDB:   cfg.Cache.RedisDB,
		TTL:       cfg.CacheTTL(),
		MaxItems:  cfg.Cache.MaxItems,
	})
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	a.onClose("cache", func(context.Context) error { return connCache.Close() })

	versions, err := a.openVersions(cfg, l)
	if err != nil {
		return nil, err
	}

	a.Connections, err = repository.NewManager(repository.Options{
		Connections:  stores.connections,
		History:      stores.history,
		Jobs:         stores.jobs,
		Versions:     versions,
		Cache:        connCache,
		Registry:     a.Registry,
		Clock:        clock,
		Logger:       l.Named("repository"),
		StoreHistory: cfg.History.StoreHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("init repository manager: %w", err)
	}

	blobs, err := a.openBlobs(ctx, cfg)
	if err != nil {
		return nil, err
	}
	publisher, err := a.openPublisher(ctx, cfg, l)
	if err != nil {
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	a.Progress = progress.NewHub(
		progress.Config{Logger: l.Named("progress")},
		sinks.NewHistorySink(a.Connections),
		sinks.NewLogSink(l.Named("progress")),
		promSink,
	)
	a.onClose("progress", a.Progress.Close)

	a.Runner, err = ingest.NewRunner(ingest.Options{
		Connections: a.Connections,
		Registry:    a.Registry,
		Jobs:        stores.jobs,
		Versions:    versions,
		Blobs:       blobs,
		Publisher:   publisher,
		Hasher:      sha256.New(),
		Throttle:    throttle.New(throttle.Config{DefaultRPM: cfg.Throttle.DefaultRPM, Burst: cfg.Throttle.Burst}),
		Progress:    a.Progress,
		Clock:       clock,
		Logger:      l,
		Config: ingest.Config{
			BlobPrefix:       cfg.Storage.Prefix,
			BatchParallelism: cfg.Workers.BatchParallelism,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init runner: %w", err)
	}

	a.Queue = queueMemory.NewQueue(cfg.Workers.QueueDepth)
	a.onClose("queue", func(context.Context) error {
		a.Queue.Close()
		return nil
	})
	a.Jobs, err = jobs.NewService(jobs.Options{
		Jobs:        stores.jobs,
		Connections: a.Connections,
		Queue:       a.Queue,
		Canceler:    a.Runner,
		IDs:         uuid.NewUUIDGenerator(),
		Clock:       clock,
		Logger:      l,
	})
	if err != nil {
		return nil, fmt.Errorf("init job service: %w", err)
	}
	a.Dispatcher = dispatcher.NewPool(a.Queue, a.Runner, cfg.Workers.Concurrency, l)

	a.Scheduler, err = scheduler.New(scheduler.Options{
		History:         a.Connections,
		Retention:       cfg.Retention(),
		CleanupSchedule: cfg.History.CleanupSchedule,
		Jobs:            a.Jobs,
		Crawls:          crawlsFromConfig(cfg.Schedules),
		Clock:           clock,
		Logger:          l,
	})
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	l.Info("application services initialized",
		zap.String("db", cfg.DB.Driver),
		zap.String("versions", cfg.Versions.Driver),
		zap.String("storage", cfg.Storage.Driver),
		zap.Strings("connectors", a.Registry.Names()))
	return a, nil
}

func registerConnectors(reg *crawler.Registry, cfg config.Config, l *zap.Logger) error {
	if err := csws.Register(reg,
		csws.WithLogger(l),
		csws.WithCallTimeout(cfg.CallTimeout()),
	); err != nil {
		return fmt.Errorf("register csws connector: %w", err)
	}
	if err := meridio.Register(reg,
		meridio.WithLogger(l),
		meridio.WithCallTimeout(cfg.CallTimeout()),
	); err != nil {
		return fmt.Errorf("register meridio connector: %w", err)
	}
	return nil
}

type storeSet struct {
	connections store.ConnectionStore
	history     store.HistoryStore
	jobs        store.JobStore
}

func (a *App) openStores(ctx context.Context, cfg config.Config) (storeSet, error) {
	switch cfg.DB.Driver {
	case "postgres":
		a.Logger.Info("connecting to PostgreSQL")
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return storeSet{}, fmt.Errorf("init database: %w", err)
		}
		a.onClose("database", func(context.Context) error {
			pool.Close()
			return nil
		})
		conns, err := postgres.NewConnectionStore(pool, postgres.ConnectionTables{
			Connections: cfg.DB.ConnectionsTable,
			Throttles:   cfg.DB.ThrottlesTable,
			History:     cfg.DB.HistoryTable,
		})
		if err != nil {
			return storeSet{}, fmt.Errorf("init connection store: %w", err)
		}
		hist, err := postgres.NewHistoryStore(pool, cfg.DB.HistoryTable)
		if err != nil {
			return storeSet{}, fmt.Errorf("init history store: %w", err)
		}
		jobStore, err := postgres.NewJobStore(pool, cfg.DB.JobsTable)
		if err != nil {
			return storeSet{}, fmt.Errorf("init job store: %w", err)
		}
		a.installers = []postgres.Installer{conns, hist, jobStore}
		return storeSet{connections: conns, history: hist, jobs: jobStore}, nil
	case "memory":
		a.Logger.Info("using in-memory stores; connections and history are lost on exit")
		hist := memoryStorage.NewHistoryStore()
		return storeSet{
			connections: memoryStorage.NewConnectionStore(hist),
			history:     hist,
			jobs:        memoryStorage.NewJobStore(),
		}, nil
	default:
		return storeSet{}, fmt.Errorf("unknown db driver: %s", cfg.DB.Driver)
	}
}

func (a *App) openVersions(cfg config.Config, l *zap.Logger) (store.VersionStore, error) {
	switch cfg.Versions.Driver {
	case "badger":
		vs, err := badgerstore.Open(badgerstore.Options{Dir: cfg.Versions.Dir, Logger: l.Named("badger")})
		if err != nil {
			return nil, fmt.Errorf("open version store: %w", err)
		}
		a.onClose("versions", func(context.Context) error { return vs.Close() })
		return vs, nil
	case "memory":
		return memoryStorage.NewVersionStore(), nil
	default:
		return nil, fmt.Errorf("unknown versions driver: %s", cfg.Versions.Driver)
	}
}

func (a *App) openBlobs(ctx context.Context, cfg config.Config) (crawler.BlobStore, error) {
	switch cfg.Storage.Driver {
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		a.Logger.Info("using GCS content store", zap.String("bucket", cfg.Storage.GCSBucket))
		bs, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return bs, nil
	case "local":
		bs, err := localstore.New(localstore.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return bs, nil
	case "memory":
		return memoryStorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}

func (a *App) openPublisher(ctx context.Context, cfg config.Config, l *zap.Logger) (crawler.Publisher, error) {
	if !cfg.PubSub.Enabled {
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	a.onClose("pubsub", func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	l.Info("publishing ingestion events to Pub/Sub", zap.String("topic", cfg.PubSub.TopicName))
	return pubsubpublisher.New(topic), nil
}

func crawlsFromConfig(schedules map[string]config.ScheduleConfig) []scheduler.Crawl {
	names := make([]string, 0, len(schedules))
	for name := range schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	crawls := make([]scheduler.Crawl, 0, len(names))
	for _, name := range names {
		s := schedules[name]
		crawls = append(crawls, scheduler.Crawl{
			Name:       name,
			Schedule:   s.Cron,
			Connection: s.Connection,
			Spec:       s.Spec,
		})
	}
	return crawls
}

// Install creates the database schema. It is a no-op for in-memory stores.
func (a *App) Install(ctx context.Context) error {
	if len(a.installers) == 0 {
		a.Logger.Info("nothing to install for the memory driver")
		return nil
	}
	if err := postgres.InstallAll(ctx, a.installers...); err != nil {
		return err
	}
	a.Logger.Info("schema installed")
	return nil
}

// Server builds the HTTP API over the app's services.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Connections, a.Jobs, a.Config, a.Logger)
}

// Close releases services in reverse construction order and returns the
// joined failures. Each failure is also logged.
func (a *App) Close(ctx context.Context) error {
	a.Logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
