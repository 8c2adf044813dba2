// Package repository manages repository connections: cached reads over the
// connection store, history recording and reporting, and configuration
// export and import.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/cache"
	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/history"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

const (
	listCacheKey       = "repositoryconnections"
	connCacheKeyPrefix = "repositoryconnection-"
)

func connCacheKey(name string) string {
	return connCacheKeyPrefix + name
}

// Options wires a Manager.
type Options struct {
	Connections store.ConnectionStore
	History     store.HistoryStore
	Jobs        store.JobStore
	// Versions, when set, loses a connection's indexed versions with it.
	Versions     store.VersionStore
	Cache        cache.Cache
	Registry     *crawler.Registry
	Clock        crawler.Clock
	Logger       *zap.Logger
	StoreHistory bool
}

// Manager is the entry point for everything connection related.
type Manager struct {
	conns        store.ConnectionStore
	history      store.HistoryStore
	jobs         store.JobStore
	versions     store.VersionStore
	cache        cache.Cache
	registry     *crawler.Registry
	clock        crawler.Clock
	logger       *zap.Logger
	storeHistory bool
}

// NewManager validates opts and builds a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Connections == nil || opts.History == nil || opts.Jobs == nil {
		return nil, errors.New("connection, history and job stores are required")
	}
	if opts.Registry == nil {
		return nil, errors.New("connector registry is required")
	}
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		conns:        opts.Connections,
		history:      opts.History,
		jobs:         opts.Jobs,
		versions:     opts.Versions,
		cache:        opts.Cache,
		registry:     opts.Registry,
		clock:        opts.Clock,
		logger:       opts.Logger,
		storeHistory: opts.StoreHistory,
	}, nil
}

// Install creates the connection and history tables.
func (m *Manager) Install(ctx context.Context) error {
	if err := m.conns.Install(ctx); err != nil {
		return err
	}
	return m.history.Install(ctx)
}

// Save stores conn and drops the cached copies.
func (m *Manager) Save(ctx context.Context, conn store.Connection) error {
	if err := m.conns.Save(ctx, conn); err != nil {
		return fmt.Errorf("save connection %s: %w", conn.Name, err)
	}
	m.invalidate(ctx, conn.Name)
	return nil
}

// Delete removes a connection unless a job still references it.
func (m *Manager) Delete(ctx context.Context, name string) error {
	referenced, err := m.jobs.CheckIfReferenced(ctx, name)
	if err != nil {
		return fmt.Errorf("check references to %s: %w", name, err)
	}
	if referenced {
		return fmt.Errorf("delete connection %s: %w", name, store.ErrReferenced)
	}
	err = m.conns.Delete(ctx, name)
	m.invalidate(ctx, name)
	if err != nil {
		return fmt.Errorf("delete connection %s: %w", name, err)
	}
	if err := m.purgeVersions(ctx, name); err != nil {
		return fmt.Errorf("delete connection %s: %w", name, err)
	}
	return nil
}

// purgeVersions forgets what was indexed through the connection, so a new
// connection of the same name crawls everything again.
func (m *Manager) purgeVersions(ctx context.Context, name string) error {
	if m.versions == nil {
		return nil
	}
	known, err := m.versions.List(ctx, name)
	if err != nil {
		return fmt.Errorf("list indexed versions: %w", err)
	}
	for id := range known {
		if err := m.versions.Delete(ctx, name, id); err != nil {
			return fmt.Errorf("delete indexed version %s: %w", id, err)
		}
	}
	if len(known) > 0 {
		m.logger.Info("purged indexed versions", zap.String("connection", name), zap.Int("count", len(known)))
	}
	return nil
}

func (m *Manager) invalidate(ctx context.Context, name string) {
	if err := m.cache.Delete(ctx, listCacheKey, connCacheKey(name)); err != nil {
		m.logger.Warn("cache invalidation failed", zap.String("connection", name), zap.Error(err))
	}
}

// Load returns one connection, reading through the cache.
func (m *Manager) Load(ctx context.Context, name string) (store.Connection, error) {
	var conn store.Connection
	if m.cacheGet(ctx, connCacheKey(name), &conn) {
		return conn, nil
	}
	conn, err := m.conns.Load(ctx, name)
	if err != nil {
		return store.Connection{}, err
	}
	m.cachePut(ctx, connCacheKey(name), conn)
	return conn, nil
}

// LoadMultiple returns the named connections that exist, in the order given.
func (m *Manager) LoadMultiple(ctx context.Context, names []string) ([]store.Connection, error) {
	out := make([]store.Connection, 0, len(names))
	var missing []string
	found := make(map[string]store.Connection, len(names))
	for _, name := range names {
		var conn store.Connection
		if m.cacheGet(ctx, connCacheKey(name), &conn) {
			found[name] = conn
			continue
		}
		missing = append(missing, name)
	}
	for _, chunk := range store.ChunkNames(missing) {
		conns, err := m.conns.LoadMultiple(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, conn := range conns {
			found[conn.Name] = conn
			m.cachePut(ctx, connCacheKey(conn.Name), conn)
		}
	}
	for _, name := range names {
		if conn, ok := found[name]; ok {
			out = append(out, conn)
		}
	}
	return out, nil
}

// All returns every connection ordered by name.
func (m *Manager) All(ctx context.Context) ([]store.Connection, error) {
	var conns []store.Connection
	if m.cacheGet(ctx, listCacheKey, &conns) {
		return conns, nil
	}
	conns, err := m.conns.All(ctx)
	if err != nil {
		return nil, err
	}
	m.cachePut(ctx, listCacheKey, conns)
	return conns, nil
}

func (m *Manager) cacheGet(ctx context.Context, key string, dst any) bool {
	raw, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		m.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		m.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) cachePut(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("cache entry unencodable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := m.cache.Set(ctx, key, raw); err != nil {
		m.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// IsReferenced reports whether any connection uses the authority.
func (m *Manager) IsReferenced(ctx context.Context, authority string) (bool, error) {
	return m.conns.IsReferenced(ctx, authority)
}

// FindConnectionsForConnector lists the connections of a connector class.
func (m *Manager) FindConnectionsForConnector(ctx context.Context, className string) ([]string, error) {
	return m.conns.FindForConnector(ctx, className)
}

// CheckConnectorExists reports whether className is registered.
func (m *Manager) CheckConnectorExists(className string) bool {
	return m.registry.Exists(className)
}

// ConnectorNames lists the registered connector class names.
func (m *Manager) ConnectorNames() []string {
	return m.registry.Names()
}

// CheckConnection connects a fresh connector instance for the named
// connection and returns its status message.
func (m *Manager) CheckConnection(ctx context.Context, name string) (string, error) {
	conn, err := m.Load(ctx, name)
	if err != nil {
		return "", err
	}
	c, err := m.registry.New(conn.ClassName)
	if err != nil {
		return "", fmt.Errorf("check connection %s: %w", name, err)
	}
	if err := c.Connect(conn.Config); err != nil {
		return "", fmt.Errorf("check connection %s: %w", name, err)
	}
	defer func() {
		if err := c.Disconnect(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("disconnect after check failed", zap.String("connection", name), zap.Error(err))
		}
	}()
	status, err := c.Check(ctx)
	if err != nil {
		return "", fmt.Errorf("check connection %s: %w", name, err)
	}
	return status, nil
}

// RecordHistory appends an activity to the connection's history. The end time
// is now; an unknown start becomes one millisecond earlier, and zero-length
// events are stretched to one millisecond.
func (m *Manager) RecordHistory(ctx context.Context, connection string, act crawler.Activity) error {
	return m.RecordHistoryAt(ctx, connection, act, m.clock.Now())
}

// RecordHistoryAt is RecordHistory with an explicit end time, for activities
// delivered after the fact.
func (m *Manager) RecordHistoryAt(ctx context.Context, connection string, act crawler.Activity, end time.Time) error {
	if !m.storeHistory {
		return nil
	}
	start := act.Start
	if start.IsZero() || start.Equal(end) {
		start = end.Add(-time.Millisecond)
	}
	_, err := m.history.AddRow(ctx, history.Row{
		Owner:             connection,
		StartTime:         start,
		EndTime:           end,
		DataSize:          act.Bytes,
		ActivityType:      act.Type,
		EntityID:          act.Entity,
		ResultCode:        act.ResultCode,
		ResultDescription: act.ResultDescription,
	})
	if err != nil {
		return fmt.Errorf("record history for %s: %w", connection, err)
	}
	return nil
}

// CountHistoryRows counts the rows matching criteria.
func (m *Manager) CountHistoryRows(ctx context.Context, connection string, criteria history.FilterCriteria) (int64, error) {
	return m.history.Count(ctx, connection, criteria)
}

// SimpleHistoryReport pages through the matching rows.
func (m *Manager) SimpleHistoryReport(
	ctx context.Context,
	connection string,
	criteria history.FilterCriteria,
	order history.SortOrder,
	offset, limit int,
) ([]history.SimpleRow, error) {
	return m.history.SimpleReport(ctx, connection, criteria, order, offset, limit)
}

// MaxActivityCountReport finds the busiest interval per entity bucket.
func (m *Manager) MaxActivityCountReport(
	ctx context.Context,
	connection string,
	criteria history.FilterCriteria,
	order history.SortOrder,
	bucket history.BucketDescription,
	interval time.Duration,
	offset, limit int,
) ([]history.ActivityCountRow, error) {
	rows, err := m.history.Rows(ctx, connection, criteria)
	if err != nil {
		return nil, err
	}
	return history.MaxActivityCount(rows, order, bucket, interval, offset, limit)
}

// MaxByteCountReport finds the heaviest interval per entity bucket.
func (m *Manager) MaxByteCountReport(
	ctx context.Context,
	connection string,
	criteria history.FilterCriteria,
	order history.SortOrder,
	bucket history.BucketDescription,
	interval time.Duration,
	offset, limit int,
) ([]history.ByteCountRow, error) {
	rows, err := m.history.Rows(ctx, connection, criteria)
	if err != nil {
		return nil, err
	}
	return history.MaxByteCount(rows, order, bucket, interval, offset, limit)
}

// ResultCodesReport counts events per result code and entity bucket.
func (m *Manager) ResultCodesReport(
	ctx context.Context,
	connection string,
	criteria history.FilterCriteria,
	order history.SortOrder,
	resultBucket, idBucket history.BucketDescription,
	offset, limit int,
) ([]history.ResultCodeRow, error) {
	rows, err := m.history.Rows(ctx, connection, criteria)
	if err != nil {
		return nil, err
	}
	return history.ResultCodes(rows, order, resultBucket, idBucket, offset, limit)
}

// CleanUpHistoryData removes history older than cutoff.
func (m *Manager) CleanUpHistoryData(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := m.history.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clean up history: %w", err)
	}
	m.logger.Info("history cleaned up", zap.Time("cutoff", cutoff), zap.Int64("rows", n))
	return n, nil
}

// DeleteHistoryOwner removes all history of a connection.
func (m *Manager) DeleteHistoryOwner(ctx context.Context, connection string) error {
	return m.history.DeleteOwner(ctx, connection)
}
