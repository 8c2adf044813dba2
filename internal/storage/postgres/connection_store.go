package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

// ConnectionTables names the tables behind a ConnectionStore.
type ConnectionTables struct {
	Connections string
	Throttles   string
	History     string
}

// ConnectionStore persists repository connections and their throttle specs.
type ConnectionStore struct {
	pool        Pool
	connections string
	throttles   string
	history     string
}

// NewConnectionStore builds a store over an existing pool.
func NewConnectionStore(pool Pool, tables ConnectionTables) (*ConnectionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	s := &ConnectionStore{
		pool:        pool,
		connections: orDefault(tables.Connections, "repoconnections"),
		throttles:   orDefault(tables.Throttles, "throttlespec"),
		history:     orDefault(tables.History, "repohistory"),
	}
	if err := checkTables(s.connections, s.throttles, s.history); err != nil {
		return nil, err
	}
	return s, nil
}

// Install creates the connection and throttle tables.
func (s *ConnectionStore) Install(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(32) PRIMARY KEY,
	description VARCHAR(255),
	class_name VARCHAR(255) NOT NULL,
	acl_authority VARCHAR(32),
	max_count INTEGER NOT NULL,
	config TEXT
)`, s.connections),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_class_idx ON %s (class_name)`, s.connections, s.connections),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_authority_idx ON %s (acl_authority)`, s.connections, s.connections),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	owner_name VARCHAR(32) NOT NULL REFERENCES %s(name) ON DELETE CASCADE,
	ordinal INTEGER NOT NULL,
	match_string VARCHAR(255) NOT NULL,
	description VARCHAR(255),
	throttle_rate DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (owner_name, ordinal)
)`, s.throttles, s.connections),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("install connections: %w", err)
		}
	}
	return nil
}

// Save upserts the connection and replaces its throttle rows.
func (s *ConnectionStore) Save(ctx context.Context, conn store.Connection) error {
	config, err := conn.Config.Encode()
	if err != nil {
		return err
	}
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		upsert := fmt.Sprintf(`INSERT INTO %s (name, description, class_name, acl_authority, max_count, config)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (name) DO UPDATE SET
	description = EXCLUDED.description,
	class_name = EXCLUDED.class_name,
	acl_authority = EXCLUDED.acl_authority,
	max_count = EXCLUDED.max_count,
	config = EXCLUDED.config`, s.connections)
		if _, err := tx.Exec(ctx, upsert,
			conn.Name, conn.Description, conn.ClassName, conn.ACLAuthority, conn.MaxConnections, config,
		); err != nil {
			return fmt.Errorf("upsert connection: %w", err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE owner_name = $1`, s.throttles), conn.Name); err != nil {
			return fmt.Errorf("clear throttles: %w", err)
		}
		insert := fmt.Sprintf(`INSERT INTO %s (owner_name, ordinal, match_string, description, throttle_rate)
VALUES ($1,$2,$3,$4,$5)`, s.throttles)
		for i, spec := range conn.Throttles {
			if _, err := tx.Exec(ctx, insert, conn.Name, i, spec.Match, spec.Description, spec.Rate); err != nil {
				return fmt.Errorf("insert throttle: %w", err)
			}
		}
		return nil
	})
}

func (s *ConnectionStore) selectConnections() string {
	return fmt.Sprintf(`SELECT name, COALESCE(description,''), class_name, COALESCE(acl_authority,''), max_count, COALESCE(config,'')
FROM %s`, s.connections)
}

func scanConnection(row pgx.Row) (store.Connection, error) {
	var (
		conn   store.Connection
		config string
	)
	if err := row.Scan(
		&conn.Name,
		&conn.Description,
		&conn.ClassName,
		&conn.ACLAuthority,
		&conn.MaxConnections,
		&config,
	); err != nil {
		return store.Connection{}, err
	}
	params, err := crawler.DecodeConfigParams(config)
	if err != nil {
		return store.Connection{}, err
	}
	conn.Config = params
	return conn, nil
}

// Load fetches one connection with its throttles.
func (s *ConnectionStore) Load(ctx context.Context, name string) (store.Connection, error) {
	conn, err := scanConnection(s.pool.QueryRow(ctx, s.selectConnections()+` WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Connection{}, store.ErrNotFound
		}
		return store.Connection{}, fmt.Errorf("load connection: %w", err)
	}
	throttles, err := s.loadThrottles(ctx, []string{name})
	if err != nil {
		return store.Connection{}, err
	}
	conn.Throttles = throttles[name]
	return conn, nil
}

// LoadMultiple fetches the named connections in the given order, querying at
// most store.FetchMax names at a time.
func (s *ConnectionStore) LoadMultiple(ctx context.Context, names []string) ([]store.Connection, error) {
	byName := make(map[string]store.Connection, len(names))
	for _, chunk := range store.ChunkNames(names) {
		conns, err := s.query(ctx, s.selectConnections()+` WHERE name = ANY($1)`, chunk)
		if err != nil {
			return nil, err
		}
		for _, c := range conns {
			byName[c.Name] = c
		}
	}
	out := make([]store.Connection, 0, len(names))
	for _, name := range names {
		if c, ok := byName[name]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// All returns every connection ordered by lower-cased name.
func (s *ConnectionStore) All(ctx context.Context) ([]store.Connection, error) {
	return s.query(ctx, s.selectConnections()+` ORDER BY lower(name) ASC`)
}

func (s *ConnectionStore) query(ctx context.Context, sql string, args ...any) ([]store.Connection, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	var (
		out   []store.Connection
		names []string
	)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, conn)
		names = append(names, conn.Name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}
	throttles, err := s.loadThrottles(ctx, names)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Throttles = throttles[out[i].Name]
	}
	return out, nil
}

func (s *ConnectionStore) loadThrottles(ctx context.Context, owners []string) (map[string][]store.ThrottleSpec, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT owner_name, match_string, COALESCE(description,''), throttle_rate
FROM %s WHERE owner_name = ANY($1) ORDER BY owner_name, ordinal`, s.throttles), owners)
	if err != nil {
		return nil, fmt.Errorf("query throttles: %w", err)
	}
	defer rows.Close()
	out := map[string][]store.ThrottleSpec{}
	for rows.Next() {
		var (
			owner string
			spec  store.ThrottleSpec
		)
		if err := rows.Scan(&owner, &spec.Match, &spec.Description, &spec.Rate); err != nil {
			return nil, fmt.Errorf("scan throttle: %w", err)
		}
		out[owner] = append(out[owner], spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate throttles: %w", err)
	}
	return out, nil
}

// Delete removes the connection together with its throttles and history.
func (s *ConnectionStore) Delete(ctx context.Context, name string) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE owner_name = $1`, s.throttles), name); err != nil {
			return fmt.Errorf("delete throttles: %w", err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE owner_name = $1`, s.history), name); err != nil {
			return fmt.Errorf("delete history: %w", err)
		}
		tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, s.connections), name)
		if err != nil {
			return fmt.Errorf("delete connection: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// IsReferenced reports whether any connection uses authority.
func (s *ConnectionStore) IsReferenced(ctx context.Context, authority string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE acl_authority = $1)`, s.connections), authority,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check authority reference: %w", err)
	}
	return exists, nil
}

// FindForConnector lists connection names using className.
func (s *ConnectionStore) FindForConnector(ctx context.Context, className string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT name FROM %s WHERE class_name = $1`, s.connections), className)
	if err != nil {
		return nil, fmt.Errorf("find connections: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan connection name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection names: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
