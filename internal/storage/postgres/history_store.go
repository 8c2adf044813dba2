package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/lcf-connectors/internal/history"
)

// HistoryStore persists activity history rows. Times are stored as epoch
// milliseconds.
type HistoryStore struct {
	pool  Pool
	table string
}

// NewHistoryStore builds a store over an existing pool.
func NewHistoryStore(pool Pool, table string) (*HistoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table = orDefault(table, "repohistory")
	if err := checkTables(table); err != nil {
		return nil, err
	}
	return &HistoryStore{pool: pool, table: table}, nil
}

// Install creates the history table and its indexes.
func (s *HistoryStore) Install(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	owner_name VARCHAR(32) NOT NULL,
	start_time BIGINT NOT NULL,
	end_time BIGINT NOT NULL,
	data_size BIGINT NOT NULL,
	activity_type VARCHAR(64) NOT NULL,
	entity_id TEXT NOT NULL,
	result_code VARCHAR(255),
	result_desc TEXT
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_owner_idx ON %s (owner_name)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_start_idx ON %s (start_time)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_end_idx ON %s (end_time)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("install history: %w", err)
		}
	}
	return nil
}

// AddRow inserts row and returns its id, generating one when empty.
func (s *HistoryStore) AddRow(ctx context.Context, row history.Row) (string, error) {
	if row.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate history id: %w", err)
		}
		row.ID = id.String()
	}
	query := fmt.Sprintf(`INSERT INTO %s
	(id, owner_name, start_time, end_time, data_size, activity_type, entity_id, result_code, result_desc)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		row.ID,
		row.Owner,
		toMillis(row.StartTime),
		toMillis(row.EndTime),
		row.DataSize,
		row.ActivityType,
		row.EntityID,
		nullable(row.ResultCode),
		nullable(row.ResultDescription),
	); err != nil {
		return "", fmt.Errorf("insert history row: %w", err)
	}
	return row.ID, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DeleteOwner removes every row of owner.
func (s *HistoryStore) DeleteOwner(ctx context.Context, owner string) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE owner_name = $1`, s.table), owner); err != nil {
		return fmt.Errorf("delete history owner: %w", err)
	}
	return nil
}

// DeleteOlderThan removes rows that started before cutoff.
func (s *HistoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE start_time < $1`, s.table), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// whereClause renders the criteria as a WHERE clause with positional args.
func whereClause(owner string, c history.FilterCriteria) (string, []any) {
	args := []any{owner}
	clauses := []string{"owner_name = $1"}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if c.Activities != nil {
		if len(c.Activities) == 0 {
			clauses = append(clauses, "0>1")
		} else {
			clauses = append(clauses, "activity_type = ANY("+next(c.Activities)+")")
		}
	}
	if c.StartTime != nil {
		clauses = append(clauses, "start_time > "+next(toMillis(*c.StartTime)))
	}
	if c.EndTime != nil {
		clauses = append(clauses, "end_time <= "+next(toMillis(*c.EndTime)))
	}
	if c.EntityMatch != nil {
		clauses = append(clauses, "entity_id "+regexpOp(c.EntityMatch)+" "+next(c.EntityMatch.Pattern))
	}
	if c.ResultCodeMatch != nil {
		clauses = append(clauses, "result_code "+regexpOp(c.ResultCodeMatch)+" "+next(c.ResultCodeMatch.Pattern))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func regexpOp(c *history.RegexpClause) string {
	if c.Insensitive {
		return "~*"
	}
	return "~"
}

// Count returns the number of matching rows.
func (s *HistoryStore) Count(ctx context.Context, owner string, criteria history.FilterCriteria) (int64, error) {
	where, args := whereClause(owner, criteria)
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history rows: %w", err)
	}
	return n, nil
}

// Rows returns every matching row ordered by start time.
func (s *HistoryStore) Rows(ctx context.Context, owner string, criteria history.FilterCriteria) ([]history.Row, error) {
	where, args := whereClause(owner, criteria)
	query := fmt.Sprintf(`SELECT id, owner_name, start_time, end_time, data_size, activity_type, entity_id,
	COALESCE(result_code,''), COALESCE(result_desc,'')
FROM %s`, s.table) + where + ` ORDER BY start_time`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history rows: %w", err)
	}
	defer rows.Close()
	var out []history.Row
	for rows.Next() {
		var (
			r          history.Row
			start, end int64
		)
		if err := rows.Scan(
			&r.ID, &r.Owner, &start, &end, &r.DataSize, &r.ActivityType, &r.EntityID, &r.ResultCode, &r.ResultDescription,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.StartTime = fromMillis(start)
		r.EndTime = fromMillis(end)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}

// SimpleReport pages through matching rows in SQL.
func (s *HistoryStore) SimpleReport(
	ctx context.Context,
	owner string,
	criteria history.FilterCriteria,
	sort history.SortOrder,
	offset, limit int,
) ([]history.SimpleRow, error) {
	if err := sort.Validate(history.SimpleSortable); err != nil {
		return nil, err
	}
	where, args := whereClause(owner, criteria)
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT id, activity_type AS activity, start_time AS starttime, (end_time - start_time) AS elapsedtime,
	COALESCE(result_code,'') AS resultcode, COALESCE(result_desc,'') AS resultdesc, data_size AS bytes, entity_id AS identifier
FROM %s`, s.table)
	sb.WriteString(where)
	sb.WriteString(orderBy(sort.Complete(history.SimpleColumns)))
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query history report: %w", err)
	}
	defer rows.Close()
	out := []history.SimpleRow{}
	for rows.Next() {
		var (
			r              history.SimpleRow
			start, elapsed int64
		)
		if err := rows.Scan(&r.ID, &r.Activity, &start, &elapsed, &r.ResultCode, &r.ResultDesc, &r.Bytes, &r.Identifier); err != nil {
			return nil, fmt.Errorf("scan history report row: %w", err)
		}
		r.StartTime = fromMillis(start)
		r.ElapsedTime = time.Duration(elapsed) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history report: %w", err)
	}
	return out, nil
}

// orderBy renders validated sort columns.
func orderBy(order history.SortOrder) string {
	parts := make([]string, 0, len(order))
	for _, c := range order {
		dir := "ASC"
		if c.Descending {
			dir = "DESC"
		}
		parts = append(parts, c.Column+" "+dir)
	}
	return " ORDER BY " + strings.Join(parts, ",")
}
