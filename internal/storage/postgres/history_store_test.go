package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lcf-connectors/internal/history"
)

func TestWhereClause(t *testing.T) {
	t.Parallel()

	start := time.UnixMilli(1000)
	end := time.UnixMilli(5000)
	where, args := whereClause("conn", history.FilterCriteria{
		Activities:      []string{"fetch document"},
		StartTime:       &start,
		EndTime:         &end,
		EntityMatch:     &history.RegexpClause{Pattern: "^D", Insensitive: true},
		ResultCodeMatch: &history.RegexpClause{Pattern: "OK"},
	})
	assert.Equal(t,
		" WHERE owner_name = $1 AND activity_type = ANY($2) AND start_time > $3 AND end_time <= $4"+
			" AND entity_id ~* $5 AND result_code ~ $6",
		where)
	assert.Equal(t, []any{"conn", []string{"fetch document"}, int64(1000), int64(5000), "^D", "OK"}, args)

	where, args = whereClause("conn", history.FilterCriteria{Activities: []string{}})
	assert.Equal(t, " WHERE owner_name = $1 AND 0>1", where)
	assert.Len(t, args, 1)
}

func TestHistoryStoreAddRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewHistoryStore(mock, "")
	require.NoError(t, err)

	row := history.Row{
		ID:           "row-1",
		Owner:        "livelink",
		StartTime:    time.UnixMilli(1000),
		EndTime:      time.UnixMilli(1500),
		DataSize:     42,
		ActivityType: "fetch document",
		EntityID:     "D123",
		ResultCode:   "OK",
	}
	mock.ExpectExec("INSERT INTO repohistory").
		WithArgs("row-1", "livelink", int64(1000), int64(1500), int64(42), "fetch document", "D123",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.AddRow(context.Background(), row)
	require.NoError(t, err)
	assert.Equal(t, "row-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStoreCountAndCleanup(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewHistoryStore(mock, "history")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("livelink").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))
	mock.ExpectExec("DELETE FROM history WHERE start_time").
		WithArgs(int64(86400000)).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.Count(context.Background(), "livelink", history.FilterCriteria{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	removed, err := s.DeleteOlderThan(context.Background(), time.UnixMilli(86400000))
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStoreSimpleReport(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewHistoryStore(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("ORDER BY bytes DESC,starttime DESC,id DESC LIMIT").
		WithArgs("livelink", 10, 20).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "activity", "starttime", "elapsedtime", "resultcode", "resultdesc", "bytes", "identifier",
		}).AddRow("r1", "fetch document", int64(1000), int64(250), "OK", "", int64(99), "D1"))

	rows, err := s.SimpleReport(context.Background(), "livelink", history.FilterCriteria{},
		history.ParseSortOrder("-bytes"), 20, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 250*time.Millisecond, rows[0].ElapsedTime)
	assert.Equal(t, time.UnixMilli(1000).UTC(), rows[0].StartTime)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = s.SimpleReport(context.Background(), "livelink", history.FilterCriteria{},
		history.ParseSortOrder("secret; DROP"), 0, 0)
	require.ErrorContains(t, err, "unknown sort column")
}
