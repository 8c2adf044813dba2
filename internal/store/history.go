package store

import (
	"context"
	"time"

	"github.com/JakeFAU/lcf-connectors/internal/history"
)

// HistoryStore persists append-only activity history rows.
type HistoryStore interface {
	Install(ctx context.Context) error
	// AddRow appends a row and returns its id.
	AddRow(ctx context.Context, row history.Row) (string, error)
	// DeleteOwner removes every row of a connection.
	DeleteOwner(ctx context.Context, owner string) error
	// DeleteOlderThan removes rows whose start precedes cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// Count returns the number of rows matching criteria.
	Count(ctx context.Context, owner string, criteria history.FilterCriteria) (int64, error)
	// Rows returns every row matching criteria for in-process reports.
	Rows(ctx context.Context, owner string, criteria history.FilterCriteria) ([]history.Row, error)
	// SimpleReport returns one page of matching rows.
	SimpleReport(
		ctx context.Context,
		owner string,
		criteria history.FilterCriteria,
		sort history.SortOrder,
		offset, limit int,
	) ([]history.SimpleRow, error)
}
