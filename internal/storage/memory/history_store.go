package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/lcf-connectors/internal/history"
)

// HistoryStore keeps history rows in a slice in insertion order.
type HistoryStore struct {
	mu   sync.RWMutex
	rows []history.Row
}

// NewHistoryStore constructs an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

// Install is a no-op for the in-memory store.
func (s *HistoryStore) Install(context.Context) error { return nil }

// AddRow appends row, assigning an id when it has none.
func (s *HistoryStore) AddRow(_ context.Context, row history.Row) (string, error) {
	if row.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate history id: %w", err)
		}
		row.ID = id.String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return row.ID, nil
}

// DeleteOwner drops every row of owner.
func (s *HistoryStore) DeleteOwner(_ context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, r := range s.rows {
		if r.Owner != owner {
			kept = append(kept, r)
		}
	}
	s.rows = kept
	return nil
}

// DeleteOlderThan drops rows that started before cutoff.
func (s *HistoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var removed int64
	for _, r := range s.rows {
		if r.StartTime.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return removed, nil
}

// Count returns the number of matching rows.
func (s *HistoryStore) Count(ctx context.Context, owner string, criteria history.FilterCriteria) (int64, error) {
	rows, err := s.Rows(ctx, owner, criteria)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// Rows returns copies of the matching rows of owner.
func (s *HistoryStore) Rows(_ context.Context, owner string, criteria history.FilterCriteria) ([]history.Row, error) {
	s.mu.RLock()
	owned := make([]history.Row, 0, len(s.rows))
	for _, r := range s.rows {
		if r.Owner == owner {
			owned = append(owned, r)
		}
	}
	s.mu.RUnlock()
	return history.Filter(owned, criteria)
}

// SimpleReport returns one page of matching rows.
func (s *HistoryStore) SimpleReport(
	ctx context.Context,
	owner string,
	criteria history.FilterCriteria,
	sort history.SortOrder,
	offset, limit int,
) ([]history.SimpleRow, error) {
	rows, err := s.Rows(ctx, owner, criteria)
	if err != nil {
		return nil, err
	}
	return history.Simple(rows, sort, offset, limit)
}
