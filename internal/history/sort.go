package history

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SortColumn is one ORDER BY term.
type SortColumn struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
}

// SortOrder lists ORDER BY terms in priority order.
type SortOrder []SortColumn

// ParseSortOrder reads "col,-col2" where a leading '-' means descending.
func ParseSortOrder(s string) SortOrder {
	var out SortOrder
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc := strings.HasPrefix(part, "-")
		out = append(out, SortColumn{Column: strings.TrimPrefix(part, "-"), Descending: desc})
	}
	return out
}

// Complete appends every column not already present, descending, so paging
// over the result is stable.
func (o SortOrder) Complete(columns []string) SortOrder {
	seen := make(map[string]struct{}, len(o))
	out := make(SortOrder, 0, len(o)+len(columns))
	for _, c := range o {
		seen[c.Column] = struct{}{}
		out = append(out, c)
	}
	for _, col := range columns {
		if _, ok := seen[col]; !ok {
			out = append(out, SortColumn{Column: col, Descending: true})
		}
	}
	return out
}

// Validate rejects columns outside allowed.
func (o SortOrder) Validate(allowed []string) error {
	for _, c := range o {
		found := false
		for _, a := range allowed {
			if a == c.Column {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown sort column %q", c.Column)
		}
	}
	return nil
}

func sortRows[T any](rows []T, order SortOrder, value func(T, string) any) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, c := range order {
			cmp := compareValues(value(rows[i], c.Column), value(rows[j], c.Column))
			if cmp == 0 {
				continue
			}
			if c.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case int64:
		return compareOrdered(av, b.(int64))
	case float64:
		return compareOrdered(av, b.(float64))
	case string:
		return strings.Compare(av, b.(string))
	case time.Time:
		return av.Compare(b.(time.Time))
	case time.Duration:
		return compareOrdered(av, b.(time.Duration))
	default:
		return 0
	}
}

func compareOrdered[T int64 | float64 | time.Duration](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func page[T any](rows []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
