package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Row is one persisted history record.
type Row struct {
	// ID is the row's unique identifier.
	ID string
	// Owner is the repository connection name.
	Owner string
	// StartTime is when the activity began.
	StartTime time.Time
	// EndTime is when the activity finished; always after StartTime.
	EndTime time.Time
	// DataSize is the number of bytes transferred.
	DataSize int64
	// ActivityType names the activity, e.g. "fetch document".
	ActivityType string
	// EntityID identifies what the activity acted on.
	EntityID string
	// ResultCode is empty when the activity reported none.
	ResultCode string
	// ResultDescription is empty when the activity reported none.
	ResultDescription string
}

// RegexpClause matches a column against a regular expression.
type RegexpClause struct {
	Pattern     string `json:"pattern"`
	Insensitive bool   `json:"insensitive,omitempty"`
}

// FilterCriteria restricts the rows a report considers.
type FilterCriteria struct {
	// Activities limits rows to these types. Nil means every type; an
	// empty, non-nil slice selects nothing.
	Activities []string
	// StartTime is an exclusive lower bound on row start.
	StartTime *time.Time
	// EndTime is an inclusive upper bound on row end.
	EndTime         *time.Time
	EntityMatch     *RegexpClause
	ResultCodeMatch *RegexpClause
}

// Matcher evaluates FilterCriteria against rows in memory.
type Matcher struct {
	criteria   FilterCriteria
	activities map[string]struct{}
	entity     *regexp2.Regexp
	resultCode *regexp2.Regexp
}

// NewMatcher compiles the criteria's regular expressions.
func NewMatcher(c FilterCriteria) (*Matcher, error) {
	m := &Matcher{criteria: c}
	if c.Activities != nil {
		m.activities = make(map[string]struct{}, len(c.Activities))
		for _, a := range c.Activities {
			m.activities[a] = struct{}{}
		}
	}
	var err error
	if m.entity, err = compileClause(c.EntityMatch); err != nil {
		return nil, fmt.Errorf("entity match: %w", err)
	}
	if m.resultCode, err = compileClause(c.ResultCodeMatch); err != nil {
		return nil, fmt.Errorf("result code match: %w", err)
	}
	return m, nil
}

func compileClause(c *RegexpClause) (*regexp2.Regexp, error) {
	if c == nil {
		return nil, nil
	}
	opts := regexp2.None
	if c.Insensitive {
		opts = regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(c.Pattern, opts)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", c.Pattern, err)
	}
	return re, nil
}

// Match reports whether row passes every criterion.
func (m *Matcher) Match(row Row) bool {
	if m.activities != nil {
		if _, ok := m.activities[row.ActivityType]; !ok {
			return false
		}
	}
	if m.criteria.StartTime != nil && !row.StartTime.After(*m.criteria.StartTime) {
		return false
	}
	if m.criteria.EndTime != nil && row.EndTime.After(*m.criteria.EndTime) {
		return false
	}
	if m.entity != nil && !matchString(m.entity, row.EntityID) {
		return false
	}
	if m.resultCode != nil && !matchString(m.resultCode, row.ResultCode) {
		return false
	}
	return true
}

func matchString(re *regexp2.Regexp, s string) bool {
	ok, err := re.MatchString(s)
	return err == nil && ok
}

// Filter returns the rows accepted by criteria.
func Filter(rows []Row, c FilterCriteria) ([]Row, error) {
	m, err := NewMatcher(c)
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if m.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// BucketDescription groups values by the portion a regular expression
// extracts: the first capture group when the pattern has one, otherwise the
// whole match.
type BucketDescription struct {
	Regexp      string `json:"regexp"`
	Insensitive bool   `json:"insensitive,omitempty"`
}

// Bucketer is a compiled BucketDescription.
type Bucketer struct {
	re          *regexp2.Regexp
	insensitive bool
}

// Compile prepares the description for Extract.
func (b BucketDescription) Compile() (*Bucketer, error) {
	pattern := b.Regexp
	if b.Insensitive {
		pattern = strings.ToLower(pattern)
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile bucket %q: %w", b.Regexp, err)
	}
	return &Bucketer{re: re, insensitive: b.Insensitive}, nil
}

// Extract returns the bucket for value. ok is false when nothing matched.
func (b *Bucketer) Extract(value string) (bucket string, ok bool) {
	if b.insensitive {
		value = strings.ToLower(value)
	}
	m, err := b.re.FindStringMatch(value)
	if err != nil || m == nil {
		return "", false
	}
	if m.GroupCount() > 1 {
		g := m.GroupByNumber(1)
		if g == nil || len(g.Captures) == 0 {
			return "", false
		}
		return g.String(), true
	}
	return m.String(), true
}
