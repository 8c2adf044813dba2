package store

import (
	"context"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
)

// ThrottleSpec limits the fetch rate for bins matching a regular expression.
type ThrottleSpec struct {
	// Match is a regular expression applied to bin names.
	Match string `json:"match" validate:"required"`
	// Description is free text shown to operators.
	Description string `json:"description,omitempty"`
	// Rate is the maximum number of fetches per minute.
	Rate float64 `json:"rate" validate:"gt=0"`
}

// Connection is a persisted repository connection.
type Connection struct {
	// Name is the unique connection name.
	Name string `json:"name" validate:"required,max=32"`
	// Description is free text shown to operators.
	Description string `json:"description,omitempty"`
	// ClassName selects the connector implementation.
	ClassName string `json:"class_name" validate:"required"`
	// ACLAuthority names the authority that resolves the connector's tokens.
	ACLAuthority string `json:"acl_authority,omitempty"`
	// MaxConnections caps concurrent sessions against the repository.
	MaxConnections int `json:"max_connections" validate:"gte=0"`
	// Config carries the connector parameters.
	Config crawler.ConfigParams `json:"config"`
	// Throttles lists the bin rate limits, in declaration order.
	Throttles []ThrottleSpec `json:"throttles,omitempty" validate:"dive"`
}

// Clone returns a deep copy so cached values cannot be mutated by callers.
func (c Connection) Clone() Connection {
	out := c
	out.Config = c.Config.Clone()
	out.Throttles = append([]ThrottleSpec(nil), c.Throttles...)
	return out
}

// ConnectionStore persists repository connections and their throttle specs.
type ConnectionStore interface {
	// Install creates the backing tables when missing.
	Install(ctx context.Context) error
	// Save inserts or updates the connection and replaces its throttles.
	Save(ctx context.Context, conn Connection) error
	// Load returns ErrNotFound when the connection does not exist.
	Load(ctx context.Context, name string) (Connection, error)
	// LoadMultiple returns the named connections in the order given,
	// skipping names that do not exist.
	LoadMultiple(ctx context.Context, names []string) ([]Connection, error)
	// All returns every connection ordered by lower-cased name.
	All(ctx context.Context) ([]Connection, error)
	// Delete removes the connection, its throttles and its history.
	Delete(ctx context.Context, name string) error
	// IsReferenced reports whether any connection uses the authority.
	IsReferenced(ctx context.Context, authority string) (bool, error)
	// FindForConnector lists connection names using className, sorted.
	FindForConnector(ctx context.Context, className string) ([]string, error)
}

// ChunkNames splits names into slices of at most FetchMax entries.
func ChunkNames(names []string) [][]string {
	var out [][]string
	for len(names) > FetchMax {
		out = append(out, names[:FetchMax])
		names = names[FetchMax:]
	}
	if len(names) > 0 {
		out = append(out, names)
	}
	return out
}
