package store

import "context"

// VersionStore keeps the last indexed version string of each document.
type VersionStore interface {
	// Get returns "" and no error when the document was never indexed.
	Get(ctx context.Context, connection, id string) (string, error)
	Put(ctx context.Context, connection, id, version string) error
	Delete(ctx context.Context, connection, id string) error
	// List returns every document id and version of a connection.
	List(ctx context.Context, connection string) (map[string]string, error)
}
