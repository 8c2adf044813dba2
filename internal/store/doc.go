// Package store defines interfaces for persistence dependencies (repository
// connections, activity history, jobs and indexed versions). Implementations
// live in other packages; this package must not import database drivers or
// concrete clients.
package store
