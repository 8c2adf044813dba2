package store

import (
	"context"
	"time"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
)

// JobStore persists crawl jobs and their status.
type JobStore interface {
	// Create returns ErrAlreadyExists for a duplicate id.
	Create(ctx context.Context, job crawler.Job) error
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (crawler.Job, error)
	// List returns jobs newest first, optionally filtered by status.
	List(ctx context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.Job, error)
	// UpdateStatus sets status, error text and counters. The first move to
	// running stamps Started; terminal statuses stamp Finished.
	UpdateStatus(
		ctx context.Context,
		id string,
		status crawler.JobStatus,
		errText string,
		counters crawler.JobCounters,
		at time.Time,
	) error
	// UpdateSeedVersion records the version returned by seeding.
	UpdateSeedVersion(ctx context.Context, id, seedVersion string) error
	// LastSeedVersion returns the seed version of the newest succeeded job
	// for the connection whose spec has specKey, or "" when there is none.
	LastSeedVersion(ctx context.Context, connection, specKey string) (string, error)
	// CheckIfReferenced reports whether a queued or running job uses the
	// connection.
	CheckIfReferenced(ctx context.Context, connection string) (bool, error)
}
