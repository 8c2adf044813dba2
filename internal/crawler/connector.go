package crawler

import (
	"context"
	"time"
)

// Activity is one history event a connector records, such as a fetch.
// A zero Start means the start time is unknown.
type Activity struct {
	Type              string
	Start             time.Time
	Bytes             int64
	Entity            string
	ResultCode        string
	ResultDescription string
}

// ExistingVersions maps document ids to the version last indexed.
type ExistingVersions map[string]string

// Get returns the stored version for id, or "" when never indexed.
func (v ExistingVersions) Get(id string) string {
	return v[id]
}

// HistoryActivities is shared by seeding and processing.
type HistoryActivities interface {
	// RecordActivity appends an entry to the connection's history.
	RecordActivity(ctx context.Context, act Activity) error
	// CheckJobStillActive returns ErrJobStopped once the job is canceled.
	CheckJobStillActive(ctx context.Context) error
}

// SeedActivities receives the starting identifiers of a job.
type SeedActivities interface {
	HistoryActivities
	AddSeedDocument(ctx context.Context, id string) error
}

// ProcessActivities is the callback surface for ProcessDocuments.
type ProcessActivities interface {
	HistoryActivities

	// AddDocumentReference queues a discovered child for processing.
	AddDocumentReference(ctx context.Context, id string) error
	// DeleteDocument removes the document and its stored version.
	DeleteDocument(ctx context.Context, id string) error
	// NoDocument records the version without ingesting anything.
	NoDocument(ctx context.Context, id, version string) error
	// IngestDocument hands content and metadata to the index.
	IngestDocument(ctx context.Context, id, version, uri string, doc *RepositoryDocument) error
	// CheckDocumentNeedsReindexing compares version with the stored one.
	CheckDocumentNeedsReindexing(ctx context.Context, id, version string) (bool, error)

	CheckURLIndexable(ctx context.Context, uri string) (bool, error)
	CheckMimeTypeIndexable(ctx context.Context, mimeType string) (bool, error)
	CheckLengthIndexable(ctx context.Context, length int64) (bool, error)
	CheckDateIndexable(ctx context.Context, modified time.Time) (bool, error)
}

// Connector is a repository connector. A Connector instance is owned by one
// job at a time; its methods are not called concurrently.
type Connector interface {
	// Connect stores the configuration; it must not perform network I/O.
	Connect(params ConfigParams) error
	// Check tests the connection and returns a status string for display.
	Check(ctx context.Context) (string, error)
	// Poll gives the connector a chance to expire idle sessions.
	Poll(ctx context.Context) error
	// Disconnect releases any session.
	Disconnect(ctx context.Context) error

	BinNames(id string) []string
	Activities() []string
	MaxDocumentRequest() int

	// AddSeedDocuments emits the starting identifiers and returns the seed
	// version to pass back on the next run.
	AddSeedDocuments(
		ctx context.Context,
		acts SeedActivities,
		spec DocumentSpec,
		lastSeedVersion string,
		seedTime time.Time,
		mode JobMode,
	) (string, error)
	// ProcessDocuments versions, fetches and ingests a batch of identifiers.
	ProcessDocuments(
		ctx context.Context,
		ids []string,
		existing ExistingVersions,
		spec DocumentSpec,
		acts ProcessActivities,
		mode JobMode,
	) error
}

// Model describes what a connector's seeding pass reports.
type Model int

const (
	// ModelAll seeds every live document on every run, so documents a
	// complete run never reaches are gone from the repository.
	ModelAll Model = iota
	// ModelAddChange seeds only documents added or changed since the last
	// seed version.
	ModelAddChange
)

// ModelReporter is implemented by connectors whose model is not ModelAll.
type ModelReporter interface {
	Model() Model
}

// ModelOf returns the model of c, defaulting to ModelAll.
func ModelOf(c Connector) Model {
	if m, ok := c.(ModelReporter); ok {
		return m.Model()
	}
	return ModelAll
}
