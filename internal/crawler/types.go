package crawler

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobMode tells a connector how the job is being run.
type JobMode int

// Supported job modes.
const (
	JobModeOnce JobMode = iota
	JobModeContinuous
)

func (m JobMode) String() string {
	if m == JobModeContinuous {
		return "continuous"
	}
	return "once"
}

// IndexLimits are the job-level gates behind the Check*Indexable activities.
type IndexLimits struct {
	// MaxLength rejects documents larger than this many bytes when > 0.
	MaxLength int64 `json:"max_length,omitempty" mapstructure:"max_length"`
	// MimeTypes restricts ingestion to these types when non-empty.
	MimeTypes []string `json:"mime_types,omitempty" mapstructure:"mime_types"`
	// ExcludeURLPrefixes rejects view URIs starting with any of these.
	ExcludeURLPrefixes []string `json:"exclude_url_prefixes,omitempty" mapstructure:"exclude_url_prefixes"`
	// ModifiedAfter rejects documents last modified before this instant.
	ModifiedAfter *time.Time `json:"modified_after,omitempty" mapstructure:"modified_after"`
}

// JobParameters captures what a client asks the runner to crawl.
type JobParameters struct {
	Connection string       `json:"connection" mapstructure:"connection" validate:"required"`
	Spec       DocumentSpec `json:"spec" mapstructure:"spec"`
	Mode       JobMode      `json:"mode" mapstructure:"mode"`
	Limits     IndexLimits  `json:"limits" mapstructure:"limits"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID          string        `json:"id"`
	Status      JobStatus     `json:"status"`
	Submitted   time.Time     `json:"submitted_at"`
	Started     *time.Time    `json:"started_at,omitempty"`
	Finished    *time.Time    `json:"finished_at,omitempty"`
	ErrorText   string        `json:"error_text,omitempty"`
	SeedVersion string        `json:"seed_version,omitempty"`
	Parameters  JobParameters `json:"parameters"`
	Counters    JobCounters   `json:"counters"`
}

// JobCounters tracks per-job document outcomes.
type JobCounters struct {
	DocumentsSeeded   int `json:"documents_seeded"`
	DocumentsIngested int `json:"documents_ingested"`
	DocumentsDeleted  int `json:"documents_deleted"`
	DocumentsSkipped  int `json:"documents_skipped"`
	Retries           int `json:"retries"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Attempt   int
	Submitted int64
}

// IngestedDocument is published for every document handed to the index.
type IngestedDocument struct {
	JobID      string              `json:"job_id"`
	Connection string              `json:"connection"`
	DocumentID string              `json:"document_id"`
	Version    string              `json:"version"`
	URI        string              `json:"uri"`
	BlobURI    string              `json:"blob_uri"`
	MimeType   string              `json:"mime_type,omitempty"`
	FileName   string              `json:"file_name,omitempty"`
	Size       int64               `json:"size"`
	Fields     map[string][]string `json:"fields,omitempty"`
	ACL        []string            `json:"acl,omitempty"`
	DenyACL    []string            `json:"deny_acl,omitempty"`
	Created    *time.Time          `json:"created_at,omitempty"`
	Modified   *time.Time          `json:"modified_at,omitempty"`
}

// DeletedDocument is published when a connector removes a document.
type DeletedDocument struct {
	JobID      string `json:"job_id"`
	Connection string `json:"connection"`
	DocumentID string `json:"document_id"`
	Deleted    bool   `json:"deleted"`
}
