// Package crawlertest provides an in-memory implementation of the connector
// activity interfaces for connector tests.
package crawlertest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
)

// Ingested is a document handed to IngestDocument with its content read.
type Ingested struct {
	ID      string
	Version string
	URI     string
	Doc     *crawler.RepositoryDocument
	Content []byte
}

// Activities records every callback a connector makes.
type Activities struct {
	mu sync.Mutex

	// Versions seeds CheckDocumentNeedsReindexing; a document needs
	// reindexing when its stored version differs.
	Versions map[string]string
	// Stopped makes CheckJobStillActive fail.
	Stopped bool
	// IngestErr is returned by IngestDocument after reading content.
	IngestErr error

	RejectURL      bool
	RejectMimeType bool
	MaxLength      int64
	ModifiedAfter  time.Time

	Seeds      []string
	References []string
	Deleted    []string
	NoDocs     map[string]string
	Ingested   []Ingested
	Recorded   []crawler.Activity
}

// New returns an empty recorder.
func New() *Activities {
	return &Activities{
		Versions: map[string]string{},
		NoDocs:   map[string]string{},
	}
}

var (
	_ crawler.SeedActivities    = (*Activities)(nil)
	_ crawler.ProcessActivities = (*Activities)(nil)
)

func (a *Activities) RecordActivity(_ context.Context, act crawler.Activity) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Recorded = append(a.Recorded, act)
	return nil
}

func (a *Activities) CheckJobStillActive(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Stopped {
		return crawler.ErrJobStopped
	}
	return nil
}

func (a *Activities) AddSeedDocument(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Seeds = append(a.Seeds, id)
	return nil
}

func (a *Activities) AddDocumentReference(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.References = append(a.References, id)
	return nil
}

func (a *Activities) DeleteDocument(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Deleted = append(a.Deleted, id)
	delete(a.Versions, id)
	return nil
}

func (a *Activities) NoDocument(_ context.Context, id, version string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.NoDocs[id] = version
	a.Versions[id] = version
	return nil
}

func (a *Activities) IngestDocument(_ context.Context, id, version, uri string, doc *crawler.RepositoryDocument) error {
	var content []byte
	if doc.Content != nil {
		data, err := io.ReadAll(doc.Content)
		if err != nil {
			return err
		}
		content = data
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.IngestErr != nil {
		return a.IngestErr
	}
	a.Ingested = append(a.Ingested, Ingested{ID: id, Version: version, URI: uri, Doc: doc, Content: content})
	a.Versions[id] = version
	return nil
}

func (a *Activities) CheckDocumentNeedsReindexing(_ context.Context, id, version string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Versions[id] != version, nil
}

func (a *Activities) CheckURLIndexable(context.Context, string) (bool, error) {
	return !a.RejectURL, nil
}

func (a *Activities) CheckMimeTypeIndexable(context.Context, string) (bool, error) {
	return !a.RejectMimeType, nil
}

func (a *Activities) CheckLengthIndexable(_ context.Context, length int64) (bool, error) {
	return a.MaxLength <= 0 || length <= a.MaxLength, nil
}

func (a *Activities) CheckDateIndexable(_ context.Context, modified time.Time) (bool, error) {
	return a.ModifiedAfter.IsZero() || !modified.Before(a.ModifiedAfter), nil
}

// Codes returns the result codes of recorded activities of type actType.
func (a *Activities) Codes(actType string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, act := range a.Recorded {
		if act.Type == actType {
			out = append(out, act.ResultCode)
		}
	}
	return out
}
