package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/progress"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

// jobActivities is the callback surface handed to connectors for one job.
type jobActivities struct {
	runner *Runner
	job    crawler.Job
	conn   store.Connection
	state  *jobState
	logger *zap.Logger
}

var (
	_ crawler.SeedActivities    = (*jobActivities)(nil)
	_ crawler.ProcessActivities = (*jobActivities)(nil)
)

func (a *jobActivities) now() time.Time {
	return a.runner.opts.Clock.Now()
}

func (a *jobActivities) document(id, outcome string, size int64) {
	a.runner.opts.Progress.Emit(progress.Event{
		JobID:      a.job.ID,
		Connection: a.conn.Name,
		TS:         a.now().UTC(),
		Stage:      progress.StageDocument,
		Entity:     id,
		Outcome:    outcome,
		Bytes:      size,
	})
}

func (a *jobActivities) RecordActivity(_ context.Context, act crawler.Activity) error {
	a.runner.opts.Progress.Emit(progress.Event{
		JobID:             a.job.ID,
		Connection:        a.conn.Name,
		TS:                a.now().UTC(),
		Stage:             progress.StageActivity,
		ActivityType:      act.Type,
		Start:             act.Start,
		ResultCode:        act.ResultCode,
		ResultDescription: act.ResultDescription,
		Entity:            act.Entity,
		Bytes:             act.Bytes,
	})
	return nil
}

// CheckJobStillActive fails once the job context is canceled.
func (a *jobActivities) CheckJobStillActive(ctx context.Context) error {
	if ctx.Err() != nil {
		return crawler.ErrJobStopped
	}
	return nil
}

func (a *jobActivities) AddSeedDocument(_ context.Context, id string) error {
	if a.state.enqueue(id) {
		a.state.update(func(c *crawler.JobCounters) { c.DocumentsSeeded++ })
	}
	return nil
}

func (a *jobActivities) AddDocumentReference(_ context.Context, id string) error {
	a.state.enqueue(id)
	return nil
}

// existing returns the stored versions of ids.
func (a *jobActivities) existing(ctx context.Context, ids []string) (crawler.ExistingVersions, error) {
	out := make(crawler.ExistingVersions, len(ids))
	for _, id := range ids {
		v, err := a.runner.opts.Versions.Get(ctx, a.conn.Name, id)
		if err != nil {
			return nil, fmt.Errorf("get version of %s: %w", id, err)
		}
		if v != "" {
			out[id] = v
		}
	}
	return out, nil
}

// blobPath is <prefix>/<connection>/<sha256(id)>.
func (a *jobActivities) blobPath(id string) (string, error) {
	hash, err := a.runner.opts.Hasher.Hash([]byte(id))
	if err != nil {
		return "", fmt.Errorf("hash document id: %w", err)
	}
	prefix := strings.Trim(a.runner.opts.Config.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", a.conn.Name, hash), nil
	}
	return fmt.Sprintf("%s/%s/%s", prefix, a.conn.Name, hash), nil
}

func (a *jobActivities) publish(ctx context.Context, event string, payload any) error {
	if a.runner.opts.Publisher == nil {
		return nil
	}
	if _, err := a.runner.opts.Publisher.Publish(ctx, event, payload); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

func (a *jobActivities) DeleteDocument(ctx context.Context, id string) error {
	path, err := a.blobPath(id)
	if err != nil {
		return err
	}
	if err := a.runner.opts.Blobs.DeleteObject(ctx, path); err != nil {
		return fmt.Errorf("delete content of %s: %w", id, err)
	}
	if err := a.runner.opts.Versions.Delete(ctx, a.conn.Name, id); err != nil {
		return fmt.Errorf("delete version of %s: %w", id, err)
	}
	if err := a.publish(ctx, EventDeleted, crawler.DeletedDocument{
		JobID:      a.job.ID,
		Connection: a.conn.Name,
		DocumentID: id,
		Deleted:    true,
	}); err != nil {
		return err
	}
	a.state.update(func(c *crawler.JobCounters) { c.DocumentsDeleted++ })
	a.document(id, progress.OutcomeDeleted, 0)
	return nil
}

// NoDocument records the version so the document is not fetched again
// until it changes.
func (a *jobActivities) NoDocument(ctx context.Context, id, version string) error {
	if err := a.runner.opts.Versions.Put(ctx, a.conn.Name, id, version); err != nil {
		return fmt.Errorf("save version of %s: %w", id, err)
	}
	a.state.update(func(c *crawler.JobCounters) { c.DocumentsSkipped++ })
	a.document(id, progress.OutcomeSkipped, 0)
	return nil
}

func (a *jobActivities) IngestDocument(ctx context.Context, id, version, uri string, doc *crawler.RepositoryDocument) error {
	var data []byte
	if doc.Content != nil {
		var err error
		if data, err = io.ReadAll(doc.Content); err != nil {
			return fmt.Errorf("read content of %s: %w", id, err)
		}
	}
	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	path, err := a.blobPath(id)
	if err != nil {
		return err
	}
	blobURI, err := a.runner.opts.Blobs.PutObject(ctx, path, mimeType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("store content of %s: %w", id, err)
	}
	if err := a.publish(ctx, EventIngested, crawler.IngestedDocument{
		JobID:      a.job.ID,
		Connection: a.conn.Name,
		DocumentID: id,
		Version:    version,
		URI:        uri,
		BlobURI:    blobURI,
		MimeType:   mimeType,
		FileName:   doc.FileName,
		Size:       int64(len(data)),
		Fields:     doc.Fields,
		ACL:        doc.ACL,
		DenyACL:    doc.DenyACL,
		Created:    doc.CreatedAt,
		Modified:   doc.ModifiedAt,
	}); err != nil {
		return err
	}
	if err := a.runner.opts.Versions.Put(ctx, a.conn.Name, id, version); err != nil {
		return fmt.Errorf("save version of %s: %w", id, err)
	}
	a.state.update(func(c *crawler.JobCounters) { c.DocumentsIngested++ })
	a.document(id, progress.OutcomeIngested, int64(len(data)))
	a.logger.Debug("document ingested", zap.String("id", id), zap.String("blob_uri", blobURI))
	return nil
}

func (a *jobActivities) CheckDocumentNeedsReindexing(ctx context.Context, id, version string) (bool, error) {
	stored, err := a.runner.opts.Versions.Get(ctx, a.conn.Name, id)
	if err != nil {
		return false, fmt.Errorf("get version of %s: %w", id, err)
	}
	if stored == version {
		a.document(id, progress.OutcomeUnchanged, 0)
		return false, nil
	}
	return true, nil
}

func (a *jobActivities) CheckURLIndexable(_ context.Context, uri string) (bool, error) {
	for _, prefix := range a.job.Parameters.Limits.ExcludeURLPrefixes {
		if strings.HasPrefix(uri, prefix) {
			return false, nil
		}
	}
	return true, nil
}

func (a *jobActivities) CheckMimeTypeIndexable(_ context.Context, mimeType string) (bool, error) {
	allowed := a.job.Parameters.Limits.MimeTypes
	if len(allowed) == 0 {
		return true, nil
	}
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(base)
	for _, m := range allowed {
		if strings.EqualFold(m, base) {
			return true, nil
		}
	}
	return false, nil
}

func (a *jobActivities) CheckLengthIndexable(_ context.Context, length int64) (bool, error) {
	limit := a.job.Parameters.Limits.MaxLength
	return limit <= 0 || length <= limit, nil
}

func (a *jobActivities) CheckDateIndexable(_ context.Context, modified time.Time) (bool, error) {
	after := a.job.Parameters.Limits.ModifiedAfter
	if after == nil || modified.IsZero() {
		return true, nil
	}
	return !modified.Before(*after), nil
}
