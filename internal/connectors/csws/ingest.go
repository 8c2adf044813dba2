package csws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/soap"
)

// Metadata field names.
const (
	FieldName         = "general_name"
	FieldDescription  = "general_description"
	FieldCreationDate = "general_creationdate"
	FieldModifyDate   = "general_modifydate"
	FieldParentID     = "general_parentid"
	FieldOwner        = "general_owner"
	FieldCreator      = "general_creator"
	FieldModifier     = "general_modifier"
)

// Fetch result codes.
const (
	ResultOK               = "OK"
	ResultNoViewURI        = "NOVIEWURI"
	ResultExcludedURL      = "EXCLUDED_URL"
	ResultObjectNotFound   = "OBJECTNOTFOUND"
	ResultVersionNotFound  = "VERSIONNOTFOUND"
	ResultExcludedMimeType = "EXCLUDED_MIMETYPE"
	ResultNoLength         = "DOCUMENTNOLENGTH"
	ResultExcludedLength   = "EXCLUDED_LENGTH"
	ResultExcludedDate     = "EXCLUDED_DATE"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

type ingestRequest struct {
	id            string
	objID         int64
	version       string
	allow         []string
	deny          []string
	owner         *int64
	categoryPaths []string
}

// fetchResult is the outcome recorded as a fetch activity.
type fetchResult struct {
	code  string
	desc  string
	bytes int64
}

func (c *Connector) ingest(
	ctx context.Context,
	b *batch,
	meta *metadataResolver,
	desc *description,
	req ingestRequest,
	acts crawler.ProcessActivities,
) error {
	start := c.now()
	res, err := c.fetchAndIngest(ctx, b, meta, desc, req, acts)
	if res.code != "" {
		act := crawler.Activity{
			Type:              ActivityFetch,
			Start:             start,
			Bytes:             res.bytes,
			Entity:            strconv.FormatInt(req.objID, 10),
			ResultCode:        res.code,
			ResultDescription: res.desc,
		}
		if recErr := acts.RecordActivity(ctx, act); recErr != nil && err == nil {
			err = recErr
		}
	}
	return err
}

func (c *Connector) fetchAndIngest(
	ctx context.Context,
	b *batch,
	meta *metadataResolver,
	desc *description,
	req ingestRequest,
	acts crawler.ProcessActivities,
) (fetchResult, error) {
	cfg, err := c.settings()
	if err != nil {
		return fetchResult{}, err
	}
	skip := func(code, msg string) (fetchResult, error) {
		c.logger.Debug("not ingesting document",
			zap.String("id", req.id), zap.String("result", code), zap.String("reason", msg))
		return fetchResult{code: code, desc: msg}, acts.NoDocument(ctx, req.id, req.version)
	}

	uri := cfg.viewURI(req.id)
	if uri == "" {
		return skip(ResultNoViewURI, "Document had no view URI")
	}
	ok, err := acts.CheckURLIndexable(ctx, uri)
	if err != nil {
		return fetchResult{}, err
	}
	if !ok {
		return skip(ResultExcludedURL, "URL ("+uri+") was rejected by output connector")
	}

	node, err := b.node(ctx, req.objID)
	if err != nil {
		return fetchResult{}, err
	}
	ver, err := b.version(ctx, req.objID, 0)
	if err != nil {
		return fetchResult{}, err
	}
	if node == nil {
		return skip(ResultObjectNotFound, "Object was not found in Csws")
	}
	if ver == nil {
		return skip(ResultVersionNotFound, "Version was not found in Csws")
	}

	ok, err = acts.CheckMimeTypeIndexable(ctx, ver.MimeType)
	if err != nil {
		return fetchResult{}, err
	}
	if !ok {
		return skip(ResultExcludedMimeType, "Mime type ("+ver.MimeType+") was rejected by output connector")
	}
	if ver.FileSize == nil {
		return skip(ResultNoLength, "Document had no length in Csws")
	}
	size := *ver.FileSize
	ok, err = acts.CheckLengthIndexable(ctx, size)
	if err != nil {
		return fetchResult{}, err
	}
	if !ok {
		return skip(ResultExcludedLength, fmt.Sprintf("Document length (%d) was rejected by output connector", size))
	}
	var modified time.Time
	if ver.ModifyDate != nil {
		modified = *ver.ModifyDate
	}
	ok, err = acts.CheckDateIndexable(ctx, modified)
	if err != nil {
		return fetchResult{}, err
	}
	if !ok {
		return skip(ResultExcludedDate, "Document date ("+modified.Format(time.RFC3339)+") was rejected by output connector")
	}

	doc, err := c.buildDocument(ctx, b, meta, desc, req, node, ver)
	if err != nil {
		return fetchResult{}, err
	}

	body, err := crawler.Call(ctx, func(ctx context.Context) (io.ReadCloser, error) {
		return b.sess.GetVersionContents(ctx, req.objID, 0)
	})
	if err != nil {
		return c.fetchFailure(ctx, req, err)
	}
	defer func() {
		_ = body.Close()
	}()
	doc.SetBinary(body, size)
	if err := acts.IngestDocument(ctx, req.id, req.version, uri, doc); err != nil {
		if _, ok := soap.AsTransportError(err); ok {
			return c.fetchFailure(ctx, req, err)
		}
		return fetchResult{}, err
	}
	return fetchResult{code: ResultOK, bytes: size}, nil
}

// fetchFailure records the failure class and turns transport errors into a
// service interruption.
func (c *Connector) fetchFailure(ctx context.Context, req ingestRequest, err error) (fetchResult, error) {
	if ctx.Err() != nil {
		return fetchResult{}, ctx.Err()
	}
	if _, ok := soap.AsFault(err); ok {
		return fetchResult{}, fmt.Errorf("get version contents of node %d: %w", req.objID, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = &soap.TransportError{Class: soap.ClassTimeout, Action: "GetVersionContents", Err: err}
	}
	res := fetchResult{
		code: strings.ToUpper(string(soap.Classify(err))),
		desc: err.Error(),
	}
	c.logger.Warn("fetching document content failed", zap.String("id", req.id), zap.Error(err))
	if _, ok := soap.AsTransportError(err); !ok {
		err = &soap.TransportError{Class: soap.Classify(err), Action: "GetVersionContents", Err: err}
	}
	return res, c.interruption("ingest "+req.id, err)
}

func (c *Connector) buildDocument(
	ctx context.Context,
	b *batch,
	meta *metadataResolver,
	desc *description,
	req ingestRequest,
	node *Node,
	ver *Version,
) (*crawler.RepositoryDocument, error) {
	doc := crawler.NewRepositoryDocument()
	doc.MimeType = ver.MimeType
	doc.FileName = ver.FileName
	doc.CreatedAt = node.CreateDate
	doc.ModifiedAt = ver.ModifyDate

	doc.AddField(FieldName, node.Name)
	if node.Comment != "" {
		doc.AddField(FieldDescription, node.Comment)
	}
	if node.CreateDate != nil {
		doc.AddField(FieldCreationDate, node.CreateDate.UTC().Format(isoMillis))
	}
	if ver.ModifyDate != nil {
		doc.AddField(FieldModifyDate, ver.ModifyDate.UTC().Format(isoMillis))
	}
	if node.ParentID != nil {
		doc.AddField(FieldParentID, strconv.FormatInt(*node.ParentID, 10))
	}
	for _, f := range []struct {
		field string
		id    *int64
	}{
		{FieldOwner, req.owner},
		{FieldCreator, node.CreatedBy},
		{FieldModifier, ver.Owner},
	} {
		name, err := b.memberName(ctx, f.id)
		if err != nil {
			return nil, err
		}
		if name != "" {
			doc.AddField(f.field, name)
		}
	}

	fields, err := meta.fields(ctx, node, req.categoryPaths)
	if err != nil {
		return nil, err
	}
	for name, values := range fields {
		doc.AddField(name, values...)
	}

	if req.allow != nil && req.deny != nil {
		doc.SetSecurity(req.allow, req.deny)
	}

	if desc.pathAttribute != "" {
		path, err := c.nodePath(ctx, b, desc, req.id)
		if err != nil {
			return nil, err
		}
		if path != "" {
			translated, err := desc.matchMap.Translate(path)
			if err != nil {
				return nil, fmt.Errorf("translate path %q: %w", path, err)
			}
			doc.AddField(desc.pathAttribute, translated)
		}
	}
	return doc, nil
}

// nodePath returns the names from the top container down to id joined by
// the path separator, or "" when an object on the way is missing.
func (c *Connector) nodePath(ctx context.Context, b *batch, desc *description, id string) (string, error) {
	if p, ok := desc.paths[id]; ok {
		return p, nil
	}
	_, objID, err := crawler.ParseObjectID(id)
	if err != nil {
		return "", err
	}
	node, err := b.node(ctx, objID)
	if err != nil {
		return "", err
	}
	if node == nil {
		c.logger.Warn("object on path does not exist", zap.String("id", id))
		return "", nil
	}
	path := node.Name
	if node.ParentID != nil {
		parent, err := c.nodePath(ctx, b, desc, crawler.FolderID(*node.ParentID))
		if err != nil || parent == "" {
			return "", err
		}
		path = parent + desc.pathSeparator + node.Name
	}
	desc.paths[id] = path
	return path, nil
}
