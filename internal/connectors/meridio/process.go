package meridio

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/soap"
	"github.com/JakeFAU/lcf-connectors/internal/version"
)

// ProcessDocuments versions the batch with one search, deletes what the
// search no longer finds and ingests what changed.
func (c *Connector) ProcessDocuments(
	ctx context.Context,
	ids []string,
	_ crawler.ExistingVersions,
	spec crawler.DocumentSpec,
	acts crawler.ProcessActivities,
	_ crawler.JobMode,
) error {
	cfg, err := c.settings()
	if err != nil {
		return err
	}
	docIDs := make([]int64, len(ids))
	for i, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("bad document identifier %q: %w", id, err)
		}
		docIDs[i] = n
	}

	desc := describe(spec)
	names := desc.metadata
	if desc.allMetadata {
		if names, err = c.DocumentProperties(ctx); err != nil {
			return err
		}
	}
	forced := desc.acls()
	prefix := c.versionPrefix(desc, names, forced)

	crit, err := c.buildCriteria(ctx, desc, searchWindow{}, docIDs, nil)
	if err != nil {
		return err
	}
	stamps := map[int64]string{}
	err = c.search(ctx, crit, maxDocumentBatch, func(hits []SearchHit) error {
		for _, h := range hits {
			stamps[h.DocID] = h.StrValue
		}
		return nil
	})
	if err != nil {
		return err
	}

	versions := map[int64]string{}
	var needed []int64
	for i, id := range ids {
		stamp, ok := stamps[docIDs[i]]
		if !ok {
			c.logger.Debug("document no longer in the search set, deleting", zap.String("id", id))
			if err := acts.DeleteDocument(ctx, id); err != nil {
				return err
			}
			continue
		}
		v := prefix + stamp + "_" + cfg.urlVersionBase
		versions[docIDs[i]] = v
		changed, err := acts.CheckDocumentNeedsReindexing(ctx, id, v)
		if err != nil {
			return err
		}
		if changed {
			needed = append(needed, docIDs[i])
		}
	}
	if len(needed) == 0 {
		return nil
	}

	metadata, err := c.fetchMetadata(ctx, desc, needed, names)
	if err != nil {
		return err
	}
	for _, docID := range needed {
		if err := acts.CheckJobStillActive(ctx); err != nil {
			return err
		}
		req := documentRequest{
			id:       strconv.FormatInt(docID, 10),
			docID:    docID,
			version:  versions[docID],
			names:    names,
			metadata: metadata[docID],
			forced:   forced,
		}
		if err := c.processDocument(ctx, cfg, desc, req, acts); err != nil {
			return err
		}
	}
	return nil
}

// versionPrefix is the part of the version string derived from the job
// rather than the document.
func (c *Connector) versionPrefix(desc *description, names, acls []string) string {
	var vb version.Builder
	vb.List(names, '+')
	if acls == nil {
		vb.Char('-')
	} else {
		vb.Char('+').List(acls, '+').Char('+').Value(DefaultDenyToken, '+')
	}
	if desc.pathAttribute != "" {
		vb.Char('+').Value(desc.pathAttribute, '+').Value(desc.matchMap.String(), '+')
	} else {
		vb.Char('-')
	}
	return vb.String()
}

// fetchMetadata searches once for every requested property of every
// needed document. Each document contributes one hit per result, in
// request order.
func (c *Connector) fetchMetadata(ctx context.Context, desc *description, docIDs []int64, names []string) (map[int64]map[string]string, error) {
	out := map[int64]map[string]string{}
	if len(names) == 0 {
		return out, nil
	}
	results, resultNames, err := c.resultDefs(ctx, names)
	if err != nil || len(results) == 0 {
		return out, err
	}
	crit, err := c.buildCriteria(ctx, desc, searchWindow{}, docIDs, results)
	if err != nil {
		return nil, err
	}
	seen := map[int64]int{}
	err = c.search(ctx, crit, len(docIDs)*len(results), func(hits []SearchHit) error {
		for _, h := range hits {
			n := seen[h.DocID]
			seen[h.DocID] = n + 1
			if n >= len(resultNames) || h.StrValue == "" {
				continue
			}
			props := out[h.DocID]
			if props == nil {
				props = map[string]string{}
				out[h.DocID] = props
			}
			props[resultNames[n]] = h.StrValue
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type documentRequest struct {
	id       string
	docID    int64
	version  string
	names    []string
	metadata map[string]string
	forced   []string
}

func (c *Connector) processDocument(
	ctx context.Context,
	cfg *settings,
	desc *description,
	req documentRequest,
	acts crawler.ProcessActivities,
) error {
	noDocument := func(reason string) error {
		c.logger.Debug("not ingesting document", zap.String("id", req.id), zap.String("reason", reason))
		return acts.NoDocument(ctx, req.id, req.version)
	}

	data, err := withSession(ctx, c, "get document data", func(ctx context.Context, sess Session) (*DocumentData, error) {
		return sess.DocumentData(ctx, req.docID)
	})
	if err != nil {
		return err
	}
	if data == nil {
		return noDocument("no document data")
	}
	if len(data.Documents) != 1 {
		return noDocument(fmt.Sprintf("document data has %d rows", len(data.Documents)))
	}
	info := data.Documents[0]

	doc := crawler.NewRepositoryDocument()
	for _, name := range req.names {
		if v, ok := req.metadata[name]; ok {
			doc.AddField(name, v)
		}
	}

	if desc.pathAttribute != "" {
		paths, err := c.paths(ctx, desc, info)
		if err != nil {
			return err
		}
		if len(paths) > 0 {
			doc.AddField(desc.pathAttribute, paths...)
		}
	}

	switch {
	case req.forced == nil:
	case len(req.forced) > 0:
		doc.SetSecurity(req.forced, []string{DefaultDenyToken})
	default:
		allow, deny, err := c.nativeACL(ctx, info, data.ACL)
		if err != nil {
			return err
		}
		doc.SetSecurity(allow, deny)
	}

	content, err := withSession(ctx, c, "get latest version", func(ctx context.Context, sess Session) (*Content, error) {
		return sess.LatestVersion(ctx, req.docID)
	})
	if err != nil {
		return err
	}
	if content == nil {
		return noDocument("no latest version file")
	}
	defer func() {
		_ = content.Body.Close()
	}()
	ok, err := acts.CheckLengthIndexable(ctx, content.Size)
	if err != nil {
		return err
	}
	if !ok {
		return noDocument(fmt.Sprintf("length %d rejected", content.Size))
	}
	doc.SetBinary(content.Body, content.Size)
	uri := cfg.urlBase + req.id
	if err := acts.IngestDocument(ctx, req.id, req.version, uri, doc); err != nil {
		if _, ok := soap.AsTransportError(err); ok {
			return c.interruption("read content of "+req.id, err)
		}
		return err
	}
	return nil
}

func isRecord(recordType int) bool {
	return recordType == RecordTypeRecord || recordType == RecordTypeVitalRecord
}

// paths returns the translated filing locations of a document. Records are
// filed by part; plain documents by their document parts.
func (c *Connector) paths(ctx context.Context, desc *description, info DocumentInfo) ([]string, error) {
	op := "get document parts"
	list := func(ctx context.Context, sess Session) ([]Part, error) {
		return sess.DocumentParts(ctx, info.ID)
	}
	if info.RecordType == RecordTypeDocumentRecord || isRecord(info.RecordType) {
		op = "get record parts"
		list = func(ctx context.Context, sess Session) ([]Part, error) {
			return sess.RecordParts(ctx, info.ID)
		}
	}
	parts, err := withSession(ctx, c, op, list)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		translated, err := desc.matchMap.Translate(p.ParentTitlePath)
		if err != nil {
			return nil, fmt.Errorf("translate path %q: %w", p.ParentTitlePath, err)
		}
		out = append(out, translated)
	}
	return out, nil
}

// nativeACL converts the document access control list into tokens. Users
// are "U<id>" and groups "G<id>"; the owner is always allowed.
func (c *Connector) nativeACL(ctx context.Context, info DocumentInfo, entries []AccessControl) ([]string, []string, error) {
	allow := map[string]struct{}{}
	deny := map[string]struct{}{DefaultDenyToken: {}}
	for _, e := range entries {
		token := "U" + strconv.FormatInt(e.UserID, 10)
		if e.GroupID > 0 {
			token = "G" + strconv.FormatInt(e.GroupID, 10)
		}
		if e.Permission == 0 {
			deny[token] = struct{}{}
		} else {
			allow[token] = struct{}{}
		}
	}
	if isRecord(info.RecordType) {
		rec, err := withSession(ctx, c, "get record", func(ctx context.Context, sess Session) (*Record, error) {
			return sess.Record(ctx, info.ID)
		})
		if err != nil {
			return nil, nil, err
		}
		if rec != nil {
			if rec.GroupOwnerID > 0 {
				allow["G"+strconv.FormatInt(rec.GroupOwnerID, 10)] = struct{}{}
			} else if rec.OwnerID > 0 {
				allow["U"+strconv.FormatInt(rec.OwnerID, 10)] = struct{}{}
			}
		}
	} else {
		allow["U"+strconv.FormatInt(info.OwnerID, 10)] = struct{}{}
	}
	return sortedKeys(allow), sortedKeys(deny), nil
}
