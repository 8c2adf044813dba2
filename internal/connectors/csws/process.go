package csws

import (
	"context"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/version"
)

var childColumns = []string{"OTDataID", "OTSubTypeName", "OTName"}

// ProcessDocuments lists folder children and versions and ingests documents.
func (c *Connector) ProcessDocuments(
	ctx context.Context,
	ids []string,
	_ crawler.ExistingVersions,
	spec crawler.DocumentSpec,
	acts crawler.ProcessActivities,
	_ crawler.JobMode,
) error {
	sess, err := c.getSession(ctx)
	if err != nil {
		return err
	}
	cfg, err := c.settings()
	if err != nil {
		return err
	}
	b := newBatch(c, sess)
	meta := newMetadataResolver(b)
	desc, err := describe(ctx, spec, meta.attributesForPath)
	if err != nil {
		return err
	}
	forced := desc.acls()

	var metadataPart string
	if !desc.allMetadata {
		var vb version.Builder
		metadataPart = vb.List(desc.metadata, '+').String()
	}

	for _, id := range ids {
		if err := acts.CheckJobStillActive(ctx); err != nil {
			return err
		}
		prefix, objID, err := crawler.ParseObjectID(id)
		if err != nil {
			return err
		}
		if _, err := c.getSession(ctx); err != nil {
			return err
		}

		node, err := b.node(ctx, objID)
		if err != nil {
			return err
		}
		if node == nil {
			c.logger.Debug("object has no information, deleting", zap.Int64("id", objID))
			if err := acts.DeleteDocument(ctx, id); err != nil {
				return err
			}
			continue
		}
		if !node.Permissions.SeeContents {
			c.logger.Debug("crawl user cannot see contents, deleting", zap.Int64("id", objID))
			if err := acts.DeleteDocument(ctx, id); err != nil {
				return err
			}
			continue
		}
		rights, err := b.rights(ctx, objID)
		if err != nil {
			return err
		}
		if rights == nil {
			c.logger.Debug("could not get rights, deleting", zap.Int64("id", objID))
			if err := acts.DeleteDocument(ctx, id); err != nil {
				return err
			}
			continue
		}

		if prefix == crawler.FolderPrefix {
			if err := c.processFolder(ctx, b, objID, desc.filter, spec, acts); err != nil {
				return err
			}
			continue
		}

		var vb version.Builder
		categoryPaths := desc.metadata
		if desc.allMetadata {
			categoryPaths, err = meta.objectMetadataNames(ctx, objID)
			if err != nil {
				return err
			}
			vb.List(categoryPaths, '+')
		} else {
			vb.Raw(metadataPart)
		}

		var allow, deny []string
		switch {
		case forced == nil:
			vb.Char('-')
		default:
			allow = forced
			if len(forced) == 0 {
				allow = nativeTokens(rights)
				sort.Strings(allow)
			}
			deny = []string{DefaultDenyToken}
			vb.Char('+').List(allow, '+').Value(DefaultDenyToken, '+')
		}

		var modified int64
		if node.ModifyDate != nil {
			modified = node.ModifyDate.UnixMilli()
		}
		vb.Raw(strconv.FormatInt(modified, 10))
		vb.Raw("=").Raw(desc.pathVersion())
		vb.Raw("_").Raw(cfg.viewBasePath)
		versionString := vb.String()

		needed, err := acts.CheckDocumentNeedsReindexing(ctx, id, versionString)
		if err != nil {
			return err
		}
		if !needed {
			continue
		}
		var owner *int64
		if rights.OwnerRight != nil {
			owner = &rights.OwnerRight.RightID
		}
		doc := ingestRequest{
			id:            id,
			objID:         objID,
			version:       versionString,
			allow:         allow,
			deny:          deny,
			owner:         owner,
			categoryPaths: categoryPaths,
		}
		if err := c.ingest(ctx, b, meta, desc, doc, acts); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) processFolder(
	ctx context.Context,
	b *batch,
	objID int64,
	filter string,
	spec crawler.DocumentSpec,
	acts crawler.ProcessActivities,
) error {
	rows, err := b.search(ctx, objID, childColumns, filter)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		childID, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			c.logger.Warn("skipping child with bad id", zap.String("id", row[0]))
			continue
		}
		subType, name := row[1], row[2]
		var ref string
		switch subType {
		case "Project":
			ref = crawler.FolderID(-childID)
		case "Folder", "CompoundDocument":
			ref = crawler.FolderID(childID)
		default:
			if !includeFile(name, spec) {
				c.logger.Debug("child excluded by filespec", zap.Int64("id", childID))
				continue
			}
			ref = crawler.DocumentIDFor(childID)
		}
		if err := acts.AddDocumentReference(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// nativeTokens turns node rights into access tokens. A right counts when it
// grants both See and SeeContents.
func nativeTokens(r *NodeRights) []string {
	tokens := []string{}
	if grants(r.OwnerRight) {
		tokens = append(tokens, strconv.FormatInt(r.OwnerRight.RightID, 10))
	}
	if grants(r.OwnerGroupRight) {
		tokens = append(tokens, strconv.FormatInt(r.OwnerGroupRight.RightID, 10))
	}
	if grants(r.PublicRight) {
		tokens = append(tokens, "SYSTEM")
	}
	for i := range r.ACLRights {
		if grants(&r.ACLRights[i]) {
			tokens = append(tokens, strconv.FormatInt(r.ACLRights[i].RightID, 10))
		}
	}
	return tokens
}

func grants(r *NodeRight) bool {
	return r != nil && r.Permissions.See && r.Permissions.SeeContents
}
