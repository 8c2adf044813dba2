package meridio

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	propMarkedForDelete  = "PROP_markedForDelete"
	propLastModifiedDate = "PROP_lastModifiedDate"
	propDocID            = "PROP_documentId"
	propRecordType       = "PROP_recordType"
	propCategoryID       = "PROP_categoryId"
	propMimeType         = "PROP_W_mimeType"

	tableDocuments   = "DOCUMENTS"
	tableCustomProps = "DOCUMENT_CUSTOMPROPS"
)

// Fixed PropertyOp ids. Op 1 is the top-level AND; the others are ORs
// hung beneath it when a filter has several values.
const (
	opRoot       = 1
	opCategories = 2
	opMimeTypes  = 3
	opDocIDs     = 4
)

// searchWindow restricts hits by last-modified date. A zero start means
// no date restriction.
type searchWindow struct {
	start, end time.Time
}

// criteriaBuilder assembles search criteria for one description.
type criteriaBuilder struct {
	c    *Connector
	desc *description
	next int
	crit SearchCriteria
}

func (b *criteriaBuilder) term(t SearchTerm) {
	b.next++
	t.ID = b.next
	b.crit.Terms = append(b.crit.Terms, t)
}

// buildCriteria translates the description, the window and an optional id
// restriction into a search. results names the metadata to return; when
// empty the last modified date is returned so each hit carries a version.
func (c *Connector) buildCriteria(
	ctx context.Context,
	desc *description,
	window searchWindow,
	ids []int64,
	results []ResultDef,
) (SearchCriteria, error) {
	b := &criteriaBuilder{c: c, desc: desc}
	b.term(SearchTerm{
		ParentID:     opRoot,
		PropertyName: propMarkedForDelete,
		CategoryID:   CategoryGlobal,
		TermType:     TermNumber,
		Relation:     NumEqual,
		NumValue:     0,
	})
	if !window.start.IsZero() {
		b.term(SearchTerm{
			ParentID:     opRoot,
			PropertyName: propLastModifiedDate,
			CategoryID:   CategoryGlobal,
			TermType:     TermDate,
			Relation:     DateOnOrAfter,
			DateValue:    window.start,
		})
		b.term(SearchTerm{
			ParentID:     opRoot,
			PropertyName: propLastModifiedDate,
			CategoryID:   CategoryGlobal,
			TermType:     TermDate,
			Relation:     DateBefore,
			DateValue:    window.end,
		})
	}
	// Every search needs at least one positive term.
	b.term(SearchTerm{
		ParentID:     opRoot,
		PropertyName: propDocID,
		CategoryID:   CategoryGlobal,
		TermType:     TermNumber,
		Relation:     NumGreater,
		NumValue:     0,
	})
	for _, id := range ids {
		parent := opRoot
		if len(ids) > 1 {
			parent = opDocIDs
		}
		b.term(SearchTerm{
			ParentID:     parent,
			PropertyName: propDocID,
			CategoryID:   CategoryGlobal,
			TermType:     TermNumber,
			Relation:     NumEqual,
			NumValue:     id,
		})
	}
	if len(ids) > 1 {
		b.crit.Ops = append(b.crit.Ops, PropertyOp{ID: opDocIDs, ParentID: opRoot, Operator: OpOr})
	}
	b.crit.Ops = append(b.crit.Ops, PropertyOp{ID: opRoot, Operator: OpAnd})

	b.searchOn()
	if err := b.containers(ctx); err != nil {
		return SearchCriteria{}, err
	}
	if err := b.categories(ctx); err != nil {
		return SearchCriteria{}, err
	}
	b.mimeTypes()

	b.crit.Results = results
	if len(b.crit.Results) == 0 {
		b.crit.Results = []ResultDef{{PropertyName: propLastModifiedDate, CategoryID: CategoryGlobal}}
	}
	return b.crit, nil
}

func (b *criteriaBuilder) searchOn() {
	recordType := func(rel int, v int64) {
		b.term(SearchTerm{
			ParentID:     opRoot,
			PropertyName: propRecordType,
			CategoryID:   CategoryGlobal,
			TermType:     TermNumber,
			Relation:     rel,
			NumValue:     v,
		})
	}
	switch b.desc.searchOn {
	case SearchDocumentsOnly:
		recordType(NumNotEqual, RecordTypeDocumentRecord)
		recordType(NumNotEqual, RecordTypeRecord)
		recordType(NumNotEqual, RecordTypeVitalRecord)
	case SearchRecordsOnly:
		recordType(NumGreaterOrEqual, RecordTypeRecord)
	}
}

func (b *criteriaBuilder) containers(ctx context.Context) error {
	for _, path := range b.desc.paths {
		id, err := withSession(ctx, b.c, "find class or folder", func(ctx context.Context, sess Session) (int64, error) {
			return sess.FindClassOrFolder(ctx, path)
		})
		if err != nil {
			return err
		}
		switch {
		case id > 0:
			b.crit.Containers = append(b.crit.Containers, id)
		case id < 0:
			b.c.logger.Warn("search path not found, ignoring", zap.String("path", path))
		}
	}
	return nil
}

func (b *criteriaBuilder) categories(ctx context.Context) error {
	if len(b.desc.categories) == 0 {
		return nil
	}
	cats, err := withSession(ctx, b.c, "get categories", func(ctx context.Context, sess Session) ([]Category, error) {
		return sess.Categories(ctx)
	})
	if err != nil {
		return err
	}
	byTitle := make(map[string]int64, len(cats))
	for _, cat := range cats {
		byTitle[cat.Title] = cat.ID
	}
	parent := opRoot
	if len(b.desc.categories) > 1 {
		parent = opCategories
		b.crit.Ops = append(b.crit.Ops, PropertyOp{ID: opCategories, ParentID: opRoot, Operator: OpOr})
	}
	for _, title := range b.desc.categories {
		id, ok := byTitle[title]
		if !ok {
			b.c.logger.Warn("search category not found, ignoring", zap.String("category", title))
			continue
		}
		b.term(SearchTerm{
			ParentID:     parent,
			PropertyName: propCategoryID,
			CategoryID:   CategoryGlobal,
			TermType:     TermNumber,
			Relation:     NumEqual,
			NumValue:     id,
		})
	}
	return nil
}

func (b *criteriaBuilder) mimeTypes() {
	if len(b.desc.mimeTypes) == 0 {
		return
	}
	parent := opRoot
	if len(b.desc.mimeTypes) > 1 {
		parent = opMimeTypes
		b.crit.Ops = append(b.crit.Ops, PropertyOp{ID: opMimeTypes, ParentID: opRoot, Operator: OpOr})
	}
	for _, mt := range b.desc.mimeTypes {
		b.term(SearchTerm{
			ParentID:          parent,
			PropertyName:      propMimeType,
			CategoryID:        CategoryGlobal,
			TermType:          TermString,
			Relation:          NumEqual,
			StrValue:          mt,
			IsVersionProperty: true,
		})
	}
}

// resultDefs maps metadata names to result properties. Names that match no
// property definition are dropped, and the returned names line up with the
// definitions.
func (c *Connector) resultDefs(ctx context.Context, names []string) ([]ResultDef, []string, error) {
	if len(names) == 0 {
		return nil, nil, nil
	}
	defs, err := withSession(ctx, c, "get property definitions", func(ctx context.Context, sess Session) ([]PropertyDef, error) {
		return sess.PropertyDefs(ctx)
	})
	if err != nil {
		return nil, nil, err
	}
	cats, err := withSession(ctx, c, "get categories", func(ctx context.Context, sess Session) ([]Category, error) {
		return sess.Categories(ctx)
	})
	if err != nil {
		return nil, nil, err
	}
	catIDs := make(map[string]int64, len(cats))
	for _, cat := range cats {
		catIDs[cat.Title] = cat.ID
	}

	var (
		results []ResultDef
		kept    []string
	)
	for _, name := range names {
		category, property, qualified := strings.Cut(name, ".")
		if !qualified {
			property, category = category, ""
		}
		def, ok := lookupProperty(defs, catIDs, category, property)
		if !ok {
			c.logger.Warn("metadata property not found, skipping", zap.String("name", name))
			continue
		}
		results = append(results, def)
		kept = append(kept, name)
	}
	return results, kept, nil
}

func lookupProperty(defs []PropertyDef, catIDs map[string]int64, category, property string) (ResultDef, bool) {
	for _, d := range defs {
		if d.TableName == tableDocuments && d.DisplayName == property {
			return ResultDef{PropertyName: d.ColumnName, CategoryID: CategoryGlobal}, true
		}
	}
	if category == "" {
		return ResultDef{}, false
	}
	catID, ok := catIDs[category]
	if !ok {
		return ResultDef{}, false
	}
	for _, d := range defs {
		if d.TableName == tableCustomProps && d.CategoryID == catID && d.DisplayName == property {
			return ResultDef{PropertyName: d.ColumnName, CategoryID: catID}, true
		}
	}
	return ResultDef{}, false
}

// search walks every page of results. visit is called once per page.
func (c *Connector) search(ctx context.Context, crit SearchCriteria, pageSize int, visit func([]SearchHit) error) error {
	start := 1
	for {
		res, err := withSession(ctx, c, "search documents", func(ctx context.Context, sess Session) (*SearchResults, error) {
			return sess.SearchDocuments(ctx, crit, pageSize, start)
		})
		if err != nil {
			return err
		}
		if res == nil || res.ReturnedHits == 0 {
			return nil
		}
		c.logger.Debug("search page",
			zap.Int("start", start),
			zap.Int("returned", res.ReturnedHits),
			zap.Int("total", res.TotalHits))
		if err := visit(res.Hits); err != nil {
			return err
		}
		start += res.ReturnedHits
		if start > res.TotalHits {
			return nil
		}
	}
}
