package meridio

import (
	"context"
	"sort"
)

// noneCategory is the placeholder title of an unset category.
const noneCategory = "<None>"

func selectableCategory(id int64) bool {
	return id == CategoryGlobal || id == CategoryMailMessage || id > customCategoryFloor
}

// DocumentProperties lists the metadata names a job may request: the fixed
// document properties and "category.property" for category properties.
func (c *Connector) DocumentProperties(ctx context.Context) ([]string, error) {
	defs, err := withSession(ctx, c, "get property definitions", func(ctx context.Context, sess Session) ([]PropertyDef, error) {
		return sess.PropertyDefs(ctx)
	})
	if err != nil {
		return nil, err
	}
	cats, err := withSession(ctx, c, "get categories", func(ctx context.Context, sess Session) ([]Category, error) {
		return sess.Categories(ctx)
	})
	if err != nil {
		return nil, err
	}
	titles := make(map[int64]string, len(cats))
	for _, cat := range cats {
		titles[cat.ID] = cat.Title
	}
	set := map[string]struct{}{}
	for _, d := range defs {
		switch d.TableName {
		case tableDocuments:
			set[d.DisplayName] = struct{}{}
		case tableCustomProps:
			if !selectableCategory(d.CategoryID) {
				continue
			}
			if title, ok := titles[d.CategoryID]; ok {
				set[metadataName(title, d.DisplayName)] = struct{}{}
			}
		}
	}
	return sortedKeys(set), nil
}

// CategoryNames lists the category titles usable in a SearchCategory node.
func (c *Connector) CategoryNames(ctx context.Context) ([]string, error) {
	cats, err := withSession(ctx, c, "get categories", func(ctx context.Context, sess Session) ([]Category, error) {
		return sess.Categories(ctx)
	})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, cat := range cats {
		if selectableCategory(cat.ID) && cat.Title != noneCategory {
			out = append(out, cat.Title)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ClassOrFolderContents lists the children of a file plan path. It returns
// nil when the path does not exist.
func (c *Connector) ClassOrFolderContents(ctx context.Context, path string) ([]ClassContent, error) {
	id, err := withSession(ctx, c, "find class or folder", func(ctx context.Context, sess Session) (int64, error) {
		return sess.FindClassOrFolder(ctx, path)
	})
	if err != nil || id < 0 {
		return nil, err
	}
	contents, err := withSession(ctx, c, "get class contents", func(ctx context.Context, sess Session) ([]ClassContent, error) {
		return sess.ClassContents(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(contents, func(i, j int) bool { return contents[i].Name < contents[j].Name })
	return contents, nil
}
