package csws

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/version"
)

type categoryRef struct {
	id    int64
	name  string
	found bool
}

// metadataResolver maps category paths to category objects and back. A path
// has the form "<workspace>:<folder>/<category>"; without a workspace prefix
// the enterprise workspace is assumed.
type metadataResolver struct {
	b          *batch
	byPath     map[string]categoryRef
	pathByID   map[int64]string
	attrsByID  map[int64][]string
	workspaces map[string]int64
}

func newMetadataResolver(b *batch) *metadataResolver {
	return &metadataResolver{
		b:         b,
		byPath:    map[string]categoryRef{},
		pathByID:  map[int64]string{},
		attrsByID: map[int64][]string{},
		workspaces: map[string]int64{
			enterpriseWorkspace: b.c.enterpriseID,
			categoryWorkspace:   b.c.categoryID,
		},
	}
}

func splitWorkspace(path string) (string, string) {
	if i := strings.Index(path, ":"); i >= 0 {
		return path[:i], path[i+1:]
	}
	return enterpriseWorkspace, path
}

func (r *metadataResolver) workspaceRoot(ctx context.Context, name string) (int64, bool, error) {
	if id, ok := r.workspaces[name]; ok {
		return id, true, nil
	}
	n, err := invoke(ctx, r.b.c, "get root workspace "+name, func(ctx context.Context) (*Node, error) {
		return r.b.sess.RootWorkspace(ctx, name)
	})
	if err != nil || n == nil {
		return 0, false, err
	}
	r.workspaces[name] = n.ID
	return n.ID, true, nil
}

// category resolves a category path.
func (r *metadataResolver) category(ctx context.Context, path string) (categoryRef, error) {
	if ref, ok := r.byPath[path]; ok {
		return ref, nil
	}
	ws, remainder := splitWorkspace(path)
	ref := categoryRef{name: remainder}
	if remainder != "" {
		root, ok, err := r.workspaceRoot(ctx, ws)
		if err != nil {
			return ref, err
		}
		if ok {
			id, found, err := r.b.resolvePath(ctx, root, remainder, true)
			if err != nil {
				return ref, err
			}
			ref.id, ref.found = id, found
		}
	}
	r.byPath[path] = ref
	return ref, nil
}

func (r *metadataResolver) attributes(ctx context.Context, catID int64) ([]string, error) {
	if attrs, ok := r.attrsByID[catID]; ok {
		return attrs, nil
	}
	attrs, err := invoke(ctx, r.b.c, "get category attributes "+strconv.FormatInt(catID, 10), func(ctx context.Context) ([]string, error) {
		return r.b.sess.CategoryAttributes(ctx, catID)
	})
	if err != nil {
		return nil, err
	}
	r.attrsByID[catID] = attrs
	return attrs, nil
}

// attributesForPath lists the attribute names of the category at path, or
// nil when the path does not name a category.
func (r *metadataResolver) attributesForPath(ctx context.Context, path string) ([]string, error) {
	ref, err := r.category(ctx, path)
	if err != nil || !ref.found {
		return nil, err
	}
	return r.attributes(ctx, ref.id)
}

// objectPath returns "<workspace>:<path>" for an object, or "" when the
// object is not below a known workspace.
func (r *metadataResolver) objectPath(ctx context.Context, id int64) (string, error) {
	if p, ok := r.pathByID[id]; ok {
		return p, nil
	}
	roots := make(map[int64]string, len(r.workspaces))
	for name, rootID := range r.workspaces {
		roots[rootID] = name
	}
	var parts []string
	current := id
	for {
		if ws, ok := roots[current]; ok {
			for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
				parts[i], parts[j] = parts[j], parts[i]
			}
			p := ws + ":" + strings.Join(parts, "/")
			r.pathByID[id] = p
			return p, nil
		}
		n, err := r.b.node(ctx, current)
		if err != nil {
			return "", err
		}
		if n == nil || n.ParentID == nil {
			r.b.c.logger.Warn("object does not live in a known workspace", zap.Int64("id", id))
			return "", nil
		}
		parts = append(parts, n.Name)
		current = *n.ParentID
	}
}

// objectMetadataNames lists the packed category attributes of every category
// applied to an object.
func (r *metadataResolver) objectMetadataNames(ctx context.Context, objID int64) ([]string, error) {
	catIDs, err := invoke(ctx, r.b.c, "list categories of "+strconv.FormatInt(objID, 10), func(ctx context.Context) ([]int64, error) {
		return r.b.sess.ListCategories(ctx, objID)
	})
	if err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	for _, catID := range catIDs {
		path, err := r.objectPath(ctx, catID)
		if err != nil {
			return nil, err
		}
		if path == "" {
			continue
		}
		attrs, err := r.attributes(ctx, catID)
		if err != nil {
			return nil, err
		}
		for _, a := range attrs {
			set[version.PackCategoryAttribute(path, a)] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

// fields returns the values of the requested category attributes of node,
// keyed "<category path>.<attribute>".
func (r *metadataResolver) fields(ctx context.Context, node *Node, names []string) (map[string][]string, error) {
	wanted := map[string]map[string]bool{}
	var order []string
	for _, packed := range names {
		category, attribute := version.UnpackCategoryAttribute(packed)
		if wanted[category] == nil {
			wanted[category] = map[string]bool{}
			order = append(order, category)
		}
		wanted[category][attribute] = true
	}
	out := map[string][]string{}
	for _, category := range order {
		ref, err := r.category(ctx, category)
		if err != nil {
			return nil, err
		}
		if !ref.found {
			r.b.c.logger.Warn("metadata category does not exist", zap.String("category", category))
			continue
		}
		for _, g := range node.Metadata {
			key := g.Key
			if i := strings.Index(key, "."); i >= 0 {
				key = key[:i]
			}
			if key != strconv.FormatInt(ref.id, 10) {
				continue
			}
			for _, v := range g.Values {
				if !wanted[category][v.Description] || len(v.Values) == 0 {
					continue
				}
				name := ref.name + "." + v.Description
				out[name] = append(out[name], v.Values...)
			}
		}
	}
	return out, nil
}
