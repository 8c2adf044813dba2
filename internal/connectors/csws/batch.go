package csws

import (
	"context"
	"strconv"
)

type versionKey struct {
	id      int64
	version int64
}

// batch caches lookups for the duration of one seeding or processing call.
type batch struct {
	c        *Connector
	sess     Session
	nodes    map[int64]*Node
	versions map[versionKey]*Version
	members  map[int64]*Member
}

func newBatch(c *Connector, sess Session) *batch {
	return &batch{
		c:        c,
		sess:     sess,
		nodes:    map[int64]*Node{},
		versions: map[versionKey]*Version{},
		members:  map[int64]*Member{},
	}
}

// node returns nil when the object does not exist.
func (b *batch) node(ctx context.Context, id int64) (*Node, error) {
	if n, ok := b.nodes[id]; ok {
		return n, nil
	}
	n, err := invoke(ctx, b.c, "get node "+strconv.FormatInt(id, 10), func(ctx context.Context) (*Node, error) {
		return b.sess.GetNode(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	b.nodes[id] = n
	return n, nil
}

func (b *batch) version(ctx context.Context, id, version int64) (*Version, error) {
	key := versionKey{id: id, version: version}
	if v, ok := b.versions[key]; ok {
		return v, nil
	}
	v, err := invoke(ctx, b.c, "get version of node "+strconv.FormatInt(id, 10), func(ctx context.Context) (*Version, error) {
		return b.sess.GetVersion(ctx, id, version)
	})
	if err != nil {
		return nil, err
	}
	b.versions[key] = v
	return v, nil
}

func (b *batch) member(ctx context.Context, id int64) (*Member, error) {
	if m, ok := b.members[id]; ok {
		return m, nil
	}
	m, err := invoke(ctx, b.c, "get member "+strconv.FormatInt(id, 10), func(ctx context.Context) (*Member, error) {
		return b.sess.GetMember(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	b.members[id] = m
	return m, nil
}

// memberName returns "" when id is nil or the member is unknown.
func (b *batch) memberName(ctx context.Context, id *int64) (string, error) {
	if id == nil {
		return "", nil
	}
	m, err := b.member(ctx, *id)
	if err != nil || m == nil {
		return "", err
	}
	return m.Name, nil
}

func (b *batch) rights(ctx context.Context, id int64) (*NodeRights, error) {
	return invoke(ctx, b.c, "get node rights "+strconv.FormatInt(id, 10), func(ctx context.Context) (*NodeRights, error) {
		return b.sess.GetNodeRights(ctx, id)
	})
}

func (b *batch) search(ctx context.Context, parentID int64, columns []string, filter string) ([]SearchRow, error) {
	return invoke(ctx, b.c, "list children of "+strconv.FormatInt(parentID, 10), func(ctx context.Context) ([]SearchRow, error) {
		return b.sess.SearchChildren(ctx, parentID, columns, filter, "OTDataID", 0, maxResults)
	})
}

// splitPath splits a slash-separated path where a backslash escapes the
// next character.
func splitPath(path string) []string {
	var (
		out     []string
		current []rune
		escaped bool
	)
	runes := []rune(path)
	for i, r := range runes {
		switch {
		case escaped:
			current = append(current, r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '/':
			out = append(out, string(current))
			current = current[:0]
			if i == len(runes)-1 {
				return out
			}
		default:
			current = append(current, r)
		}
	}
	if len(runes) > 0 {
		out = append(out, string(current))
	}
	return out
}

const containerFilter = `("OTSubType":0 OR "OTSubType":202 OR "OTSubType":136)`

// resolvePath walks path from root, one container per segment. When
// lastIsCategory is set the final segment must be a category. found is false
// when any segment does not match exactly one child.
func (b *batch) resolvePath(ctx context.Context, root int64, path string, lastIsCategory bool) (int64, bool, error) {
	obj := root
	segments := splitPath(path)
	for i, seg := range segments {
		filter := containerFilter
		if lastIsCategory && i == len(segments)-1 {
			filter = `"OTSubType":131`
		}
		filter += ` AND "OTName":"` + seg + `"`
		rows, err := b.search(ctx, obj, []string{"OTDataID", "OTSubTypeName"}, filter)
		if err != nil {
			return 0, false, err
		}
		if len(rows) != 1 || len(rows[0]) < 1 {
			return 0, false, nil
		}
		id, err := strconv.ParseInt(rows[0][0], 10, 64)
		if err != nil {
			return 0, false, nil
		}
		if len(rows[0]) > 1 && rows[0][1] == "Project" {
			id = -id
		}
		obj = id
	}
	return obj, true, nil
}
