package csws

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

type fakeSession struct {
	mu sync.Mutex

	authErr    error
	roots      map[string]*Node
	nodes      map[int64]*Node
	rights     map[int64]*NodeRights
	versions   map[int64]*Version
	contents   map[int64]string
	contentErr error
	members    map[int64]*Member
	categories map[int64][]int64
	catAttrs   map[int64][]string
	userPages  [][]Member

	// children answers folder listings; named answers path lookups by
	// parent and name.
	children map[int64][]SearchRow
	named    map[int64]map[string]SearchRow

	authCalls int
	filters   []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		roots: map[string]*Node{
			enterpriseWorkspace: {ID: 2000, Name: "Enterprise"},
			categoryWorkspace:   {ID: 2004, Name: "Categories"},
		},
		nodes: map[int64]*Node{
			2000: {ID: 2000, Name: "Enterprise", Permissions: Permissions{See: true, SeeContents: true}},
		},
		rights:     map[int64]*NodeRights{},
		versions:   map[int64]*Version{},
		contents:   map[int64]string{},
		members:    map[int64]*Member{},
		categories: map[int64][]int64{},
		catAttrs:   map[int64][]string{},
		children:   map[int64][]SearchRow{},
		named:      map[int64]map[string]SearchRow{},
	}
}

func (f *fakeSession) name(parent int64, name string, row SearchRow) {
	if f.named[parent] == nil {
		f.named[parent] = map[string]SearchRow{}
	}
	f.named[parent][name] = row
}

func (f *fakeSession) Authenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	return f.authErr
}

func (f *fakeSession) RootWorkspace(_ context.Context, workspaceType string) (*Node, error) {
	return f.roots[workspaceType], nil
}

func (f *fakeSession) GetNode(_ context.Context, id int64) (*Node, error) {
	return f.nodes[id], nil
}

func (f *fakeSession) GetNodeRights(_ context.Context, id int64) (*NodeRights, error) {
	return f.rights[id], nil
}

func (f *fakeSession) GetVersion(_ context.Context, id, _ int64) (*Version, error) {
	return f.versions[id], nil
}

func (f *fakeSession) GetVersionContents(_ context.Context, id, _ int64) (io.ReadCloser, error) {
	if f.contentErr != nil {
		return nil, f.contentErr
	}
	body, ok := f.contents[id]
	if !ok {
		return nil, errors.New("no content")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeSession) GetMember(_ context.Context, id int64) (*Member, error) {
	return f.members[id], nil
}

func (f *fakeSession) ListCategories(_ context.Context, id int64) ([]int64, error) {
	return f.categories[id], nil
}

func (f *fakeSession) CategoryAttributes(_ context.Context, categoryID int64) ([]string, error) {
	return f.catAttrs[categoryID], nil
}

func (f *fakeSession) ListUsers(_ context.Context, pageHandle string) ([]Member, string, error) {
	page := 0
	if pageHandle != "" {
		page = len(pageHandle)
	}
	if page >= len(f.userPages) {
		return nil, "", nil
	}
	return f.userPages[page], strings.Repeat("p", page+1), nil
}

func (f *fakeSession) SearchChildren(
	_ context.Context,
	parentID int64,
	_ []string,
	filter, _ string,
	_, _ int,
) ([]SearchRow, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	const marker = `"OTName":"`
	if i := strings.Index(filter, marker); i >= 0 {
		name := strings.TrimSuffix(filter[i+len(marker):], `"`)
		row, ok := f.named[parentID][name]
		if !ok {
			return nil, nil
		}
		return []SearchRow{row}, nil
	}
	return f.children[parentID], nil
}
