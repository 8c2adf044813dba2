package meridio

import (
	"context"
	"io"
	"strings"
	"sync"
)

type fakeDoc struct {
	stamp string
	// props holds result values keyed by column name.
	props      map[string]string
	data       *DocumentData
	record     *Record
	parts      []Part
	recordPart []Part
	content    *string
}

type fakeSession struct {
	mu sync.Mutex

	loginErr  error
	logoutErr error
	systemErr error
	// searchErrs are returned, in order, by the next searches.
	searchErrs []error

	order      []int64
	docs       map[int64]*fakeDoc
	defs       []PropertyDef
	categories []Category
	containers map[string]int64
	contents   map[int64][]ClassContent

	loginCalls  int
	logoutCalls int
	searches    []SearchCriteria
	starts      []int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		docs:       map[int64]*fakeDoc{},
		containers: map[string]int64{},
		contents:   map[int64][]ClassContent{},
	}
}

func (f *fakeSession) add(id int64, d *fakeDoc) {
	f.order = append(f.order, id)
	f.docs[id] = d
}

func (f *fakeSession) Login(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	return f.loginErr
}

func (f *fakeSession) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	return f.logoutErr
}

func (f *fakeSession) SystemName(context.Context) (string, error) {
	return "Meridio", f.systemErr
}

func (f *fakeSession) CheckRecords(context.Context) error {
	return nil
}

func (f *fakeSession) PropertyDefs(context.Context) ([]PropertyDef, error) {
	return f.defs, nil
}

func (f *fakeSession) Categories(context.Context) ([]Category, error) {
	return f.categories, nil
}

func (f *fakeSession) FindClassOrFolder(_ context.Context, path string) (int64, error) {
	if path == "" || path == "/" {
		return 0, nil
	}
	if id, ok := f.containers[path]; ok {
		return id, nil
	}
	return -1, nil
}

func (f *fakeSession) ClassContents(_ context.Context, id int64) ([]ClassContent, error) {
	return f.contents[id], nil
}

// SearchDocuments honors only the document id terms. Each matching
// document yields one row per result, in result order.
func (f *fakeSession) SearchDocuments(_ context.Context, crit SearchCriteria, maxHits, start int) (*SearchResults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, crit)
	f.starts = append(f.starts, start)
	if len(f.searchErrs) > 0 {
		err := f.searchErrs[0]
		f.searchErrs = f.searchErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	wanted := map[int64]bool{}
	for _, t := range crit.Terms {
		if t.PropertyName == propDocID && t.Relation == NumEqual {
			wanted[t.NumValue] = true
		}
	}
	var rows []SearchHit
	for _, id := range f.order {
		if len(wanted) > 0 && !wanted[id] {
			continue
		}
		d := f.docs[id]
		for _, r := range crit.Results {
			v := d.props[r.PropertyName]
			if r.PropertyName == propLastModifiedDate {
				v = d.stamp
			}
			rows = append(rows, SearchHit{DocID: id, StrValue: v})
		}
	}
	res := &SearchResults{TotalHits: len(rows)}
	from := start - 1
	if from > len(rows) {
		from = len(rows)
	}
	to := from + maxHits
	if to > len(rows) {
		to = len(rows)
	}
	res.Hits = rows[from:to]
	res.ReturnedHits = len(res.Hits)
	return res, nil
}

func (f *fakeSession) DocumentData(_ context.Context, id int64) (*DocumentData, error) {
	if d := f.docs[id]; d != nil {
		return d.data, nil
	}
	return nil, nil
}

func (f *fakeSession) Record(_ context.Context, id int64) (*Record, error) {
	if d := f.docs[id]; d != nil {
		return d.record, nil
	}
	return nil, nil
}

func (f *fakeSession) RecordParts(_ context.Context, id int64) ([]Part, error) {
	if d := f.docs[id]; d != nil {
		return d.recordPart, nil
	}
	return nil, nil
}

func (f *fakeSession) DocumentParts(_ context.Context, id int64) ([]Part, error) {
	if d := f.docs[id]; d != nil {
		return d.parts, nil
	}
	return nil, nil
}

func (f *fakeSession) LatestVersion(_ context.Context, id int64) (*Content, error) {
	d := f.docs[id]
	if d == nil || d.content == nil {
		return nil, nil
	}
	return &Content{Body: io.NopCloser(strings.NewReader(*d.content)), Size: int64(len(*d.content))}, nil
}
