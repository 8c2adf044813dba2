package csws

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/crawler/crawlertest"
	"github.com/JakeFAU/lcf-connectors/internal/soap"
)

const docxMime = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var modified = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func ptr[T any](v T) *T {
	return &v
}

var (
	allPerms  = Permissions{See: true, SeeContents: true}
	seeOnly   = Permissions{See: true}
	docSpec   = crawler.DocumentSpec{}.Add(NodeInclude, map[string]string{"filespec": "*.docx"})
	nativeACL = "+3+11+7+SYSTEM+DEAD_AUTHORITY+"
)

// documentSession holds report.docx (4000) in Docs (3000) under the
// enterprise workspace.
func documentSession() *fakeSession {
	sess := newFakeSession()
	sess.nodes[3000] = &Node{ID: 3000, Name: "Docs", ParentID: ptr(int64(2000)), Permissions: allPerms}
	sess.nodes[4000] = &Node{
		ID:          4000,
		Name:        "report.docx",
		ParentID:    ptr(int64(3000)),
		Type:        "Document",
		CreateDate:  ptr(modified.Add(-time.Hour)),
		ModifyDate:  ptr(modified),
		CreatedBy:   ptr(int64(7)),
		Permissions: allPerms,
	}
	sess.rights[3000] = &NodeRights{}
	sess.rights[4000] = &NodeRights{
		OwnerRight:      &NodeRight{RightID: 7, Permissions: allPerms},
		OwnerGroupRight: &NodeRight{RightID: 11, Permissions: allPerms},
		PublicRight:     &NodeRight{RightID: -1, Permissions: allPerms},
		ACLRights:       []NodeRight{{RightID: 99, Permissions: seeOnly}},
	}
	sess.versions[4000] = &Version{
		FileName:   "report.docx",
		MimeType:   docxMime,
		FileSize:   ptr(int64(5)),
		ModifyDate: ptr(modified),
		Owner:      ptr(int64(7)),
	}
	sess.contents[4000] = "hello"
	sess.members[7] = &Member{ID: 7, Name: "alice"}
	return sess
}

func process(t *testing.T, c *Connector, acts *crawlertest.Activities, spec crawler.DocumentSpec, ids ...string) error {
	t.Helper()
	return c.ProcessDocuments(context.Background(), ids, crawler.ExistingVersions{}, spec, acts, crawler.JobModeOnce)
}

func TestProcessFolderListsChildren(t *testing.T) {
	t.Parallel()
	sess := documentSession()
	sess.children[3000] = []SearchRow{
		{"3100", "Project", "Apollo"},
		{"3200", "Folder", "Sub"},
		{"4000", "Document", "report.docx"},
		{"4100", "Document", "image.png"},
		{"3500", "CompoundDocument", "Bundle"},
		{"bad", "Document", "x.docx"},
	}
	c, _ := newTestConnector(t, sess)
	acts := crawlertest.New()

	require.NoError(t, process(t, c, acts, docSpec, "F3000"))
	assert.Equal(t, []string{"F-3100", "F3200", "D4000", "F3500"}, acts.References)
	assert.Contains(t, sess.filters, `"OTSubType":0 OR "OTSubType":136 OR "OTSubType":202 OR ("OTSubType":144 AND (("OTFileType":docx)))`)
	assert.Empty(t, acts.Ingested)
}

func TestProcessDeletesUnreachableObjects(t *testing.T) {
	t.Parallel()
	sess := documentSession()
	sess.nodes[11] = &Node{ID: 11, Name: "hidden", Permissions: seeOnly}
	sess.nodes[12] = &Node{ID: 12, Name: "norights", Permissions: allPerms}
	c, _ := newTestConnector(t, sess)
	acts := crawlertest.New()

	require.NoError(t, process(t, c, acts, docSpec, "D10", "D11", "D12"))
	assert.Equal(t, []string{"D10", "D11", "D12"}, acts.Deleted)
}

func TestProcessIngestsDocument(t *testing.T) {
	t.Parallel()
	sess := documentSession()
	c, _ := newTestConnector(t, sess)
	acts := crawlertest.New()

	require.NoError(t, process(t, c, acts, docSpec, "D4000"))
	require.Len(t, acts.Ingested, 1)
	got := acts.Ingested[0]
	assert.Equal(t, "0+"+nativeACL+"1704164645000=_"+testViewBase, got.Version)
	assert.Equal(t, testViewBase+"?func=ll&objAction=download&objID=4000", got.URI)
	assert.Equal(t, "hello", string(got.Content))
	assert.Equal(t, []string{"11", "7", "SYSTEM"}, got.Doc.ACL)
	assert.Equal(t, []string{DefaultDenyToken}, got.Doc.DenyACL)
	assert.Equal(t, docxMime, got.Doc.MimeType)
	assert.Equal(t, int64(5), got.Doc.Size)
	assert.Equal(t, map[string][]string{
		FieldName:         {"report.docx"},
		FieldCreationDate: {"2024-01-02T02:04:05.000Z"},
		FieldModifyDate:   {"2024-01-02T03:04:05.000Z"},
		FieldParentID:     {"3000"},
		FieldOwner:        {"alice"},
		FieldCreator:      {"alice"},
		FieldModifier:     {"alice"},
	}, got.Doc.Fields)
	assert.Equal(t, []string{ResultOK}, acts.Codes(ActivityFetch))
	assert.Equal(t, "4000", acts.Recorded[0].Entity)
	assert.Equal(t, int64(5), acts.Recorded[0].Bytes)

	// Same version again: nothing to do.
	require.NoError(t, process(t, c, acts, docSpec, "D4000"))
	assert.Len(t, acts.Ingested, 1)
}

func TestProcessForcedTokensAndSecurityOff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		spec    crawler.DocumentSpec
		version string
		acl     []string
		deny    []string
	}{
		{
			name: "forced tokens replace native rights",
			spec: crawler.DocumentSpec{}.
				Add(NodeAccess, map[string]string{"token": "group-b"}).
				Add(NodeAccess, map[string]string{"token": "group-a"}),
			version: "0++2+group-a+group-b+DEAD_AUTHORITY+1704164645000=_" + testViewBase,
			acl:     []string{"group-a", "group-b"},
			deny:    []string{DefaultDenyToken},
		},
		{
			name:    "security off",
			spec:    crawler.DocumentSpec{}.Add(NodeSecurity, map[string]string{"value": "off"}),
			version: "0+-1704164645000=_" + testViewBase,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newTestConnector(t, documentSession())
			acts := crawlertest.New()
			require.NoError(t, process(t, c, acts, tt.spec, "D4000"))
			require.Len(t, acts.Ingested, 1)
			assert.Equal(t, tt.version, acts.Ingested[0].Version)
			assert.Equal(t, tt.acl, acts.Ingested[0].Doc.ACL)
			assert.Equal(t, tt.deny, acts.Ingested[0].Doc.DenyACL)
		})
	}
}

func TestProcessRejectedDocuments(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		setup func(*fakeSession, *crawlertest.Activities)
		code  string
	}{
		{
			name:  "mime type",
			setup: func(_ *fakeSession, a *crawlertest.Activities) { a.RejectMimeType = true },
			code:  ResultExcludedMimeType,
		},
		{
			name:  "url",
			setup: func(_ *fakeSession, a *crawlertest.Activities) { a.RejectURL = true },
			code:  ResultExcludedURL,
		},
		{
			name:  "length",
			setup: func(_ *fakeSession, a *crawlertest.Activities) { a.MaxLength = 2 },
			code:  ResultExcludedLength,
		},
		{
			name:  "date",
			setup: func(_ *fakeSession, a *crawlertest.Activities) { a.ModifiedAfter = modified.Add(time.Hour) },
			code:  ResultExcludedDate,
		},
		{
			name:  "missing version",
			setup: func(s *fakeSession, _ *crawlertest.Activities) { delete(s.versions, 4000) },
			code:  ResultVersionNotFound,
		},
		{
			name:  "missing length",
			setup: func(s *fakeSession, _ *crawlertest.Activities) { s.versions[4000].FileSize = nil },
			code:  ResultNoLength,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess := documentSession()
			acts := crawlertest.New()
			tt.setup(sess, acts)
			c, _ := newTestConnector(t, sess)

			require.NoError(t, process(t, c, acts, docSpec, "D4000"))
			assert.Empty(t, acts.Ingested)
			assert.Contains(t, acts.NoDocs, "D4000")
			assert.Equal(t, []string{tt.code}, acts.Codes(ActivityFetch))
		})
	}
}

func TestProcessContentTransportFailure(t *testing.T) {
	t.Parallel()
	sess := documentSession()
	sess.contentErr = &soap.TransportError{Class: soap.ClassConnect, Action: "GetVersionContents", Err: syscall.ECONNREFUSED}
	c, clock := newTestConnector(t, sess)
	acts := crawlertest.New()

	err := process(t, c, acts, docSpec, "D4000")
	si, ok := crawler.AsServiceInterruption(err)
	require.True(t, ok)
	assert.Equal(t, clock.now.Add(5*time.Minute), si.RetryAt)
	assert.Equal(t, clock.now.Add(6*time.Hour), si.FailAt)
	assert.Equal(t, []string{"CONNECT"}, acts.Codes(ActivityFetch))
	assert.Empty(t, acts.Ingested)
}

func TestProcessContentFaultIsError(t *testing.T) {
	t.Parallel()
	sess := documentSession()
	sess.contentErr = &soap.Fault{Code: "DocMan.Failure", String: "boom"}
	c, _ := newTestConnector(t, sess)

	err := process(t, c, crawlertest.New(), docSpec, "D4000")
	require.Error(t, err)
	_, isSI := crawler.AsServiceInterruption(err)
	assert.False(t, isSI)
	_, isFault := soap.AsFault(err)
	assert.True(t, isFault)
}

func TestProcessStopsWhenJobInactive(t *testing.T) {
	t.Parallel()
	c, _ := newTestConnector(t, documentSession())
	acts := crawlertest.New()
	acts.Stopped = true
	require.ErrorIs(t, process(t, c, acts, docSpec, "D4000"), crawler.ErrJobStopped)
}

func TestProcessPathAttribute(t *testing.T) {
	t.Parallel()
	c, _ := newTestConnector(t, documentSession())
	acts := crawlertest.New()
	spec := crawler.DocumentSpec{}.
		Add(NodePathAttribute, map[string]string{"value": "path"}).
		Add(NodePathMap, map[string]string{"match": "^Enterprise", "replace": "Root"})

	require.NoError(t, process(t, c, acts, spec, "D4000"))
	require.Len(t, acts.Ingested, 1)
	got := acts.Ingested[0]
	assert.Equal(t, []string{"Root/Docs/report.docx"}, got.Doc.Fields["path"])
	assert.Equal(t, "0+"+nativeACL+"1704164645000==path:/:^Enterprise=Root_"+testViewBase, got.Version)
}

func TestProcessCategoryMetadata(t *testing.T) {
	t.Parallel()
	sess := documentSession()
	sess.name(2004, "Legal", SearchRow{"6000", "Category"})
	sess.nodes[4000].Metadata = []AttributeGroup{
		{
			Key:         "6000.1",
			DisplayName: "Legal",
			Values: []AttributeValue{
				{Description: "Matter", Values: []string{"M-1"}},
				{Description: "Client", Values: []string{"Acme"}},
			},
		},
		{
			Key:    "7000.2",
			Values: []AttributeValue{{Description: "Matter", Values: []string{"other"}}},
		},
	}
	c, _ := newTestConnector(t, sess)
	acts := crawlertest.New()
	spec := crawler.DocumentSpec{}.
		Add(NodeMetadata, map[string]string{"category": "CategoriesWS:Legal", "attribute": "Matter"})

	require.NoError(t, process(t, c, acts, spec, "D4000"))
	require.Len(t, acts.Ingested, 1)
	got := acts.Ingested[0]
	assert.Equal(t, []string{"M-1"}, got.Doc.Fields["Legal.Matter"])
	assert.NotContains(t, got.Doc.Fields, "Legal.Client")
	assert.Equal(t, `1+CategoriesWS\\:Legal:Matter:+`+nativeACL+"1704164645000=_"+testViewBase, got.Version)
	assert.Contains(t, sess.filters, `"OTSubType":131 AND "OTName":"Legal"`)
}

// versionVariant is one configuration of the document, connection and job
// used to compute a version string.
type versionVariant struct {
	session func(*fakeSession)
	params  map[string]string
	spec    crawler.DocumentSpec
}

func versionOf(t *testing.T, v versionVariant) string {
	t.Helper()
	sess := documentSession()
	sess.name(2004, "Legal", SearchRow{"6000", "Category"})
	sess.nodes[4000].Metadata = []AttributeGroup{{
		Key:         "6000.1",
		DisplayName: "Legal",
		Values: []AttributeValue{
			{Description: "Matter", Values: []string{"M-1"}},
			{Description: "Client", Values: []string{"Acme"}},
		},
	}}
	if v.session != nil {
		v.session(sess)
	}
	params := testParams()
	for k, val := range v.params {
		params.Set(k, val)
	}
	c := New(withSessionFactory(func(settings) (Session, error) { return sess, nil }))
	require.NoError(t, c.Connect(params))
	acts := crawlertest.New()
	require.NoError(t, process(t, c, acts, v.spec, "D4000"))
	require.Len(t, acts.Ingested, 1)
	return acts.Ingested[0].Version
}

func TestVersionStringTracksChanges(t *testing.T) {
	t.Parallel()
	access := func(tokens ...string) crawler.DocumentSpec {
		spec := crawler.DocumentSpec{}
		for _, tok := range tokens {
			spec = spec.Add(NodeAccess, map[string]string{"token": tok})
		}
		return spec
	}
	metadata := func(attrs ...string) crawler.DocumentSpec {
		spec := crawler.DocumentSpec{}
		for _, a := range attrs {
			spec = spec.Add(NodeMetadata, map[string]string{"category": "CategoriesWS:Legal", "attribute": a})
		}
		return spec
	}
	pathSpec := func(replace string) crawler.DocumentSpec {
		return crawler.DocumentSpec{}.
			Add(NodePathAttribute, map[string]string{"value": "path"}).
			Add(NodePathMap, map[string]string{"match": "^Enterprise", "replace": replace})
	}
	aclRights := func(ids ...int64) func(*fakeSession) {
		return func(s *fakeSession) {
			s.rights[4000].ACLRights = nil
			for _, id := range ids {
				s.rights[4000].ACLRights = append(s.rights[4000].ACLRights, NodeRight{RightID: id, Permissions: allPerms})
			}
		}
	}

	tests := []struct {
		name string
		a, b versionVariant
		same bool
	}{
		{
			name: "native rights order",
			a:    versionVariant{session: aclRights(21, 22, 23)},
			b:    versionVariant{session: aclRights(23, 21, 22)},
			same: true,
		},
		{
			name: "access token order",
			a:    versionVariant{spec: access("group-a", "group-b", "group-c")},
			b:    versionVariant{spec: access("group-c", "group-a", "group-b")},
			same: true,
		},
		{
			name: "metadata node order",
			a:    versionVariant{spec: metadata("Matter", "Client")},
			b:    versionVariant{spec: metadata("Client", "Matter")},
			same: true,
		},
		{
			name: "modify time",
			a:    versionVariant{},
			b:    versionVariant{session: func(s *fakeSession) { s.nodes[4000].ModifyDate = ptr(modified.Add(time.Second)) }},
		},
		{
			name: "native rights granted",
			a:    versionVariant{session: aclRights(21)},
			b:    versionVariant{session: aclRights(21, 22)},
		},
		{
			name: "forced access token",
			a:    versionVariant{spec: access("group-a")},
			b:    versionVariant{spec: access("group-b")},
		},
		{
			name: "security turned off drops deny token",
			a:    versionVariant{},
			b:    versionVariant{spec: crawler.DocumentSpec{}.Add(NodeSecurity, map[string]string{"value": "off"})},
		},
		{
			name: "selected metadata",
			a:    versionVariant{spec: metadata("Matter")},
			b:    versionVariant{spec: metadata("Client")},
		},
		{
			name: "path attribute map",
			a:    versionVariant{spec: pathSpec("Root")},
			b:    versionVariant{spec: pathSpec("Top")},
		},
		{
			name: "view base path",
			a:    versionVariant{},
			b:    versionVariant{params: map[string]string{ParamViewCgiPath: "/otcs/cs.exe"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, b := versionOf(t, tt.a), versionOf(t, tt.b)
			if tt.same {
				assert.Equal(t, a, b)
			} else {
				assert.NotEqual(t, a, b)
			}
		})
	}
}
