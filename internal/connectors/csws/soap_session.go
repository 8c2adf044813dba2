package csws

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/soap"
)

const (
	nsECM      = "urn:api.ecm.opentext.com"
	nsCore     = "urn:Core.service.livelink.opentext.com"
	nsDocMan   = "urn:DocMan.service.livelink.opentext.com"
	nsMember   = "urn:MemberService.service.livelink.opentext.com"
	nsSearch   = "urn:SearchServices.service.livelink.opentext.com"
	queryLang  = "Livelink Search API V1"
	maxResults = 100000
)

// Fault codes that mean "nothing there" rather than failure.
const (
	faultNodeRights     = "DocMan.ErrorGettingNodeRights"
	faultVersion        = "DocMan.VersionRetrievalError"
	faultParentNode     = "DocMan.ErrorGettingParentNode"
	faultNodeRetrieval  = "DocMan.NodeRetrievalError"
	sessionTokenTimeout = 15 * time.Minute
)

type otAuthentication struct {
	XMLName xml.Name `xml:"urn:api.ecm.opentext.com OTAuthentication"`
	Token   string   `xml:"AuthenticationToken"`
}

// soapSession talks to the Csws services with one SOAP client per service.
type soapSession struct {
	auth    *soap.Client
	docMan  *soap.Client
	content *soap.Client
	member  *soap.Client
	search  *soap.Client

	userName       string
	password       string
	dataCollection string
	now            func() time.Time
	logger         *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newSOAPSession(s settings, newClient func(endpoint string) (*soap.Client, error), logger *zap.Logger) (*soapSession, error) {
	sess := &soapSession{
		userName:       s.userName,
		password:       s.password,
		dataCollection: s.dataCollection,
		now:            time.Now,
		logger:         logger,
	}
	for _, svc := range []struct {
		dst  **soap.Client
		path string
	}{
		{&sess.auth, s.authenticationPath},
		{&sess.docMan, s.documentMgmtPath},
		{&sess.content, s.contentServicePath},
		{&sess.member, s.memberServicePath},
		{&sess.search, s.searchServicePath},
	} {
		c, err := newClient(s.serviceURL(svc.path))
		if err != nil {
			return nil, fmt.Errorf("build csws client: %w", err)
		}
		*svc.dst = c
	}
	return sess, nil
}

func (s *soapSession) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
	_, err := s.header(ctx)
	return err
}

// header returns the authentication header, refreshing the token once it
// has expired.
func (s *soapSession) header(ctx context.Context) (otAuthentication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.token != "" && now.Before(s.expiresAt) {
		return otAuthentication{Token: s.token}, nil
	}
	req := struct {
		XMLName  xml.Name `xml:"urn:Core.service.livelink.opentext.com AuthenticateUser"`
		User     string   `xml:"userName"`
		Password string   `xml:"userPassword"`
	}{User: s.userName, Password: s.password}
	resp, err := s.auth.Call(ctx, "urn:Core.service.livelink.opentext.com/AuthenticateUser", req)
	if err != nil {
		return otAuthentication{}, fmt.Errorf("get auth token: %w", err)
	}
	s.token = soap.Text(resp, "AuthenticateUserResult")
	s.expiresAt = now.Add(sessionTokenTimeout)
	return otAuthentication{Token: s.token}, nil
}

func (s *soapSession) call(ctx context.Context, c *soap.Client, ns, op string, req any) (*xmlquery.Node, error) {
	h, err := s.header(ctx)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, ns+"/"+op, req, h)
}

func isFault(err error, code string) bool {
	f, ok := soap.AsFault(err)
	return ok && strings.HasSuffix(f.Code, code)
}

func (s *soapSession) RootWorkspace(ctx context.Context, workspaceType string) (*Node, error) {
	req := struct {
		XMLName xml.Name `xml:"urn:DocMan.service.livelink.opentext.com GetRootNode"`
		Type    string   `xml:"type"`
	}{Type: workspaceType}
	resp, err := s.call(ctx, s.docMan, nsDocMan, "GetRootNode", req)
	if err != nil {
		return nil, fmt.Errorf("get root node of type %s: %w", workspaceType, err)
	}
	return parseNode(soap.Child(resp, "GetRootNodeResult")), nil
}

func (s *soapSession) GetNode(ctx context.Context, id int64) (*Node, error) {
	req := struct {
		XMLName xml.Name `xml:"urn:DocMan.service.livelink.opentext.com GetNode"`
		ID      int64    `xml:"ID"`
	}{ID: id}
	resp, err := s.call(ctx, s.docMan, nsDocMan, "GetNode", req)
	if err != nil {
		if isFault(err, faultNodeRetrieval) {
			return nil, nil
		}
		return nil, fmt.Errorf("get node %d: %w", id, err)
	}
	return parseNode(soap.Child(resp, "GetNodeResult")), nil
}

func (s *soapSession) GetNodeRights(ctx context.Context, id int64) (*NodeRights, error) {
	req := struct {
		XMLName xml.Name `xml:"urn:DocMan.service.livelink.opentext.com GetNodeRights"`
		ID      int64    `xml:"ID"`
	}{ID: id}
	resp, err := s.call(ctx, s.docMan, nsDocMan, "GetNodeRights", req)
	if err != nil {
		if isFault(err, faultNodeRights) {
			s.logger.Warn("ignoring node rights fault", zap.Int64("id", id), zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("get node rights for %d: %w", id, err)
	}
	result := soap.Child(resp, "GetNodeRightsResult")
	if soap.IsNil(result) {
		return nil, nil
	}
	rights := &NodeRights{
		OwnerRight:      parseRight(soap.Child(result, "OwnerRight")),
		OwnerGroupRight: parseRight(soap.Child(result, "OwnerGroupRight")),
		PublicRight:     parseRight(soap.Child(result, "PublicRight")),
	}
	for _, n := range soap.Children(result, "ACLRights") {
		if r := parseRight(n); r != nil {
			rights.ACLRights = append(rights.ACLRights, *r)
		}
	}
	return rights, nil
}

func (s *soapSession) GetVersion(ctx context.Context, id, version int64) (*Version, error) {
	req := struct {
		XMLName    xml.Name `xml:"urn:DocMan.service.livelink.opentext.com GetVersion"`
		ID         int64    `xml:"ID"`
		VersionNum int64    `xml:"versionNum"`
	}{ID: id, VersionNum: version}
	resp, err := s.call(ctx, s.docMan, nsDocMan, "GetVersion", req)
	if err != nil {
		if isFault(err, faultVersion) {
			s.logger.Warn("ignoring version fault", zap.Int64("id", id), zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("get version %d of node %d: %w", version, id, err)
	}
	result := soap.Child(resp, "GetVersionResult")
	if soap.IsNil(result) {
		return nil, nil
	}
	v := &Version{
		FileName:   soap.ChildText(result, "Filename"),
		MimeType:   soap.ChildText(result, "MimeType"),
		ModifyDate: parseTime(soap.ChildText(result, "ModifyDate")),
	}
	if n, ok := soap.ChildInt(result, "FileDataSize"); ok {
		v.FileSize = &n
	}
	if n, ok := soap.ChildInt(result, "Owner"); ok {
		v.Owner = &n
	}
	return v, nil
}

func (s *soapSession) GetVersionContents(ctx context.Context, id, version int64) (io.ReadCloser, error) {
	req := struct {
		XMLName    xml.Name `xml:"urn:DocMan.service.livelink.opentext.com GetVersionContentsContext"`
		ID         int64    `xml:"ID"`
		VersionNum int64    `xml:"versionNum"`
	}{ID: id, VersionNum: version}
	resp, err := s.call(ctx, s.docMan, nsDocMan, "GetVersionContentsContext", req)
	if err != nil {
		return nil, fmt.Errorf("get version contents context of node %d: %w", id, err)
	}
	download := struct {
		XMLName   xml.Name `xml:"urn:Core.service.livelink.opentext.com DownloadContent"`
		ContextID string   `xml:"contextID"`
	}{ContextID: soap.Text(resp, "GetVersionContentsContextResult")}
	resp, err = s.call(ctx, s.content, nsCore, "DownloadContent", download)
	if err != nil {
		return nil, fmt.Errorf("download content of node %d: %w", id, err)
	}
	data, err := base64.StdEncoding.DecodeString(soap.Text(resp, "DownloadContentResult"))
	if err != nil {
		return nil, fmt.Errorf("decode content of node %d: %w", id, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *soapSession) GetMember(ctx context.Context, id int64) (*Member, error) {
	req := struct {
		XMLName  xml.Name `xml:"urn:MemberService.service.livelink.opentext.com GetMemberById"`
		MemberID int64    `xml:"memberID"`
	}{MemberID: id}
	resp, err := s.call(ctx, s.member, nsMember, "GetMemberById", req)
	if err != nil {
		return nil, fmt.Errorf("get member %d: %w", id, err)
	}
	return parseMember(soap.Child(resp, "GetMemberByIdResult")), nil
}

func (s *soapSession) ListCategories(ctx context.Context, id int64) ([]int64, error) {
	req := struct {
		XMLName     xml.Name `xml:"urn:DocMan.service.livelink.opentext.com ListNodes"`
		ParentID    int64    `xml:"parentID"`
		PartialData bool     `xml:"partialData"`
	}{ParentID: id}
	resp, err := s.call(ctx, s.docMan, nsDocMan, "ListNodes", req)
	if err != nil {
		if isFault(err, faultParentNode) {
			return nil, nil
		}
		return nil, fmt.Errorf("list nodes under id %d: %w", id, err)
	}
	var out []int64
	for _, n := range soap.Children(resp, "ListNodesResult") {
		if soap.ChildText(n, "Type") != "Category" {
			continue
		}
		if catID, ok := soap.ChildInt(n, "ID"); ok {
			out = append(out, catID)
		}
	}
	return out, nil
}

func (s *soapSession) CategoryAttributes(ctx context.Context, categoryID int64) ([]string, error) {
	req := struct {
		XMLName    xml.Name `xml:"urn:DocMan.service.livelink.opentext.com GetCategoryDefinition"`
		CategoryID int64    `xml:"categoryID"`
	}{CategoryID: categoryID}
	resp, err := s.call(ctx, s.docMan, nsDocMan, "GetCategoryDefinition", req)
	if err != nil {
		return nil, fmt.Errorf("get category definition %d: %w", categoryID, err)
	}
	result := soap.Child(resp, "GetCategoryDefinitionResult")
	if soap.IsNil(result) {
		return nil, nil
	}
	var names []string
	for _, a := range soap.Children(result, "Attributes") {
		names = append(names, soap.ChildText(a, "DisplayName"))
	}
	return names, nil
}

func (s *soapSession) ListUsers(ctx context.Context, pageHandle string) ([]Member, string, error) {
	if pageHandle == "" {
		type options struct {
			Column   string `xml:"Column"`
			Filter   string `xml:"Filter"`
			Matching string `xml:"Matching"`
			Scope    string `xml:"Scope"`
			Search   string `xml:"Search"`
		}
		req := struct {
			XMLName xml.Name `xml:"urn:MemberService.service.livelink.opentext.com SearchForMembers"`
			Options options  `xml:"options"`
		}{Options: options{Column: "NAME", Filter: "USER", Matching: "STARTSWITH", Scope: "SYSTEM"}}
		resp, err := s.call(ctx, s.member, nsMember, "SearchForMembers", req)
		if err != nil {
			return nil, "", fmt.Errorf("search for members: %w", err)
		}
		pageHandle = soap.Text(resp, "PageHandleID")
		if pageHandle == "" {
			return nil, "", nil
		}
	}
	type handle struct {
		ID string `xml:"PageHandleID"`
	}
	req := struct {
		XMLName    xml.Name `xml:"urn:MemberService.service.livelink.opentext.com GetSearchResults"`
		PageHandle handle   `xml:"pageHandle"`
	}{PageHandle: handle{ID: pageHandle}}
	resp, err := s.call(ctx, s.member, nsMember, "GetSearchResults", req)
	if err != nil {
		return nil, "", fmt.Errorf("get search results: %w", err)
	}
	var members []Member
	for _, n := range soap.All(resp, "Members") {
		if m := parseMember(n); m != nil {
			members = append(members, *m)
		}
	}
	if len(members) == 0 {
		return nil, "", nil
	}
	return members, pageHandle, nil
}

func (s *soapSession) SearchChildren(
	ctx context.Context,
	parentID int64,
	columns []string,
	filter, orderBy string,
	start, count int,
) ([]SearchRow, error) {
	type request struct {
		DataCollectionSpec       string   `xml:"DataCollectionSpec"`
		FirstResultToRetrieve    int      `xml:"FirstResultToRetrieve"`
		NumResultsToRetrieve     int      `xml:"NumResultsToRetrieve"`
		QueryLanguage            string   `xml:"QueryLanguage"`
		ResultOrderSpec          string   `xml:"ResultOrderSpec,omitempty"`
		ResultSetSpec            string   `xml:"ResultSetSpec"`
		ResultTransformationSpec []string `xml:"ResultTransformationSpec"`
	}
	r := request{
		DataCollectionSpec:       s.dataCollection,
		FirstResultToRetrieve:    start + 1,
		NumResultsToRetrieve:     count,
		QueryLanguage:            queryLang,
		ResultSetSpec:            `where1=("OTParentID":` + strconv.FormatInt(parentID, 10) + ` AND (` + filter + `))&lookfor1=complexquery`,
		ResultTransformationSpec: columns,
	}
	if orderBy != "" {
		r.ResultOrderSpec = "sortByRegion=" + orderBy + "&sortDirection=ascending"
	}
	req := struct {
		XMLName   xml.Name `xml:"urn:SearchServices.service.livelink.opentext.com Search"`
		Request   request  `xml:"singleSrchReq"`
		UserToken string   `xml:"userToken"`
	}{Request: r}
	resp, err := s.call(ctx, s.search, nsSearch, "Search", req)
	if err != nil {
		return nil, fmt.Errorf("search for %s: %w", r.ResultSetSpec, err)
	}
	var rows []SearchRow
	for _, item := range soap.All(resp, "Item") {
		n := soap.Child(item, "N")
		var row SearchRow
		for _, v := range soap.Children(n, "S") {
			row = append(row, strings.TrimSpace(v.InnerText()))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseNode(n *xmlquery.Node) *Node {
	if soap.IsNil(n) {
		return nil
	}
	id, ok := soap.ChildInt(n, "ID")
	if !ok {
		return nil
	}
	node := &Node{
		ID:         id,
		Name:       soap.ChildText(n, "Name"),
		Comment:    soap.ChildText(n, "Comment"),
		Type:       soap.ChildText(n, "Type"),
		CreateDate: parseTime(soap.ChildText(n, "CreateDate")),
		ModifyDate: parseTime(soap.ChildText(n, "ModifyDate")),
	}
	if v, ok := soap.ChildInt(n, "ParentID"); ok {
		node.ParentID = &v
	}
	if v, ok := soap.ChildInt(n, "CreatedBy"); ok {
		node.CreatedBy = &v
	}
	node.Permissions = parsePermissions(soap.Child(n, "Permissions"))
	for _, g := range soap.All(soap.Child(n, "Metadata"), "AttributeGroups") {
		group := AttributeGroup{
			Key:         soap.ChildText(g, "Key"),
			DisplayName: soap.ChildText(g, "DisplayName"),
		}
		for _, v := range soap.Children(g, "Values") {
			av := AttributeValue{Description: soap.ChildText(v, "Description")}
			for _, item := range soap.Children(v, "Values") {
				av.Values = append(av.Values, strings.TrimSpace(item.InnerText()))
			}
			group.Values = append(group.Values, av)
		}
		node.Metadata = append(node.Metadata, group)
	}
	return node
}

func parsePermissions(n *xmlquery.Node) Permissions {
	return Permissions{
		See:         soap.ChildText(n, "SeePermission") == "true",
		SeeContents: soap.ChildText(n, "SeeContentsPermission") == "true",
	}
}

func parseRight(n *xmlquery.Node) *NodeRight {
	if soap.IsNil(n) {
		return nil
	}
	id, ok := soap.ChildInt(n, "RightID")
	if !ok {
		return nil
	}
	return &NodeRight{RightID: id, Permissions: parsePermissions(soap.Child(n, "Permissions"))}
}

func parseMember(n *xmlquery.Node) *Member {
	if soap.IsNil(n) {
		return nil
	}
	id, ok := soap.ChildInt(n, "ID")
	if !ok {
		return nil
	}
	return &Member{ID: id, Name: soap.ChildText(n, "Name")}
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
