package meridio

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/soap"
)

const (
	nsDM = "http://www.meridio.com/dmws/"
	nsRM = "http://www.meridio.com/rmws/"
)

// permissionRead is the access level every search hit must grant.
const permissionRead = 1

// soapSession talks to the DM and RM web services. Content comes from the
// web client download page.
type soapSession struct {
	dm      *soap.Client
	rm      *soap.Client
	urlBase string

	userName string
	password string
	logger   *zap.Logger

	mu        sync.Mutex
	dmSession string
	rmSession string
}

func newSOAPSession(s settings, newClient func(endpoint string) (*soap.Client, error), logger *zap.Logger) (*soapSession, error) {
	dm, err := newClient(s.dmwsURL)
	if err != nil {
		return nil, fmt.Errorf("build dm client: %w", err)
	}
	rm, err := newClient(s.rmwsURL)
	if err != nil {
		return nil, fmt.Errorf("build rm client: %w", err)
	}
	return &soapSession{
		dm:       dm,
		rm:       rm,
		urlBase:  s.urlBase,
		userName: s.userName,
		password: s.password,
		logger:   logger,
	}, nil
}

func (s *soapSession) Login(ctx context.Context) error {
	req := struct {
		XMLName  xml.Name `xml:"http://www.meridio.com/dmws/ LogonWithPassword"`
		UserName string   `xml:"userName"`
		Password string   `xml:"password"`
	}{UserName: s.userName, Password: s.password}
	resp, err := s.dm.Call(ctx, nsDM+"LogonWithPassword", req)
	if err != nil {
		return fmt.Errorf("dm logon: %w", err)
	}
	dmSession := soap.Text(resp, "LogonWithPasswordResult")

	rmReq := struct {
		XMLName  xml.Name `xml:"http://www.meridio.com/rmws/ Login"`
		UserName string   `xml:"userName"`
		Password string   `xml:"password"`
	}{UserName: s.userName, Password: s.password}
	resp, err = s.rm.Call(ctx, nsRM+"Login", rmReq)
	if err != nil {
		return fmt.Errorf("rm login: %w", err)
	}
	s.mu.Lock()
	s.dmSession = dmSession
	s.rmSession = soap.Text(resp, "LoginResult")
	s.mu.Unlock()
	return nil
}

func (s *soapSession) Logout(ctx context.Context) error {
	s.mu.Lock()
	dmSession := s.dmSession
	s.dmSession, s.rmSession = "", ""
	s.mu.Unlock()
	if dmSession == "" {
		return nil
	}
	req := struct {
		XMLName   xml.Name `xml:"http://www.meridio.com/dmws/ Logoff"`
		SessionID string   `xml:"sessionId"`
	}{SessionID: dmSession}
	if _, err := s.dm.Call(ctx, nsDM+"Logoff", req); err != nil {
		return fmt.Errorf("dm logoff: %w", err)
	}
	return nil
}

func (s *soapSession) sessions() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dmSession, s.rmSession
}

// dmCall invokes a DM operation whose request is {sessionId, args...}.
func (s *soapSession) dmCall(ctx context.Context, op string, args ...any) (*xmlquery.Node, error) {
	dmSession, _ := s.sessions()
	return s.dm.Call(ctx, nsDM+op, operation(nsDM, op, dmSession, args))
}

func (s *soapSession) rmCall(ctx context.Context, op string, args ...any) (*xmlquery.Node, error) {
	_, rmSession := s.sessions()
	return s.rm.Call(ctx, nsRM+op, operation(nsRM, op, rmSession, args))
}

// arg is one named request parameter.
type arg struct {
	XMLName xml.Name
	Value   any `xml:",chardata"`
}

type argXML struct {
	XMLName xml.Name
	Inner   any
}

func (a argXML) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = a.XMLName
	return e.EncodeElement(a.Inner, start)
}

type request struct {
	XMLName   xml.Name
	SessionID string `xml:"sessionId"`
	Args      []any
}

func operation(ns, op, session string, args []any) request {
	return request{XMLName: xml.Name{Space: ns, Local: op}, SessionID: session, Args: args}
}

func param(name string, v any) arg {
	return arg{XMLName: xml.Name{Local: name}, Value: v}
}

func (s *soapSession) SystemName(ctx context.Context) (string, error) {
	resp, err := s.dmCall(ctx, "GetStaticData")
	if err != nil {
		return "", fmt.Errorf("get static data: %w", err)
	}
	info := soap.Find(resp, "SYSTEMINFO")
	if info == nil {
		return "", fmt.Errorf("get static data: null DM data set")
	}
	return soap.ChildText(info, "systemName"), nil
}

func (s *soapSession) CheckRecords(ctx context.Context) error {
	resp, err := s.rmCall(ctx, "GetConfiguration")
	if err != nil {
		return fmt.Errorf("get configuration: %w", err)
	}
	if soap.Find(resp, "GetConfigurationResult") == nil {
		return fmt.Errorf("get configuration: null RM data set")
	}
	return nil
}

func (s *soapSession) PropertyDefs(ctx context.Context) ([]PropertyDef, error) {
	resp, err := s.dmCall(ctx, "GetStaticData")
	if err != nil {
		return nil, fmt.Errorf("get static data: %w", err)
	}
	var defs []PropertyDef
	for _, n := range soap.All(resp, "PROPERTYDEFS") {
		cat, _ := soap.ChildInt(n, "categoryId")
		defs = append(defs, PropertyDef{
			TableName:   soap.ChildText(n, "tableName"),
			DisplayName: soap.ChildText(n, "displayName"),
			ColumnName:  soap.ChildText(n, "columnName"),
			CategoryID:  cat,
		})
	}
	return defs, nil
}

func (s *soapSession) Categories(ctx context.Context) ([]Category, error) {
	resp, err := s.dmCall(ctx, "GetCategories")
	if err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}
	var out []Category
	for _, n := range soap.All(resp, "CATEGORIES") {
		id, ok := soap.ChildInt(n, "PROP_categoryId")
		if !ok {
			continue
		}
		out = append(out, Category{ID: id, Title: soap.ChildText(n, "PROP_title")})
	}
	return out, nil
}

func (s *soapSession) FindClassOrFolder(ctx context.Context, path string) (int64, error) {
	resp, err := s.rmCall(ctx, "FindClassOrFolder", param("path", path))
	if err != nil {
		return 0, fmt.Errorf("find class or folder %q: %w", path, err)
	}
	id, ok := soap.ChildInt(soap.Find(resp, "FindClassOrFolderResult"), "id")
	if !ok {
		return -1, nil
	}
	return id, nil
}

func (s *soapSession) ClassContents(ctx context.Context, id int64) ([]ClassContent, error) {
	resp, err := s.rmCall(ctx, "GetClassContents", param("classId", id))
	if err != nil {
		return nil, fmt.Errorf("get class contents %d: %w", id, err)
	}
	var out []ClassContent
	for _, n := range soap.All(resp, "Rm2vClass") {
		// Federated links carry a home page.
		if soap.ChildText(n, "homePage") != "" {
			continue
		}
		if cid, ok := soap.ChildInt(n, "id"); ok {
			out = append(out, ClassContent{ID: cid, Name: soap.ChildText(n, "name"), Kind: KindClass})
		}
	}
	for _, n := range soap.All(resp, "Rm2vFolder") {
		if fid, ok := soap.ChildInt(n, "id"); ok {
			out = append(out, ClassContent{ID: fid, Name: soap.ChildText(n, "name"), Kind: KindFolder})
		}
	}
	return out, nil
}

type termXML struct {
	XMLName           xml.Name `xml:"PROPERTY_TERMS"`
	ID                int      `xml:"id"`
	ParentID          int      `xml:"parentId"`
	PropertyName      string   `xml:"propertyName"`
	CategoryID        int64    `xml:"categoryId"`
	TermType          int      `xml:"termType"`
	NumRelation       *int     `xml:"num_relation,omitempty"`
	NumValue          *int64   `xml:"num_value,omitempty"`
	StrRelation       *int     `xml:"str_relation,omitempty"`
	StrValue          string   `xml:"str_value,omitempty"`
	DateRelation      *int     `xml:"date_relation,omitempty"`
	DateValue         string   `xml:"date_value,omitempty"`
	IsVersionProperty bool     `xml:"isVersionProperty"`
}

type opXML struct {
	XMLName  xml.Name `xml:"PROPERTY_OPS"`
	ID       int      `xml:"id"`
	ParentID int      `xml:"parentId,omitempty"`
	Operator int      `xml:"operator"`
}

type containerXML struct {
	XMLName     xml.Name `xml:"SEARCH_CONTAINERS"`
	ContainerID int64    `xml:"containerId"`
}

type resultXML struct {
	XMLName           xml.Name `xml:"RESULTDEFS"`
	PropertyName      string   `xml:"propertyName"`
	CategoryID        int64    `xml:"categoryId"`
	IsVersionProperty bool     `xml:"isVersionProperty"`
}

type dataSetXML struct {
	XMLName    xml.Name `xml:"http://www.meridio.com/DMDataSet.xsd DMDataSet"`
	Terms      []termXML
	Ops        []opXML
	Containers []containerXML
	Results    []resultXML
}

func criteriaXML(c SearchCriteria) dataSetXML {
	var ds dataSetXML
	for _, t := range c.Terms {
		rel := t.Relation
		x := termXML{
			ID:                t.ID,
			ParentID:          t.ParentID,
			PropertyName:      t.PropertyName,
			CategoryID:        t.CategoryID,
			TermType:          t.TermType,
			IsVersionProperty: t.IsVersionProperty,
		}
		switch t.TermType {
		case TermNumber:
			v := t.NumValue
			x.NumRelation, x.NumValue = &rel, &v
		case TermString:
			x.StrRelation, x.StrValue = &rel, t.StrValue
		case TermDate:
			x.DateRelation, x.DateValue = &rel, t.DateValue.UTC().Format(time.RFC3339)
		}
		ds.Terms = append(ds.Terms, x)
	}
	for _, o := range c.Ops {
		ds.Ops = append(ds.Ops, opXML{ID: o.ID, ParentID: o.ParentID, Operator: o.Operator})
	}
	for _, id := range c.Containers {
		ds.Containers = append(ds.Containers, containerXML{ContainerID: id})
	}
	for _, r := range c.Results {
		ds.Results = append(ds.Results, resultXML{
			PropertyName:      r.PropertyName,
			CategoryID:        r.CategoryID,
			IsVersionProperty: r.IsVersionProperty,
		})
	}
	return ds
}

func (s *soapSession) SearchDocuments(ctx context.Context, criteria SearchCriteria, maxHits, start int) (*SearchResults, error) {
	resp, err := s.dmCall(ctx, "SearchDocuments",
		argXML{XMLName: xml.Name{Local: "dsSearchCriteria"}, Inner: criteriaXML(criteria)},
		param("maxHitsToReturn", maxHits),
		param("startPositionOfHits", start),
		param("permissionFilter", permissionRead),
		param("searchScope", "BOTH"),
		param("logicalOp", "AND"),
	)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	result := soap.Find(resp, "SearchDocumentsResult")
	total, _ := soap.ChildInt(result, "totalHitsCount")
	returned, _ := soap.ChildInt(result, "returnedHitsCount")
	res := &SearchResults{TotalHits: int(total), ReturnedHits: int(returned)}
	for _, n := range soap.All(resp, "SEARCHRESULTS_DOCUMENTS") {
		id, ok := soap.ChildInt(n, "docId")
		if !ok {
			continue
		}
		res.Hits = append(res.Hits, SearchHit{DocID: id, StrValue: soap.ChildText(n, "str_value")})
	}
	return res, nil
}

func (s *soapSession) DocumentData(ctx context.Context, docID int64) (*DocumentData, error) {
	resp, err := s.dmCall(ctx, "GetDocumentData",
		param("documentId", docID),
		param("getPropertyDefs", true),
		param("getAcls", true),
		param("version", "LATEST"),
	)
	if err != nil {
		return nil, fmt.Errorf("get document data %d: %w", docID, err)
	}
	if soap.IsNil(soap.Find(resp, "GetDocumentDataResult")) {
		return nil, nil
	}
	data := &DocumentData{}
	for _, n := range soap.All(resp, "DOCUMENTS") {
		id, _ := soap.ChildInt(n, "PROP_documentId")
		owner, _ := soap.ChildInt(n, "PROP_ownerId")
		recordType, _ := soap.ChildInt(n, "PROP_recordType")
		data.Documents = append(data.Documents, DocumentInfo{
			ID:         id,
			OwnerID:    owner,
			OwnerName:  soap.ChildText(n, "PROP_ownerName"),
			RecordType: int(recordType),
		})
	}
	for _, n := range soap.All(resp, "ACCESSCONTROL") {
		objID, _ := soap.ChildInt(n, "objectId")
		objType, _ := soap.ChildInt(n, "objectType")
		perm, _ := soap.ChildInt(n, "permission")
		user, _ := soap.ChildInt(n, "userId")
		group, _ := soap.ChildInt(n, "groupId")
		data.ACL = append(data.ACL, AccessControl{
			ObjectID:   objID,
			ObjectType: int(objType),
			Permission: int(perm),
			UserID:     user,
			GroupID:    group,
		})
	}
	return data, nil
}

func (s *soapSession) Record(ctx context.Context, docID int64) (*Record, error) {
	resp, err := s.rmCall(ctx, "GetRecord", param("recordId", docID))
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", docID, err)
	}
	n := soap.Find(resp, "Rm2vRecord")
	if n == nil {
		return nil, nil
	}
	owner, _ := soap.ChildInt(n, "ownerID")
	group, _ := soap.ChildInt(n, "groupOwnerID")
	return &Record{OwnerID: owner, GroupOwnerID: group}, nil
}

func (s *soapSession) parts(ctx context.Context, op, idName string, docID int64) ([]Part, error) {
	resp, err := s.rmCall(ctx, op, param(idName, docID))
	if err != nil {
		return nil, fmt.Errorf("%s %d: %w", op, docID, err)
	}
	if soap.IsNil(soap.Find(resp, op+"Result")) {
		return nil, nil
	}
	out := []Part{}
	for _, n := range soap.All(resp, "Rm2vPart") {
		out = append(out, Part{ParentTitlePath: soap.ChildText(n, "parentTitlePath")})
	}
	return out, nil
}

func (s *soapSession) RecordParts(ctx context.Context, docID int64) ([]Part, error) {
	return s.parts(ctx, "GetRecordPartList", "recordId", docID)
}

func (s *soapSession) DocumentParts(ctx context.Context, docID int64) ([]Part, error) {
	return s.parts(ctx, "GetDocumentPartList", "documentId", docID)
}

func (s *soapSession) LatestVersion(ctx context.Context, docID int64) (*Content, error) {
	body, size, err := s.dm.Get(ctx, s.urlBase+strconv.FormatInt(docID, 10))
	if err != nil {
		if te, ok := soap.AsTransportError(err); ok && te.Status == http.StatusNotFound {
			s.logger.Debug("document has no content", zap.Int64("id", docID))
			return nil, nil
		}
		return nil, fmt.Errorf("get latest version of %d: %w", docID, err)
	}
	return &Content{Body: body, Size: size}, nil
}
